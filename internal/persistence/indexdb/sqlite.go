// Package indexdb keeps a queryable secondary index of commands, ticks and
// snapshots. The JSONL command log stays the source of truth; index writes
// are dropped rather than stalling the engine.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"towerdefense.ai/internal/persistence/snapshot"
	"towerdefense.ai/internal/sim/engine"
	"towerdefense.ai/internal/sim/tuning"
	"towerdefense.ai/internal/sim/world"
)

// Index is implemented by every index backend.
type Index interface {
	WriteCommand(entry engine.CommandLogEntry) error
	WriteTick(rep world.TickReport) error
	RecordSnapshot(path string, h snapshot.Header)
	UpsertTuning(t tuning.Tuning) error
	Close() error
}

var (
	_ Index = (*SQLiteIndex)(nil)
	_ Index = (*RemoteIndex)(nil)
)

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropCommand   uint64 `json:"drop_command_total"`
	DropTick      uint64 `json:"drop_tick_total"`
	DropSnapshot  uint64 `json:"drop_snapshot_total"`
	WriteErrors   uint64 `json:"write_error_total"`
}

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropCommand  atomic.Uint64
	dropTick     atomic.Uint64
	dropSnapshot atomic.Uint64
	writeErrors  atomic.Uint64
}

type reqKind int

const (
	reqCommand reqKind = iota + 1
	reqTick
	reqSnapshot
)

type req struct {
	kind reqKind

	command  engine.CommandLogEntry
	tick     world.TickReport
	snapshot snapshotRow
}

type snapshotRow struct {
	Path   string
	Header snapshot.Header
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tuning (
			digest TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS commands (
			seq INTEGER PRIMARY KEY,
			tick INTEGER NOT NULL,
			pid0 INTEGER NOT NULL,
			pid1 INTEGER NOT NULL,
			op TEXT NOT NULL,
			code INTEGER NOT NULL,
			fatal TEXT,
			digest TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_player ON commands(pid0, pid1, seq);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			damage INTEGER NOT NULL,
			loot INTEGER NOT NULL,
			kills INTEGER NOT NULL,
			spawned INTEGER NOT NULL,
			credits INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			seq INTEGER NOT NULL,
			path TEXT NOT NULL,
			digest TEXT NOT NULL,
			entries INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropCommand:   s.dropCommand.Load(),
		DropTick:      s.dropTick.Load(),
		DropSnapshot:  s.dropSnapshot.Load(),
		WriteErrors:   s.writeErrors.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

func (s *SQLiteIndex) WriteCommand(entry engine.CommandLogEntry) error {
	s.enqueue(req{kind: reqCommand, command: entry}, &s.dropCommand)
	return nil
}

func (s *SQLiteIndex) WriteTick(rep world.TickReport) error {
	s.enqueue(req{kind: reqTick, tick: rep}, &s.dropTick)
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, h snapshot.Header) {
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{Path: path, Header: h}}, &s.dropSnapshot)
}

// UpsertTuning stores the tuning actually applied, keyed by the digest of its
// canonical JSON.
func (s *SQLiteIndex) UpsertTuning(t tuning.Tuning) error {
	if s == nil {
		return nil
	}
	digest, b, err := tuningDigest(t)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning_digest',?)`, digest); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO tuning(digest,json,updated_at) VALUES(?,?,?)`, digest, string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

func tuningDigest(t tuning.Tuning) (string, []byte, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), b, nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertCommand, _ := s.db.Prepare(`INSERT OR REPLACE INTO commands(seq,tick,pid0,pid1,op,code,fatal,digest,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,damage,loot,kills,spawned,credits,raw_json) VALUES(?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,seq,path,digest,entries) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertCommand, insertTick, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrors.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		s.writeErrors.Add(1)
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqCommand:
			c := r.command
			raw, _ := json.Marshal(c)
			var fatal any
			if c.Fatal != "" {
				fatal = c.Fatal
			}
			exec(insertCommand,
				int64(c.Seq),
				int64(c.Tick),
				int64(c.PKey[1]),
				int64(c.PKey[2]),
				c.Op,
				int64(c.Code),
				fatal,
				c.Digest,
				string(raw),
			)

		case reqTick:
			t := r.tick
			raw, _ := json.Marshal(t)
			exec(insertTick,
				int64(t.Tick),
				int64(t.Damage),
				int64(t.Loot),
				int64(t.Kills),
				t.Spawned,
				len(t.Credits),
				string(raw),
			)

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot,
				int64(sn.Header.Tick),
				int64(sn.Header.Seq),
				sn.Path,
				sn.Header.Digest,
				sn.Header.Entries,
			)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
