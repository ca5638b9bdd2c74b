package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLite stores records in a single kv table. Writes are synchronous; the
// engine reads its own writes within a command.
type SQLite struct {
	db *sql.DB

	get *sql.Stmt
	set *sql.Stmt
}

func OpenSQLite(path string) (*SQLite, error) {
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
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		k0 INTEGER NOT NULL,
		k1 INTEGER NOT NULL,
		k2 INTEGER NOT NULL,
		k3 INTEGER NOT NULL,
		data BLOB,
		PRIMARY KEY (k0, k1, k2, k3)
	);`); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLite{db: db}
	if s.get, err = db.Prepare(`SELECT data FROM kv WHERE k0=? AND k1=? AND k2=? AND k3=?`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if s.set, err = db.Prepare(`INSERT OR REPLACE INTO kv(k0,k1,k2,k3,data) VALUES(?,?,?,?,?)`); err != nil {
		_ = s.get.Close()
		_ = db.Close()
		return nil, err
	}
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

// Keys are stored as signed integers; the cast round-trips every uint64.
func keyArgs(k Key) []any {
	return []any{int64(k[0]), int64(k[1]), int64(k[2]), int64(k[3])}
}

func (s *SQLite) Get(k Key) ([]uint64, error) {
	var blob []byte
	err := s.get.QueryRow(keyArgs(k)...).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return []uint64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %s: %w", k, err)
	}
	return DecodeWords(blob)
}

func (s *SQLite) Set(k Key, words []uint64) error {
	if _, err := s.set.Exec(append(keyArgs(k), EncodeWords(words))...); err != nil {
		return fmt.Errorf("kv set %s: %w", k, err)
	}
	return nil
}

// SetBatch applies entries in one transaction.
func (s *SQLite) SetBatch(entries []Entry) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt := tx.Stmt(s.set)
	for _, e := range entries {
		if _, err := stmt.Exec(append(keyArgs(e.Key), EncodeWords(e.Words))...); err != nil {
			return fmt.Errorf("kv set %s: %w", e.Key, err)
		}
	}
	return tx.Commit()
}

// Keys lists stored keys in ascending unsigned order.
func (s *SQLite) Keys() ([]Key, error) {
	rows, err := s.db.Query(`SELECT k0,k1,k2,k3 FROM kv`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Key
	for rows.Next() {
		var a, b, c, d int64
		if err := rows.Scan(&a, &b, &c, &d); err != nil {
			return nil, err
		}
		out = append(out, Key{uint64(a), uint64(b), uint64(c), uint64(d)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortKeys(out)
	return out, nil
}

func (s *SQLite) Close() error {
	_ = s.get.Close()
	_ = s.set.Close()
	return s.db.Close()
}
