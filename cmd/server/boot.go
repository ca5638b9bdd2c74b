package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"towerdefense.ai/internal/persistence/archive"
	"towerdefense.ai/internal/persistence/indexdb"
	persistlog "towerdefense.ai/internal/persistence/log"
	"towerdefense.ai/internal/persistence/objstore"
	"towerdefense.ai/internal/persistence/snapshot"
	"towerdefense.ai/internal/sim/engine"
)

// BootSnapshotName is the store snapshot taken before the first command of a
// boot. Replay starts from it.
const BootSnapshotName = "boot.snap.zst"

// newBootID names a command log directory: UTC start time plus a short random
// suffix so restarts within one second never collide.
func newBootID(now time.Time) string {
	return now.UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
}

// writeBootSnapshot persists the store as it is before any command of this
// boot runs.
func writeBootSnapshot(dir, boot string, serverID uint64, eng *engine.Engine) (snapshot.Header, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return snapshot.Header{}, err
	}
	entries, err := eng.Dump()
	if err != nil {
		return snapshot.Header{}, err
	}
	snap := snapshot.FromEntries(snapshot.Header{
		ServerID: serverID,
		Boot:     boot,
		Tick:     eng.Tick(),
		Digest:   eng.Digest(),
	}, entries)
	return snap.Header, snapshot.WriteSnapshot(filepath.Join(dir, BootSnapshotName), snap)
}

// snapshotWriter persists periodic snapshot jobs off the runner goroutine,
// then archives, prunes and mirrors them.
type snapshotWriter struct {
	dataDir  string
	dir      string
	boot     string
	serverID uint64

	archiveEvery uint64
	keep         int

	idx    indexdb.Index
	mirror *objstore.Mirror
	logger *log.Logger
}

func (w *snapshotWriter) run(ctx context.Context, jobs <-chan engine.SnapshotJob) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-jobs:
			if err := w.write(job); err != nil {
				w.logger.Printf("snapshot tick=%d: %v", job.Tick, err)
			}
		}
	}
}

func (w *snapshotWriter) write(job engine.SnapshotJob) error {
	snap := snapshot.FromEntries(snapshot.Header{
		ServerID: w.serverID,
		Boot:     w.boot,
		Seq:      job.Seq,
		Tick:     job.Tick,
		Digest:   job.Digest,
	}, job.Entries)
	path := snapshot.PathFor(w.dir, job.Tick)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return err
	}
	if w.idx != nil {
		w.idx.RecordSnapshot(path, snap.Header)
	}
	w.mirror.Enqueue(path)

	archived, ok, err := archive.ArchiveSnapshot(w.dataDir, path, snap.Header, w.archiveEvery)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if ok {
		w.logger.Printf("archived snapshot tick=%d -> %s", job.Tick, archived)
		w.mirror.Enqueue(archived)
		w.mirror.Enqueue(filepath.Join(filepath.Dir(archived), "meta.json"))
	}
	if _, err := archive.Prune(w.dir, w.keep); err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	return nil
}

type multiCommandLogger []engine.CommandLogger

func (m multiCommandLogger) WriteCommand(entry engine.CommandLogEntry) error {
	for _, l := range m {
		if l != nil {
			_ = l.WriteCommand(entry)
		}
	}
	return nil
}

// tickObserver forwards each Run report to the tick log and the index.
func tickObserver(tl *persistlog.TickLogger, idx indexdb.Index) engine.Observer {
	return func(entry engine.CommandLogEntry, res engine.Result, _ time.Duration) {
		if res.Report == nil || entry.Fatal != "" {
			return
		}
		rep := *res.Report
		_ = tl.WriteTick(rep)
		if idx != nil {
			_ = idx.WriteTick(rep)
		}
	}
}
