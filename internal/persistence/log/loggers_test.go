package log

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"towerdefense.ai/internal/sim/engine"
	"towerdefense.ai/internal/sim/world"
)

func TestCommandLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewCommandLogger(dir)
	for i := uint64(1); i <= 3; i++ {
		if err := l.WriteCommand(engine.CommandLogEntry{Seq: i, Tick: i, Op: "RUN", Digest: "d"}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListFiles(dir, CommandPrefix)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("files=%v", files)
	}
	var seqs []uint64
	err = ReadLines(files[0], func(line []byte) error {
		var e engine.CommandLogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		seqs = append(seqs, e.Seq)
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(seqs) != 3 || seqs[0] != 1 || seqs[2] != 3 {
		t.Fatalf("seqs=%v", seqs)
	}
}

func TestWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, TickPrefix)
	at := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return at }
	var closed []string
	w.OnClosed(func(path string) { closed = append(closed, path) })
	if err := w.Write(world.TickReport{Tick: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	at = at.Add(2 * time.Minute)
	if err := w.Write(world.TickReport{Tick: 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListFiles(dir, TickPrefix)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{
		filepath.Join(dir, "ticks-2024-05-01-10.jsonl.zst"),
		filepath.Join(dir, "ticks-2024-05-01-11.jsonl.zst"),
	}
	if len(files) != 2 || files[0] != want[0] || files[1] != want[1] {
		t.Fatalf("files=%v want %v", files, want)
	}
	if len(closed) != 2 || closed[0] != want[0] || closed[1] != want[1] {
		t.Fatalf("closed=%v want %v", closed, want)
	}
	var ticks []uint64
	for _, f := range files {
		if err := ReadLines(f, func(line []byte) error {
			var r world.TickReport
			if err := json.Unmarshal(line, &r); err != nil {
				return err
			}
			ticks = append(ticks, r.Tick)
			return nil
		}); err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
	}
	if len(ticks) != 2 || ticks[0] != 1 || ticks[1] != 2 {
		t.Fatalf("ticks=%v", ticks)
	}
}
