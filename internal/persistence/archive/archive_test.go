package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"towerdefense.ai/internal/persistence/snapshot"
)

func TestArchiveSnapshot_CopiesOnBoundary(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "snapshots", "2000.snap.zst")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	want := []byte("dummy")
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	h := snapshot.Header{Version: 1, Boot: "b1", Seq: 77, Tick: 2000, Digest: "dd"}
	if _, ok, err := ArchiveSnapshot(dir, src, h, 3000); err != nil || ok {
		t.Fatalf("off-boundary archived: ok=%v err=%v", ok, err)
	}
	if _, ok, err := ArchiveSnapshot(dir, src, h, 0); err != nil || ok {
		t.Fatalf("disabled archived: ok=%v err=%v", ok, err)
	}

	archived, ok, err := ArchiveSnapshot(dir, src, h, 1000)
	if err != nil || !ok {
		t.Fatalf("archive: ok=%v err=%v", ok, err)
	}
	if archived != filepath.Join(dir, "archives", "tick_0000002000", "2000.snap.zst") {
		t.Fatalf("archived=%s", archived)
	}
	got, err := os.ReadFile(archived)
	if err != nil || string(got) != string(want) {
		t.Fatalf("archived content=%q err=%v", got, err)
	}

	raw, err := os.ReadFile(filepath.Join(filepath.Dir(archived), "meta.json"))
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	var m Meta
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("meta json: %v", err)
	}
	if m.Tick != 2000 || m.Seq != 77 || m.Boot != "b1" || m.Snapshot != "2000.snap.zst" {
		t.Fatalf("meta=%+v", m)
	}
}

func TestPrune_KeepsNewest(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"100.snap.zst", "300.snap.zst", "200.snap.zst", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	removed, err := Prune(dir, 2)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(removed) != 1 || filepath.Base(removed[0]) != "100.snap.zst" {
		t.Fatalf("removed=%v", removed)
	}
	left, _ := snapshot.List(dir)
	if len(left) != 2 || filepath.Base(left[0]) != "200.snap.zst" {
		t.Fatalf("left=%v", left)
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Fatalf("non-snapshot removed: %v", err)
	}
	if removed, err := Prune(dir, 0); err != nil || removed != nil {
		t.Fatalf("keep=0: %v %v", removed, err)
	}
}
