// Package archive keeps long-lived copies of selected snapshots and prunes the
// rolling snapshot directory.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"towerdefense.ai/internal/persistence/snapshot"
)

type Meta struct {
	Tick      uint64 `json:"tick"`
	Seq       uint64 `json:"seq"`
	Boot      string `json:"boot"`
	ServerID  uint64 `json:"server_id"`
	Digest    string `json:"digest"`
	Snapshot  string `json:"snapshot"`
	CreatedAt string `json:"created_at"`
}

// ArchiveSnapshot copies the snapshot at path into
// <dataDir>/archives/tick_<NNNNNNNNNN>/ when its tick is a multiple of every.
// It returns the archived path and whether a copy was made.
func ArchiveSnapshot(dataDir, path string, h snapshot.Header, every uint64) (string, bool, error) {
	if every == 0 || h.Tick == 0 || h.Tick%every != 0 {
		return "", false, nil
	}
	dir := filepath.Join(dataDir, "archives", fmt.Sprintf("tick_%010d", h.Tick))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, err
	}
	dst := filepath.Join(dir, filepath.Base(path))
	if err := copyFile(path, dst); err != nil {
		return "", false, err
	}

	meta := Meta{
		Tick:      h.Tick,
		Seq:       h.Seq,
		Boot:      h.Boot,
		ServerID:  h.ServerID,
		Digest:    h.Digest,
		Snapshot:  filepath.Base(dst),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", false, err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644); err != nil {
		return "", false, err
	}
	return dst, true, nil
}

// Prune deletes all but the newest keep snapshots in dir and returns the
// removed paths. keep <= 0 disables pruning.
func Prune(dir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	paths, err := snapshot.List(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) <= keep {
		return nil, nil
	}
	var removed []string
	for _, p := range paths[:len(paths)-keep] {
		if err := os.Remove(p); err != nil {
			return removed, err
		}
		removed = append(removed, p)
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
