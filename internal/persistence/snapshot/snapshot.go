// Package snapshot writes whole-store backups as zstd files: one JSON header
// line followed by a gob body.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"towerdefense.ai/internal/persistence/kvstore"
)

const Version = 1

var ErrNoSnapshot = errors.New("no snapshot found")

type Header struct {
	Version  int    `json:"version"`
	ServerID uint64 `json:"server_id"`
	// Boot names the command log directory Seq counts in.
	Boot     string `json:"boot"`
	Seq      uint64 `json:"seq"`
	Tick     uint64 `json:"tick"`
	Digest   string `json:"digest"`
	Entries  int    `json:"entries"`
}

type EntryV1 struct {
	Key   [4]uint64
	Words []uint64
}

type SnapshotV1 struct {
	Header  Header
	Entries []EntryV1
}

func FromEntries(h Header, entries []kvstore.Entry) SnapshotV1 {
	out := SnapshotV1{Header: h, Entries: make([]EntryV1, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, EntryV1{Key: e.Key, Words: e.Words})
	}
	out.Header.Version = Version
	out.Header.Entries = len(out.Entries)
	return out
}

// Restore loads the snapshot into store.
func (s SnapshotV1) Restore(store kvstore.Store) error {
	entries := make([]kvstore.Entry, 0, len(s.Entries))
	for _, e := range s.Entries {
		entries = append(entries, kvstore.Entry{Key: e.Key, Words: e.Words})
	}
	return kvstore.Load(store, entries)
}

func PathFor(dir string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.snap.zst", tick))
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 256*1024)
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header != h {
		return snap, fmt.Errorf("header line %+v disagrees with body %+v", h, snap.Header)
	}
	return snap, nil
}

// List returns the periodic snapshots in dir, oldest tick first. A missing
// dir lists as empty.
func List(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	type cand struct {
		tick uint64
		name string
	}
	var cands []cand
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		cands = append(cands, cand{tick: tick, name: name})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].tick < cands[j].tick })
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = filepath.Join(dir, c.name)
	}
	return out, nil
}

// Latest returns the highest-tick snapshot in dir.
func Latest(dir string) (string, error) {
	paths, err := List(dir)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", ErrNoSnapshot
	}
	return paths[len(paths)-1], nil
}
