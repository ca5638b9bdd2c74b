package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"towerdefense.ai/internal/persistence/kvstore"
	"towerdefense.ai/internal/persistence/snapshot"
	"towerdefense.ai/internal/sim/engine"
	"towerdefense.ai/internal/sim/tuning"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "flush":
			flushCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints boots and periodic snapshots under the data dir.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	for _, sub := range []string{"commands", "snapshots"} {
		entries, err := os.ReadDir(filepath.Join(*dataDir, sub))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		for _, e := range entries {
			fmt.Println(filepath.Join(sub, e.Name()))
		}
	}
}

// inspectCmd decodes committed state from a state db or a snapshot. The
// source is copied into memory first so the live store is never written.
func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "state sqlite path (default: <data>/state.sqlite)")
	snapPath := fs.String("snapshot", "", "read a .snap.zst instead of the state db")
	tuningPath := fs.String("tuning", "./configs/tuning.yaml", "tuning the state was built with")
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: admin inspect [-db PATH|-snapshot PATH] world|player PID0 PID1|inventory ID|settlement")
		os.Exit(2)
	}

	mem, err := loadState(*dataDir, *dbPath, *snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load:", err)
		os.Exit(1)
	}
	tune, err := tuning.Load(*tuningPath)
	if errors.Is(err, os.ErrNotExist) {
		tune, err = tuning.Defaults(), nil
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "tuning:", err)
		os.Exit(1)
	}
	eng, err := engine.New(tune, mem, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "engine:", err)
		os.Exit(1)
	}

	switch fs.Arg(0) {
	case "world":
		printJSON(eng.WorldView())
	case "player":
		pid, err := parseWords(fs.Args()[1:], 2)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad pid:", err)
			os.Exit(2)
		}
		v, err := eng.PlayerView([2]uint64{pid[0], pid[1]})
		if err != nil {
			fmt.Fprintln(os.Stderr, "player:", err)
			os.Exit(1)
		}
		printJSON(v)
	case "inventory":
		id, err := parseWords(fs.Args()[1:], 1)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad id:", err)
			os.Exit(2)
		}
		io, found, err := eng.Inventory(id[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, "inventory:", err)
			os.Exit(1)
		}
		if !found {
			fmt.Fprintln(os.Stderr, "inventory not found")
			os.Exit(1)
		}
		printJSON(io)
	case "settlement":
		recs, err := eng.PendingSettlementRecords()
		if err != nil {
			fmt.Fprintln(os.Stderr, "settlement:", err)
			os.Exit(1)
		}
		printJSON(recs)
	default:
		fmt.Fprintln(os.Stderr, "unknown target:", fs.Arg(0))
		os.Exit(2)
	}
}

func loadState(dataDir, dbPath, snapPath string) (*kvstore.Memory, error) {
	mem := kvstore.NewMemory()
	if snapPath != "" {
		snap, err := snapshot.ReadSnapshot(snapPath)
		if err != nil {
			return nil, err
		}
		return mem, snap.Restore(mem)
	}
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "state.sqlite")
	}
	if _, err := os.Stat(dbPath); err != nil {
		return nil, err
	}
	db, err := kvstore.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	entries, err := kvstore.Dump(db)
	if err != nil {
		return nil, err
	}
	return mem, kvstore.Load(mem, entries)
}

// snapshotCmd prints a snapshot header, optionally with every entry.
func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	entries := fs.Bool("entries", false, "also print every key/value entry")
	_ = fs.Parse(args)

	path := fs.Arg(0)
	if path == "" || path == "latest" {
		p, err := snapshot.Latest(filepath.Join(*dataDir, "snapshots"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "latest:", err)
			os.Exit(1)
		}
		path = p
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	printJSON(snap.Header)
	if !*entries {
		return
	}
	for _, e := range snap.Entries {
		printJSON(struct {
			Key   string   `json:"key"`
			Words []uint64 `json:"words"`
		}{kvstore.Key(e.Key).String(), e.Words})
	}
}

func parseWords(args []string, n int) ([]uint64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("want %d values, got %d", n, len(args))
	}
	out := make([]uint64, n)
	for i, a := range args {
		v, err := strconv.ParseUint(strings.TrimSpace(a), 0, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
