package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"towerdefense.ai/internal/persistence/kvstore"
	persistlog "towerdefense.ai/internal/persistence/log"
	"towerdefense.ai/internal/persistence/snapshot"
	"towerdefense.ai/internal/sim/engine"
	"towerdefense.ai/internal/sim/tuning"
)

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap.zst (boot or periodic)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		cmdDir     = flag.String("commands", "", "command log dir (default: <data>/commands/<snapshot boot>)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "tuning the commands were recorded with")
		toSeq      = flag.Uint64("to_seq", 0, "stop after this sequence number (0 = end of log)")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	h := snap.Header
	fmt.Printf("snapshot v%d server=%d boot=%s seq=%d tick=%d entries=%d digest=%s\n",
		h.Version, h.ServerID, h.Boot, h.Seq, h.Tick, h.Entries, h.Digest)

	dir := *cmdDir
	if dir == "" {
		if h.Boot == "" {
			fmt.Fprintln(os.Stderr, "snapshot has no boot id; pass -commands")
			os.Exit(2)
		}
		dir = filepath.Join(*dataDir, "commands", h.Boot)
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = tuning.Defaults()
	}

	res, err := replay(snap, dir, tune, *toSeq)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d commands seq=%d tick=%d digest=%s\n", res.Checked, res.Seq, res.Tick, res.Digest)
}

type replayResult struct {
	Checked uint64
	Seq     uint64
	Tick    uint64
	Digest  string
}

// replay rebuilds the store from snap and re-executes every logged command
// after snap.Header.Seq, checking result code and digest as it goes.
func replay(snap snapshot.SnapshotV1, dir string, tune tuning.Tuning, toSeq uint64) (replayResult, error) {
	var out replayResult

	store := kvstore.NewMemory()
	if err := snap.Restore(store); err != nil {
		return out, fmt.Errorf("restore: %w", err)
	}
	eng, err := engine.New(tune, store, log.New(io.Discard, "", 0))
	if err != nil {
		return out, err
	}
	if got := eng.Digest(); got != snap.Header.Digest {
		return out, fmt.Errorf("snapshot digest mismatch: got=%s want=%s", got, snap.Header.Digest)
	}
	r := engine.NewRunner(eng, engine.RunnerConfig{StartSeq: snap.Header.Seq})

	files, err := persistlog.ListFiles(dir, persistlog.CommandPrefix)
	if err != nil {
		return out, fmt.Errorf("list commands: %w", err)
	}
	if len(files) == 0 {
		return out, fmt.Errorf("no command files in %s", dir)
	}

	errDone := errors.New("done")
	next := snap.Header.Seq + 1
	for _, path := range files {
		err := persistlog.ReadLines(path, func(line []byte) error {
			var entry engine.CommandLogEntry
			if err := json.Unmarshal(line, &entry); err != nil {
				return fmt.Errorf("unmarshal: %w", err)
			}
			if entry.Seq < next {
				return nil
			}
			if toSeq != 0 && entry.Seq > toSeq {
				return errDone
			}
			if entry.Seq != next {
				return fmt.Errorf("seq gap: want=%d got=%d", next, entry.Seq)
			}
			resp := r.StepOnce(entry.PKey, entry.Cmd)
			if err := verify(entry, resp); err != nil {
				return err
			}
			next++
			out.Checked++
			return nil
		})
		if errors.Is(err, errDone) {
			break
		}
		if err != nil {
			return out, err
		}
	}

	out.Seq = r.Seq()
	out.Tick = eng.Tick()
	out.Digest = eng.Digest()
	return out, nil
}

func verify(entry engine.CommandLogEntry, resp engine.Response) error {
	if resp.Seq != entry.Seq {
		return fmt.Errorf("internal seq mismatch: stepped=%d entry=%d", resp.Seq, entry.Seq)
	}
	if (resp.Err != nil) != (entry.Fatal != "") {
		return fmt.Errorf("seq %d: fatal mismatch: got=%v want=%q", entry.Seq, resp.Err, entry.Fatal)
	}
	if resp.Result.Code != entry.Code {
		return fmt.Errorf("seq %d: code mismatch: got=%s want=%s", entry.Seq, resp.Result.Code, entry.Code)
	}
	if resp.Digest != entry.Digest {
		return fmt.Errorf("seq %d: digest mismatch: got=%s want=%s", entry.Seq, resp.Digest, entry.Digest)
	}
	return nil
}
