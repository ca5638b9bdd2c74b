package main

import (
	"strings"
	"testing"

	"towerdefense.ai/internal/persistence/kvstore"
	persistlog "towerdefense.ai/internal/persistence/log"
	"towerdefense.ai/internal/persistence/snapshot"
	"towerdefense.ai/internal/sim/engine"
	"towerdefense.ai/internal/sim/tile"
	"towerdefense.ai/internal/sim/tuning"
)

var (
	authKey  = [4]uint64{0, 0xa, 0xb, 0}
	aliceKey = [4]uint64{0, 1, 2, 0}
)

func cmd(op engine.Op, feature uint8, nonce uint64, a, b, c uint64) [4]uint64 {
	return engine.Command{Op: op, Feature: feature, Nonce: nonce, Args: [3]uint64{a, b, c}}.Words()
}

func testTuning() tuning.Tuning {
	tun := tuning.Defaults()
	tun.MintAuthority = []uint64{0xa, 0xb}
	return tun
}

// record runs a short session into dir and returns the boot snapshot plus
// the final digest.
func record(t *testing.T, dir string) (snapshot.SnapshotV1, string) {
	t.Helper()
	eng, err := engine.New(testTuning(), kvstore.NewMemory(), nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	entries, err := eng.Dump()
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	boot := snapshot.FromEntries(snapshot.Header{Boot: "test", Tick: eng.Tick(), Digest: eng.Digest()}, entries)

	cl := persistlog.NewCommandLogger(dir)
	r := engine.NewRunner(eng, engine.RunnerConfig{})
	r.SetCommandLogger(cl)

	r.StepOnce(authKey, cmd(engine.OpMintTower, 0, 0, 100, 1, 2))
	r.StepOnce(aliceKey, cmd(engine.OpPlaceTower, uint8(tile.Left), 0, 100, uint64(tile.C(2, 1).Index(20)), 0))
	r.StepOnce(aliceKey, cmd(engine.OpPlaceTower, uint8(tile.Left), 1, 100, uint64(tile.C(2, 2).Index(20)), 0))
	for i := 0; i < 40; i++ {
		r.StepOnce(authKey, cmd(engine.OpRun, 0, 0, 0, 0, 0))
	}
	r.StepOnce(aliceKey, cmd(engine.OpCollectRewards, 0, 9, 100, 0, 0))
	if err := cl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return boot, eng.Digest()
}

func TestReplay_ReproducesDigest(t *testing.T) {
	dir := t.TempDir()
	boot, want := record(t, dir)

	res, err := replay(boot, dir, testTuning(), 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Checked != 44 || res.Seq != 44 {
		t.Fatalf("checked=%d seq=%d", res.Checked, res.Seq)
	}
	if res.Digest != want || res.Tick != 40 {
		t.Fatalf("digest=%s tick=%d want %s", res.Digest, res.Tick, want)
	}
}

func TestReplay_StopsAtSeq(t *testing.T) {
	dir := t.TempDir()
	boot, _ := record(t, dir)

	res, err := replay(boot, dir, testTuning(), 13)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Seq != 13 || res.Tick != 10 {
		t.Fatalf("seq=%d tick=%d", res.Seq, res.Tick)
	}
}

func TestReplay_DetectsDivergence(t *testing.T) {
	dir := t.TempDir()
	boot, _ := record(t, dir)

	// Different tower stats change combat, so some RUN digest must differ.
	tun := testTuning()
	tun.TowerLevels[0].Power = 50
	_, err := replay(boot, dir, tun, 0)
	if err == nil || !strings.Contains(err.Error(), "mismatch") {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestReplay_RejectsSeqGap(t *testing.T) {
	dir := t.TempDir()
	eng, err := engine.New(testTuning(), kvstore.NewMemory(), nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	boot := snapshot.FromEntries(snapshot.Header{Digest: eng.Digest()}, nil)

	cl := persistlog.NewCommandLogger(dir)
	_ = cl.WriteCommand(engine.CommandLogEntry{Seq: 2, Op: "RUN"})
	_ = cl.Close()

	if _, err := replay(boot, dir, testTuning(), 0); err == nil || !strings.Contains(err.Error(), "seq gap") {
		t.Fatalf("expected seq gap, got %v", err)
	}
}
