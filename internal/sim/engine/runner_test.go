package engine

import (
	"bytes"
	"context"
	"errors"
	"log"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"towerdefense.ai/internal/persistence/kvstore"
	"towerdefense.ai/internal/sim/settlement"
)

type memLog struct {
	mu      sync.Mutex
	entries []CommandLogEntry
}

func (m *memLog) WriteCommand(e CommandLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func TestRunner_SubmitAndQuery(t *testing.T) {
	e, _ := newEngine(t)
	r := NewRunner(e, RunnerConfig{})
	logs := &memLog{}
	r.SetCommandLogger(logs)
	var observed int
	r.AddObserver(func(CommandLogEntry, Result, time.Duration) { observed++ })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	resp, err := r.Submit(ctx, authKey, cmd(OpMintTower, 0, 0, 100, alice[0], alice[1]))
	if err != nil || resp.Err != nil || resp.Seq != 1 {
		t.Fatalf("mint: %+v %v", resp, err)
	}
	resp, err = r.Submit(ctx, aliceKey, cmd(OpCollectRewards, 0, 5, 100, 0, 0))
	if err != nil || !IsFatal(resp.Err) {
		t.Fatalf("expected fatal nonce error, got %+v %v", resp, err)
	}
	resp, err = r.Submit(ctx, authKey, cmd(OpRun, 0, 0, 0, 0, 0))
	if err != nil || resp.Result.Tick != 1 {
		t.Fatalf("run: %+v %v", resp, err)
	}

	var nonce uint64
	if err := r.Query(ctx, func(e *Engine) {
		p, _ := e.Player(alice)
		nonce = p.Nonce
	}); err != nil {
		t.Fatalf("query: %v", err)
	}
	if nonce != 0 {
		t.Fatalf("nonce=%d", nonce)
	}

	r.Stop()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
	if observed != 3 {
		t.Fatalf("observed %d", observed)
	}
	if len(logs.entries) != 3 || logs.entries[1].Fatal == "" || logs.entries[2].Op != "RUN" {
		t.Fatalf("log entries %+v", logs.entries)
	}
	if logs.entries[2].Digest != e.Digest() {
		t.Fatalf("logged digest differs from engine")
	}
}

func TestRunner_AutoRunAndSnapshots(t *testing.T) {
	e, _ := newEngine(t)
	e.tuning.SnapshotEveryTicks = 2
	r := NewRunner(e, RunnerConfig{AutoRun: time.Millisecond})
	sink := make(chan SnapshotJob, 16)
	r.SetSnapshotSink(sink)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	select {
	case job := <-sink:
		if job.Tick != 2 || job.Seq != 2 || len(job.Entries) == 0 || job.Digest == "" {
			t.Fatalf("job %+v", job)
		}
	case <-ctx.Done():
		t.Fatalf("no snapshot job")
	}
	r.Stop()
}

func TestRunner_StepOnceMatchesProcess(t *testing.T) {
	a, _ := newEngine(t)
	b, _ := newEngine(t)
	r := NewRunner(a, RunnerConfig{})
	for i := 0; i < 12; i++ {
		resp := r.StepOnce(authKey, cmd(OpRun, 0, 0, 0, 0, 0))
		if _, err := b.Process(authKey, cmd(OpRun, 0, 0, 0, 0, 0)); err != nil {
			t.Fatalf("process: %v", err)
		}
		if resp.Digest != b.Digest() {
			t.Fatalf("tick %d digests differ", i+1)
		}
	}
}

type failingLog struct{}

func (failingLog) WriteCommand(CommandLogEntry) error { return errors.New("disk full") }

func TestRunner_LogsCommandLogFailure(t *testing.T) {
	e, _ := newEngine(t)
	var buf bytes.Buffer
	e.logger = log.New(&buf, "", 0)
	r := NewRunner(e, RunnerConfig{})
	r.SetCommandLogger(failingLog{})

	resp := r.StepOnce(authKey, cmd(OpRun, 0, 0, 0, 0, 0))
	if resp.Err != nil || resp.Seq != 1 {
		t.Fatalf("run: %+v", resp)
	}
	if !strings.Contains(buf.String(), "command log seq=1: disk full") {
		t.Fatalf("log output %q", buf.String())
	}
}

// queuedWithdraw leaves one withdrawal pending and returns its settlement bytes.
func queuedWithdraw(t *testing.T) (*Engine, *kvstore.Memory, []byte) {
	t.Helper()
	e, store := newEngine(t)
	mint(t, e, 100, 0, alice)
	setReward(t, store, 100, 500)
	mustOK(t, e, aliceKey, cmd(OpCollectRewards, 0, 0, 100, 0, 0))
	w1 := uint64(0xdeadbeef)<<32 | 200
	mustOK(t, e, aliceKey, cmd(OpWithdrawRewards, 0, 1, w1, 7, 9))
	return e, store, settlement.WithdrawFromLimbs(w1, 7, 9).AppendTo(nil)
}

func TestRunner_ExpiredFlushKeepsSettlement(t *testing.T) {
	e, _, want := queuedWithdraw(t)
	r := NewRunner(e, RunnerConfig{})

	// The request is queued before the runner starts and expires unanswered.
	expired, cancelExpired := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelExpired()
	if _, _, err := r.FlushSettlement(expired); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	tick, got, err := r.FlushSettlement(ctx)
	if err != nil || !bytes.Equal(got, want) {
		t.Fatalf("flush after expiry: %x want %x (%v)", got, want, err)
	}
	if tick != 0 {
		t.Fatalf("tick=%d", tick)
	}
	if _, got, _ = r.FlushSettlement(ctx); len(got) != 0 {
		t.Fatalf("withdrawal flushed twice: %x", got)
	}
	r.Stop()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
}

func TestRunner_AbandonedFlushRequeues(t *testing.T) {
	e, store, want := queuedWithdraw(t)
	r := NewRunner(e, RunnerConfig{})
	stored, _ := store.Get(SettlementKey)

	ctx, cancel := context.WithCancel(context.Background())
	f := flushReq{ctx: ctx, out: make(chan flushResult)}
	finished := make(chan struct{})
	go func() {
		r.flush(f)
		close(finished)
	}()

	// Nobody receives f.out; wait for the drain to reach the store, then give up.
	deadline := time.Now().Add(3 * time.Second)
	for {
		words, _ := store.Get(SettlementKey)
		if len(words) == 2 && words[0] == 0 && words[1] == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("flush never drained the stored queue: %v", words)
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-finished

	if words, _ := store.Get(SettlementKey); !slices.Equal(words, stored) {
		t.Fatalf("stored queue %v want %v", words, stored)
	}
	if e.PendingSettlement() != 1 {
		t.Fatalf("pending=%d", e.PendingSettlement())
	}
	if got, err := e.FlushSettlement(); err != nil || !bytes.Equal(got, want) {
		t.Fatalf("requeued settlement %x want %x (%v)", got, want, err)
	}
}
