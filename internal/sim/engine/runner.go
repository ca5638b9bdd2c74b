package engine

import (
	"context"
	"errors"
	"time"

	"towerdefense.ai/internal/persistence/kvstore"
)

var ErrStopped = errors.New("runner stopped")

// CommandLogEntry is one processed command as recorded by the command log.
type CommandLogEntry struct {
	Seq    uint64    `json:"seq"`
	Tick   uint64    `json:"tick"`
	PKey   [4]uint64 `json:"pkey"`
	Cmd    [4]uint64 `json:"cmd"`
	Op     string    `json:"op"`
	Code   Code      `json:"code"`
	Fatal  string    `json:"fatal,omitempty"`
	Digest string    `json:"digest"`
}

type CommandLogger interface {
	WriteCommand(entry CommandLogEntry) error
}

// Observer sees every processed command on the runner goroutine. It must not
// block or call back into the runner.
type Observer func(entry CommandLogEntry, res Result, elapsed time.Duration)

// SnapshotJob is handed to the snapshot sink every SnapshotEveryTicks ticks.
// Seq is the last command folded into Entries.
type SnapshotJob struct {
	Seq     uint64
	Tick    uint64
	Digest  string
	Entries []kvstore.Entry
}

type Request struct {
	PKey [4]uint64
	Cmd  [4]uint64
	Resp chan Response
}

type Response struct {
	Result Result
	Err    error
	Seq    uint64
	Digest string
}

type query struct {
	fn   func(*Engine)
	done chan struct{}
}

// flushReq hands drained settlement bytes over an unbuffered channel, so the
// runner knows whether the caller took them.
type flushReq struct {
	ctx context.Context
	out chan flushResult
}

type flushResult struct {
	tick uint64
	data []byte
	err  error
}

type RunnerConfig struct {
	// AutoRun injects a Run command at this interval; zero disables it.
	AutoRun time.Duration
	// RunKey is the caller key used for injected Run commands.
	RunKey [4]uint64
	// StartSeq is the sequence number of the last command already applied.
	StartSeq uint64
}

// Runner is the single goroutine that owns an Engine.
type Runner struct {
	eng *Engine
	cfg RunnerConfig

	inbox   chan Request
	queries chan query
	flushes chan flushReq
	stop    chan struct{}

	seq uint64

	// Optional (may be nil).
	cmdLogger    CommandLogger
	observers    []Observer
	snapshotSink chan<- SnapshotJob
}

func NewRunner(eng *Engine, cfg RunnerConfig) *Runner {
	return &Runner{
		eng:     eng,
		cfg:     cfg,
		inbox:   make(chan Request, 1024),
		queries: make(chan query, 64),
		flushes: make(chan flushReq, 8),
		stop:    make(chan struct{}),
		seq:     cfg.StartSeq,
	}
}

func (r *Runner) SetCommandLogger(l CommandLogger)      { r.cmdLogger = l }
func (r *Runner) AddObserver(o Observer)                { r.observers = append(r.observers, o) }
func (r *Runner) SetSnapshotSink(ch chan<- SnapshotJob) { r.snapshotSink = ch }
func (r *Runner) Inbox() chan<- Request                 { return r.inbox }
func (r *Runner) Stop()                                 { close(r.stop) }

func (r *Runner) Seq() uint64 { return r.seq }

// Engine returns the owned engine. Only observers and Query callbacks may
// touch it while Run is active.
func (r *Runner) Engine() *Engine { return r.eng }

func (r *Runner) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if r.cfg.AutoRun > 0 {
		ticker := time.NewTicker(r.cfg.AutoRun)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case req := <-r.inbox:
			resp := r.process(req.PKey, req.Cmd)
			if req.Resp != nil {
				req.Resp <- resp
			}
		case q := <-r.queries:
			q.fn(r.eng)
			close(q.done)
		case f := <-r.flushes:
			r.flush(f)
		case <-tick:
			r.process(r.cfg.RunKey, Command{Op: OpRun}.Words())
		}
	}
}

// StepOnce processes one command synchronously. It must not be used while
// Run is active; replay and tests drive the engine this way.
func (r *Runner) StepOnce(pkey, cmd [4]uint64) Response {
	return r.process(pkey, cmd)
}

func (r *Runner) process(pkey, cmd [4]uint64) Response {
	start := time.Now()
	res, err := r.eng.Process(pkey, cmd)
	elapsed := time.Since(start)

	r.seq++
	entry := CommandLogEntry{
		Seq:    r.seq,
		Tick:   r.eng.Tick(),
		PKey:   pkey,
		Cmd:    cmd,
		Op:     res.Op.String(),
		Code:   res.Code,
		Digest: r.eng.Digest(),
	}
	if err != nil {
		entry.Fatal = err.Error()
	}
	if r.cmdLogger != nil {
		if err := r.cmdLogger.WriteCommand(entry); err != nil {
			r.eng.logger.Printf("command log seq=%d: %v", entry.Seq, err)
		}
	}
	for _, o := range r.observers {
		o(entry, res, elapsed)
	}
	if err == nil && res.Op == OpRun && res.Report != nil {
		r.maybeSnapshot()
	}
	return Response{Result: res, Err: err, Seq: r.seq, Digest: entry.Digest}
}

func (r *Runner) maybeSnapshot() {
	every := uint64(r.eng.tuning.SnapshotEveryTicks)
	if r.snapshotSink == nil || every == 0 || r.eng.Tick()%every != 0 {
		return
	}
	entries, err := r.eng.Dump()
	if err != nil {
		r.eng.logger.Printf("snapshot dump: %v", err)
		return
	}
	job := SnapshotJob{Seq: r.seq, Tick: r.eng.Tick(), Digest: r.eng.Digest(), Entries: entries}
	select {
	case r.snapshotSink <- job:
	default:
	}
}

// Submit queues a command and waits for its response.
func (r *Runner) Submit(ctx context.Context, pkey, cmd [4]uint64) (Response, error) {
	req := Request{PKey: pkey, Cmd: cmd, Resp: make(chan Response, 1)}
	select {
	case r.inbox <- req:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-r.stop:
		return Response{}, ErrStopped
	}
	select {
	case resp := <-req.Resp:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-r.stop:
		return Response{}, ErrStopped
	}
}

func (r *Runner) flush(f flushReq) {
	if f.ctx.Err() != nil {
		return
	}
	prev := r.eng.settle.Clone()
	data, err := r.eng.FlushSettlement()
	select {
	case f.out <- flushResult{tick: r.eng.Tick(), data: data, err: err}:
		return
	case <-f.ctx.Done():
	case <-r.stop:
	}
	if err != nil || len(data) == 0 {
		return
	}
	if err := r.eng.requeueSettlement(prev); err != nil {
		r.eng.logger.Printf("requeue %d settlement events: %v", prev.Pending(), err)
	}
}

// FlushSettlement drains the settlement queue on the runner goroutine. If
// ctx ends before the bytes are handed over, the events stay queued.
func (r *Runner) FlushSettlement(ctx context.Context) (tick uint64, data []byte, err error) {
	f := flushReq{ctx: ctx, out: make(chan flushResult)}
	select {
	case r.flushes <- f:
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-r.stop:
		return 0, nil, ErrStopped
	}
	select {
	case res := <-f.out:
		return res.tick, res.data, res.err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-r.stop:
		return 0, nil, ErrStopped
	}
}

// Query runs fn on the runner goroutine between commands. fn may still run
// after Query returns a context error, so it must not drain state.
func (r *Runner) Query(ctx context.Context, fn func(*Engine)) error {
	q := query{fn: fn, done: make(chan struct{})}
	select {
	case r.queries <- q:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stop:
		return ErrStopped
	}
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stop:
		return ErrStopped
	}
}
