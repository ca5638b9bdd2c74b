package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"towerdefense.ai/internal/persistence/snapshot"
	"towerdefense.ai/internal/sim/engine"
	"towerdefense.ai/internal/sim/tuning"
	"towerdefense.ai/internal/sim/world"
)

// RemoteConfig configures an index that POSTs batched events to an HTTP
// ingest endpoint.
type RemoteConfig struct {
	Endpoint      string
	Token         string
	ServerID      uint64
	BatchSize     int
	MaxPending    int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Logger        *log.Logger
}

type RemoteStats struct {
	QueueDepth        int    `json:"queue_depth"`
	Pending           int    `json:"pending"`
	FlushOKTotal      uint64 `json:"flush_ok_total"`
	FlushFailTotal    uint64 `json:"flush_fail_total"`
	QueueDroppedTotal uint64 `json:"queue_dropped_total"`
}

type RemoteIndex struct {
	cfg        RemoteConfig
	httpClient *http.Client

	ch   chan remoteEvent
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	pending    atomic.Int64
	flushOK    atomic.Uint64
	flushFail  atomic.Uint64
	queueDrops atomic.Uint64
}

type remoteEvent struct {
	Kind     string `json:"kind"`
	ServerID uint64 `json:"server_id,string"`
	Payload  any    `json:"payload"`
}

type remoteSnapshotPayload struct {
	Path   string          `json:"path"`
	Header snapshot.Header `json:"header"`
}

type remoteTuningPayload struct {
	Digest string `json:"digest"`
	JSON   string `json:"json"`
}

func OpenRemote(cfg RemoteConfig) (*RemoteIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty index ingest endpoint")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 64 * cfg.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	d := &RemoteIndex{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		ch: make(chan remoteEvent, 32768),
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()

	return d, nil
}

func (d *RemoteIndex) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *RemoteIndex) Stats() RemoteStats {
	return RemoteStats{
		QueueDepth:        len(d.ch),
		Pending:           int(d.pending.Load()),
		FlushOKTotal:      d.flushOK.Load(),
		FlushFailTotal:    d.flushFail.Load(),
		QueueDroppedTotal: d.queueDrops.Load(),
	}
}

func (d *RemoteIndex) WriteCommand(entry engine.CommandLogEntry) error {
	d.enqueue(remoteEvent{Kind: "command", Payload: entry})
	return nil
}

func (d *RemoteIndex) WriteTick(rep world.TickReport) error {
	d.enqueue(remoteEvent{Kind: "tick", Payload: rep})
	return nil
}

func (d *RemoteIndex) RecordSnapshot(path string, h snapshot.Header) {
	d.enqueue(remoteEvent{Kind: "snapshot", Payload: remoteSnapshotPayload{Path: path, Header: h}})
}

func (d *RemoteIndex) UpsertTuning(t tuning.Tuning) error {
	digest, b, err := tuningDigest(t)
	if err != nil {
		return err
	}
	d.enqueue(remoteEvent{Kind: "tuning", Payload: remoteTuningPayload{Digest: digest, JSON: string(b)}})
	return nil
}

func (d *RemoteIndex) enqueue(ev remoteEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	ev.ServerID = d.cfg.ServerID
	select {
	case d.ch <- ev:
	default:
		d.queueDrops.Add(1)
		d.printf("index queue full; drop kind=%s", ev.Kind)
	}
}

// loop keeps a failed batch and retries it on the next flush. Once more than
// MaxPending events are held, the oldest are discarded.
func (d *RemoteIndex) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	var batch []remoteEvent
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFail.Add(1)
			d.printf("index flush failed batch=%d err=%v", len(batch), err)
			if over := len(batch) - d.cfg.MaxPending; over > 0 {
				d.queueDrops.Add(uint64(over))
				batch = append(batch[:0], batch[over:]...)
			}
			d.pending.Store(int64(len(batch)))
			return
		}
		d.flushOK.Add(1)
		batch = batch[:0]
		d.pending.Store(0)
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			d.pending.Store(int64(len(batch)))
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *RemoteIndex) sendBatch(events []remoteEvent) error {
	body := struct {
		Events []remoteEvent `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-td-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *RemoteIndex) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
