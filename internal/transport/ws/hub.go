package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"towerdefense.ai/internal/protocol"
	"towerdefense.ai/internal/sim/engine"
)

// Hub fans TICK messages out to connected sessions. Slow sessions lose
// ticks instead of stalling the runner.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]chan<- []byte

	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subs: map[string]chan<- []byte{}}
}

func (h *Hub) add(id string, out chan<- []byte) {
	h.mu.Lock()
	h.subs[id] = out
	h.mu.Unlock()
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) Broadcast(b []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, out := range h.subs {
		select {
		case out <- b:
		default:
			h.dropped.Add(1)
		}
	}
}

// Observer broadcasts a TICK after every successful Run.
func (h *Hub) Observer() engine.Observer {
	return func(entry engine.CommandLogEntry, res engine.Result, _ time.Duration) {
		if res.Op != engine.OpRun || res.Report == nil || entry.Fatal != "" {
			return
		}
		if h.Sessions() == 0 {
			return
		}
		b, err := json.Marshal(protocol.NewTick(entry.Seq, entry.Digest, *res.Report))
		if err != nil {
			return
		}
		h.Broadcast(b)
	}
}
