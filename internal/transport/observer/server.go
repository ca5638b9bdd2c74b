// Package observer streams full world state to local viewers after every
// tick. It is read-only and only accepts loopback clients.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"towerdefense.ai/internal/observerproto"
	"towerdefense.ai/internal/protocol"
	"towerdefense.ai/internal/sim/engine"
)

type Server struct {
	runner *engine.Runner
	log    *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.RWMutex
	subs map[string]*subscriber
}

type subscriber struct {
	out    chan []byte
	every  atomic.Int64
	events atomic.Bool
}

func newSubscriber() *subscriber {
	sub := &subscriber{out: make(chan []byte, 8)}
	sub.every.Store(1)
	sub.events.Store(true)
	return sub
}

func (sub *subscriber) apply(m observerproto.SubscribeMsg) {
	every := int64(m.EveryTicks)
	if every < 1 {
		every = 1
	}
	sub.every.Store(every)
	sub.events.Store(m.Events)
}

func NewServer(r *engine.Runner, logger *log.Logger) *Server {
	return &Server{
		runner: r,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: map[string]*subscriber{},
	}
}

// Observer pushes an OBS_TICK frame after every Run. It runs on the runner
// goroutine, so reading the engine here is safe.
func (s *Server) Observer() engine.Observer {
	return func(entry engine.CommandLogEntry, res engine.Result, _ time.Duration) {
		if res.Op != engine.OpRun || entry.Fatal != "" {
			return
		}
		s.mu.RLock()
		defer s.mu.RUnlock()

		// Encoded lazily, once per variant.
		var withEvents, bare []byte
		for _, sub := range s.subs {
			if every := uint64(sub.every.Load()); every > 1 && entry.Tick%every != 0 {
				continue
			}
			events := sub.events.Load()
			b := &bare
			if events {
				b = &withEvents
			}
			if *b == nil {
				enc, err := json.Marshal(s.tickMsg(entry, res, events))
				if err != nil {
					return
				}
				*b = enc
			}
			select {
			case sub.out <- *b:
			default:
				// Viewer is behind; it will catch up on the next tick.
			}
		}
	}
}

func (s *Server) tickMsg(entry engine.CommandLogEntry, res engine.Result, events bool) observerproto.TickMsg {
	v := s.runner.Engine().WorldView()
	if !events {
		v.Events = nil
	}
	return observerproto.TickMsg{
		Type:            observerproto.TypeTick,
		ProtocolVersion: observerproto.Version,
		Tick:            protocol.U64(entry.Tick),
		Seq:             protocol.U64(entry.Seq),
		Digest:          entry.Digest,
		Report:          res.Report,
		World:           v,
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		var resp observerproto.BootstrapResponse
		err := s.runner.Query(r.Context(), func(e *engine.Engine) {
			t := e.Tuning()
			resp = observerproto.BootstrapResponse{
				ProtocolVersion: observerproto.Version,
				ServerID:        protocol.U64(t.ServerID),
				Tick:            protocol.U64(e.Tick()),
				Params:          observerproto.ParamsOf(t),
				World:           e.WorldView(),
			}
		})
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		sub := newSubscriber()
		s.mu.Lock()
		s.subs[sid] = sub
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, sid)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-sub.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: SUBSCRIBE updates settings; anything else is ignored.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var m observerproto.SubscribeMsg
			if json.Unmarshal(msg, &m) == nil && m.Type == observerproto.TypeSubscribe {
				sub.apply(m)
			}
		}

		cancel()
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
