package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"towerdefense.ai/internal/protocol"
	"towerdefense.ai/internal/sim/engine"
)

type Config struct {
	// CommandsPerSecond limits each session; zero disables the limit.
	CommandsPerSecond float64
	Burst             int
	SubmitTimeout     time.Duration
}

type Server struct {
	runner *engine.Runner
	hub    *Hub
	cfg    Config
	log    *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(r *engine.Runner, hub *Hub, cfg Config, logger *log.Logger) *Server {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 5 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 16
	}
	return &Server{
		runner: r,
		hub:    hub,
		cfg:    cfg,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		sid := uuid.NewString()
		conn, err := s.upgrader.Upgrade(rw, r, http.Header{"X-Session-Id": []string{sid}})
		if err != nil {
			return
		}
		defer conn.Close()

		out := make(chan []byte, 64)
		s.hub.add(sid, out)
		defer s.hub.remove(sid)
		if s.log != nil {
			s.log.Printf("session %s connected from %s", sid, r.RemoteAddr)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeDone := make(chan struct{})
		go func() {
			defer close(writeDone)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		var limiter *rate.Limiter
		if s.cfg.CommandsPerSecond > 0 {
			limiter = rate.NewLimiter(rate.Limit(s.cfg.CommandsPerSecond), s.cfg.Burst)
		}

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			reply := s.handle(ctx, msg, limiter)
			b, err := json.Marshal(reply)
			if err != nil {
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}

		cancel()
		<-writeDone
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		if s.log != nil {
			s.log.Printf("session %s closed", sid)
		}
	}
}

func (s *Server) handle(ctx context.Context, msg []byte, limiter *rate.Limiter) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeCommand {
		return protocol.NewError("", protocol.ErrProtoBadRequest, "expected CMD")
	}
	cmd, err := protocol.ValidateCommand(msg)
	if err != nil {
		return protocol.NewError("", protocol.ErrProtoBadRequest, err.Error())
	}
	if limiter != nil && !limiter.Allow() {
		return protocol.NewError(cmd.ID, protocol.ErrRateLimit, "too many commands")
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	defer cancel()
	resp, err := s.runner.Submit(sctx, cmd.PKey.Uint64s(), cmd.Cmd.Uint64s())
	if err != nil {
		return protocol.NewError(cmd.ID, protocol.ErrBusy, err.Error())
	}
	return protocol.NewResult(cmd.ID, resp.Seq, resp.Digest, resp.Result, resp.Err)
}
