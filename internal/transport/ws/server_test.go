package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"towerdefense.ai/internal/persistence/kvstore"
	"towerdefense.ai/internal/protocol"
	"towerdefense.ai/internal/sim/engine"
	"towerdefense.ai/internal/sim/tuning"
)

func startServer(t *testing.T, cfg Config) (*httptest.Server, *Hub) {
	t.Helper()
	eng, err := engine.New(tuning.Defaults(), kvstore.NewMemory(), nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	r := engine.NewRunner(eng, engine.RunnerConfig{})
	hub := NewHub()
	r.AddObserver(hub.Observer())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = r.Run(ctx) }()

	srv := httptest.NewServer(NewServer(r, hub, cfg, nil).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, hub
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp.Header.Get("X-Session-Id") == "" {
		t.Fatalf("missing session id header")
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readType(t *testing.T, conn *websocket.Conn, typ string) []byte {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read %s: %v", typ, err)
		}
		base, err := protocol.DecodeBase(msg)
		if err == nil && base.Type == typ {
			return msg
		}
	}
}

func TestServer_RunCommandBroadcastsTick(t *testing.T) {
	srv, hub := startServer(t, Config{})
	conn := dial(t, srv)

	deadline := time.Now().Add(2 * time.Second)
	for hub.Sessions() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	run := `{"type":"CMD","id":"r1","pkey":["0","1","2","0"],"cmd":["0","0","0","0"]}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(run)); err != nil {
		t.Fatalf("write: %v", err)
	}

	// TICK is queued by the runner before the RESULT reply.
	got := map[string][]byte{}
	for len(got) < 2 {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (got %v)", err, got)
		}
		base, _ := protocol.DecodeBase(msg)
		got[base.Type] = msg
	}

	var res protocol.ResultMsg
	if err := json.Unmarshal(got[protocol.TypeResult], &res); err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.ID != "r1" || res.Op != "RUN" || res.CodeName != "OK" || res.Tick != 1 || res.Seq != 1 {
		t.Fatalf("result=%+v", res)
	}

	var tick protocol.TickMsg
	if err := json.Unmarshal(got[protocol.TypeTick], &tick); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if tick.Tick != 1 || tick.Digest != res.Digest {
		t.Fatalf("tick=%+v digest=%s", tick, res.Digest)
	}
}

func TestServer_RejectsBadMessages(t *testing.T) {
	srv, _ := startServer(t, Config{CommandsPerSecond: 0.001, Burst: 1})
	conn := dial(t, srv)

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"HELLO"}`))
	var e protocol.ErrorMsg
	_ = json.Unmarshal(readType(t, conn, protocol.TypeError), &e)
	if e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("error=%+v", e)
	}

	// Fatal commands come back as RESULT with an error code.
	bad := `{"type":"CMD","id":"m","pkey":["0","1","2","0"],"cmd":["3","9","1","2"]}`
	_ = conn.WriteMessage(websocket.TextMessage, []byte(bad))
	var res protocol.ResultMsg
	_ = json.Unmarshal(readType(t, conn, protocol.TypeResult), &res)
	if res.Error != protocol.ErrNoPermission {
		t.Fatalf("result=%+v", res)
	}

	_ = conn.WriteMessage(websocket.TextMessage, []byte(bad))
	_ = json.Unmarshal(readType(t, conn, protocol.TypeError), &e)
	if e.Code != protocol.ErrRateLimit || e.ID != "m" {
		t.Fatalf("error=%+v", e)
	}
}
