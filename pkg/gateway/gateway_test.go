package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// testGateway is an in-process gateway server for exercising the client.
type testGateway struct {
	t   *testing.T
	srv *httptest.Server
	url string

	// Behaviour knobs, set before the client connects.
	sendChallenge bool
	nonce         string
	rejectConnect bool

	mu       sync.Mutex
	conns    []*websocket.Conn
	connects []ConnectParams
	handlers map[string]func(params json.RawMessage) (any, error)
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	g := &testGateway{
		t:        t,
		handlers: make(map[string]func(params json.RawMessage) (any, error)),
	}
	g.srv = httptest.NewServer(http.HandlerFunc(g.handleUpgrade))
	g.url = "ws" + strings.TrimPrefix(g.srv.URL, "http")
	t.Cleanup(g.srv.Close)
	return g
}

func (g *testGateway) handle(method string, fn func(params json.RawMessage) (any, error)) {
	g.mu.Lock()
	g.handlers[method] = fn
	g.mu.Unlock()
}

func (g *testGateway) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.conns = append(g.conns, ws)
	g.mu.Unlock()

	ctx := r.Context()
	if g.sendChallenge {
		payload, _ := json.Marshal(map[string]string{"nonce": g.nonce})
		wsjson.Write(ctx, ws, Frame{Type: FrameTypeEvent, Event: EventConnectChallenge, Payload: payload})
	}

	for {
		var f Frame
		if err := wsjson.Read(ctx, ws, &f); err != nil {
			return
		}
		if f.Type != FrameTypeRequest {
			continue
		}
		g.dispatch(ctx, ws, f)
	}
}

func (g *testGateway) dispatch(ctx context.Context, ws *websocket.Conn, f Frame) {
	if f.Method == MethodConnect {
		var p ConnectParams
		_ = json.Unmarshal(f.Params, &p)
		g.mu.Lock()
		g.connects = append(g.connects, p)
		reject := g.rejectConnect
		g.mu.Unlock()

		if reject {
			wsjson.Write(ctx, ws, Frame{
				Type:  FrameTypeResponse,
				ID:    f.ID,
				Error: &WireError{Code: "AUTH_INVALID", Message: "bad token"},
			})
			return
		}
		payload, _ := json.Marshal(HelloOk{
			Protocol: ProtocolVersion,
			Features: HelloFeatures{Methods: []string{MethodHealth, MethodChatSend}},
			Auth:     HelloAuth{Role: p.Role, Scopes: p.Scopes},
			Policy:   HelloPolicy{TickIntervalMs: 15000},
		})
		wsjson.Write(ctx, ws, Frame{Type: FrameTypeResponse, ID: f.ID, OK: true, Payload: payload})
		return
	}

	g.mu.Lock()
	handler := g.handlers[f.Method]
	g.mu.Unlock()
	if handler == nil {
		wsjson.Write(ctx, ws, Frame{
			Type:  FrameTypeResponse,
			ID:    f.ID,
			Error: &WireError{Message: fmt.Sprintf("method %q not found", f.Method)},
		})
		return
	}
	res, err := handler(f.Params)
	if err != nil {
		wsjson.Write(ctx, ws, Frame{
			Type:  FrameTypeResponse,
			ID:    f.ID,
			Error: &WireError{Message: err.Error()},
		})
		return
	}
	payload, _ := json.Marshal(res)
	wsjson.Write(ctx, ws, Frame{Type: FrameTypeResponse, ID: f.ID, OK: true, Payload: payload})
}

// send pushes a frame to the most recent connection.
func (g *testGateway) send(f Frame) {
	g.sendRaw(mustMarshal(g.t, f))
}

// sendRaw pushes a raw text message to the most recent connection.
func (g *testGateway) sendRaw(data []byte) {
	g.mu.Lock()
	ws := g.conns[len(g.conns)-1]
	g.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		g.t.Logf("test gateway write: %v", err)
	}
}

// closeCurrent closes the most recent connection with a close frame.
func (g *testGateway) closeCurrent(code websocket.StatusCode, reason string) {
	g.mu.Lock()
	ws := g.conns[len(g.conns)-1]
	g.mu.Unlock()
	ws.Close(code, reason)
}

// killCurrent drops the most recent connection without a close frame, so the
// client observes an abnormal closure (1006).
func (g *testGateway) killCurrent() {
	g.mu.Lock()
	ws := g.conns[len(g.conns)-1]
	g.mu.Unlock()
	ws.CloseNow()
}

func (g *testGateway) connectCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.connects)
}

func (g *testGateway) lastConnect() ConnectParams {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.connects) == 0 {
		g.t.Fatal("no connect request received")
	}
	return g.connects[len(g.connects)-1]
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

// waitUntil polls cond until it holds or the timeout elapses.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// startTestClient creates a client against g with fast timers and stops it
// on cleanup. Extra options append to (and may override) the defaults.
func startTestClient(t *testing.T, g *testGateway, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithChallengeWait(25 * time.Millisecond),
		WithBackoff(20*time.Millisecond, 1.5, 300*time.Millisecond),
	}
	c := New(g.url, "test-client", "0.0.1", append(base, opts...)...)
	t.Cleanup(c.Stop)
	c.Start()
	return c
}

func waitConnected(t *testing.T, c *Client) {
	t.Helper()
	waitUntil(t, 3*time.Second, func() bool { return c.State() == StateConnected },
		"client did not reach connected state")
}
