package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatchNodeInvoke(t *testing.T) {
	g := newTestGateway(t)

	type invocation struct {
		command string
		args    string
	}
	var (
		mu      sync.Mutex
		invokes []invocation
	)
	var events atomic.Int32
	c := startTestClient(t, g, WithHandlers(Handlers{
		NodeInvoke: func(command string, args json.RawMessage) {
			mu.Lock()
			invokes = append(invokes, invocation{command, string(args)})
			mu.Unlock()
		},
		Event: func(*Frame) { events.Add(1) },
	}))
	waitConnected(t, c)

	payload, _ := json.Marshal(map[string]any{
		"command": "read_sensor",
		"args":    map[string]string{"unit": "celsius"},
	})
	g.send(Frame{Type: FrameTypeEvent, Event: EventNodeInvoke, Payload: payload})

	waitUntil(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(invokes) == 1
	}, "node invoke handler not called")

	mu.Lock()
	inv := invokes[0]
	mu.Unlock()
	if inv.command != "read_sensor" {
		t.Errorf("command = %q", inv.command)
	}
	if inv.args != `{"unit":"celsius"}` {
		t.Errorf("args = %s", inv.args)
	}
	// An invoke is not double-dispatched as a general event.
	if events.Load() != 0 {
		t.Errorf("general event callback fired %d times for node.invoke", events.Load())
	}
}

func TestDispatchTracksSequence(t *testing.T) {
	g := newTestGateway(t)

	var events atomic.Int32
	c := startTestClient(t, g, WithHandlers(Handlers{
		Event: func(*Frame) { events.Add(1) },
	}))
	waitConnected(t, c)

	for _, seq := range []int64{1, 2, 5} {
		s := seq
		g.send(Frame{Type: FrameTypeEvent, Event: "agent.delta", Seq: &s})
	}
	waitUntil(t, 2*time.Second, func() bool { return events.Load() == 3 },
		"event callbacks not delivered")

	seq, ok := c.LastSeq()
	if !ok || seq != 5 {
		t.Errorf("LastSeq = %d, %v; want 5, true", seq, ok)
	}
}

func TestDispatchSurvivesHandlerPanic(t *testing.T) {
	g := newTestGateway(t)
	g.handle(MethodHealth, func(json.RawMessage) (any, error) {
		return map[string]string{"status": "ok"}, nil
	})

	c := startTestClient(t, g, WithHandlers(Handlers{
		Event: func(*Frame) { panic("misbehaving handler") },
		NodeInvoke: func(string, json.RawMessage) { panic("misbehaving invoker") },
	}))
	waitConnected(t, c)

	g.send(Frame{Type: FrameTypeEvent, Event: "agent.delta"})
	g.send(Frame{Type: FrameTypeEvent, Event: EventNodeInvoke, Payload: json.RawMessage(`{"command":"x"}`)})
	time.Sleep(50 * time.Millisecond)

	// A panicking handler must not break the connection's frame handling.
	if c.State() != StateConnected {
		t.Fatalf("state = %q after handler panic", c.State())
	}
	if _, err := c.Health(context.Background()); err != nil {
		t.Errorf("health after handler panic: %v", err)
	}
}

func TestDispatchChallengeWithNonStringNonce(t *testing.T) {
	g := newTestGateway(t)

	c := startTestClient(t, g, WithChallengeWait(5*time.Second))
	// A challenge whose nonce is not a string still triggers the handshake,
	// just without a nonce.
	waitUntil(t, 2*time.Second, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return len(g.conns) == 1
	}, "client did not connect")
	g.send(Frame{
		Type:    FrameTypeEvent,
		Event:   EventConnectChallenge,
		Payload: json.RawMessage(`{"nonce":12345}`),
	})

	waitConnected(t, c)
	if p := g.lastConnect(); p.Nonce != "" {
		t.Errorf("nonce = %q, want empty for non-string challenge nonce", p.Nonce)
	}
}
