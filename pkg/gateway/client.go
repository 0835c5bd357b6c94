// Package gateway implements the client side of the helix gateway protocol:
// a persistent, reconnecting WebSocket channel carrying tagged JSON frames
// (events, requests, responses) with request/response correlation, an
// optional challenge/nonce handshake, and geometric reconnect backoff.
//
// A Client owns exactly one socket at a time. All connection state (socket
// handle, nonce, handshake flag, timers) is guarded by a single mutex and the
// socket is replaced, never mutated, on reconnect. Application code talks to
// the gateway only through Request, the typed RPC wrappers, and the Handlers
// callbacks.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// State is the connection lifecycle state of a Client.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateHandshakeSent State = "handshake_sent"
	StateConnected     State = "connected"
	StateClosed        State = "closed" // terminal, after Stop
)

const (
	defaultChallengeWait = 750 * time.Millisecond
	dialTimeout          = 10 * time.Second
	writeTimeout         = 10 * time.Second
	maxFrameSize         = 1 << 20

	tracerName = "helix-client/gateway"
)

// MethodConnect is the handshake RPC method.
const MethodConnect = "connect"

// Client is a gateway protocol client. Create one with New, then call Start.
type Client struct {
	url      string
	name     string
	version  string
	clientID string
	platform string

	token     string
	password  string
	role      Role
	caps      []string
	userAgent string
	locale    string

	challengeWait time.Duration
	handlers      Handlers
	logger        *slog.Logger
	limiter       *rate.Limiter
	pending       *pendingTable

	mu             sync.Mutex
	state          State
	ws             *websocket.Conn
	connectNonce   string
	connectSent    bool
	backoff        backoff
	challengeTimer *time.Timer
	reconnectTimer *time.Timer
	lastSeq        int64
	haveSeq        bool
	stopped        bool
}

// New creates a gateway client for the given WebSocket URL. The name and
// version identify this client to the server (user-agent and handshake).
// The client does not connect until Start is called.
func New(url, name, version string, opts ...Option) *Client {
	c := &Client{
		url:           url,
		name:          name,
		version:       version,
		role:          RoleDual,
		caps:          []string{"system", "clipboard"},
		platform:      runtime.GOOS + "/" + runtime.GOARCH,
		challengeWait: defaultChallengeWait,
		backoff:       newBackoff(),
		pending:       newPendingTable(),
		logger:        slog.Default(),
		state:         StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clientID == "" {
		c.clientID = newRequestID()
	}
	if c.userAgent == "" {
		c.userAgent = fmt.Sprintf("%s/%s (%s)", name, version, c.platform)
	}
	return c
}

// Start begins connecting. It returns immediately; connection progress is
// reported through the Handlers callbacks. Calling Start on a stopped or
// already-started client is a no-op.
func (c *Client) Start() {
	c.mu.Lock()
	if c.stopped || c.state != StateDisconnected || c.reconnectTimer != nil {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()
	go c.connect()
}

// Stop tears the client down: cancels the challenge and reconnect timers,
// closes the socket, and rejects every pending request. No reconnect is
// scheduled afterwards. Idempotent.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.state = StateClosed
	if c.challengeTimer != nil {
		c.challengeTimer.Stop()
		c.challengeTimer = nil
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		ws.Close(websocket.StatusNormalClosure, "client stopped")
	}
	c.pending.drain(ErrStopped)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ClientID returns the identifier sent in the handshake.
func (c *Client) ClientID() string { return c.clientID }

// LastSeq returns the most recent sequence number observed on an event frame
// for the current connection, and whether one has been seen. Sequence numbers
// do not carry across reconnects.
func (c *Client) LastSeq() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq, c.haveSeq
}

// Request sends a generic RPC request and blocks until the matching response
// arrives, the connection drops, or ctx is done. It fails immediately with
// ErrNotConnected when no socket is open. This layer imposes no per-request
// timeout; bound the wait through ctx if needed.
func (c *Client) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "gateway.request",
		trace.WithAttributes(attribute.String("rpc.method", method)))
	defer span.End()

	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode %s params: %w", method, err)
		}
		raw = b
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		span.SetStatus(codes.Error, ErrNotConnected.Error())
		return nil, ErrNotConnected
	}

	id := newRequestID()
	ch := c.pending.add(id)
	frame := Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}
	if err := c.writeFrame(ws, frame); err != nil {
		c.pending.remove(id)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("gateway write %s: %w", method, err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			var rpcErr *RPCError
			if errors.As(r.err, &rpcErr) && rpcErr.Method == "" {
				rpcErr.Method = method
			}
			span.RecordError(r.err)
			span.SetStatus(codes.Error, r.err.Error())
			return nil, r.err
		}
		span.SetStatus(codes.Ok, "")
		return r.payload, nil
	case <-ctx.Done():
		c.pending.remove(id)
		return nil, ctx.Err()
	}
}

// Call sends a request and decodes the response payload into T.
func Call[T any](ctx context.Context, c *Client, method string, params any) (T, error) {
	var out T
	payload, err := c.Request(ctx, method, params)
	if err != nil {
		return out, err
	}
	if len(payload) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("decode %s response: %w", method, err)
	}
	return out, nil
}

// connect opens a fresh socket. Construction failure is treated like any
// later connect failure: report and schedule a retry.
func (c *Client) connect() {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	ws, _, err := websocket.Dial(ctx, c.url, nil)
	cancel()
	if err != nil {
		c.mu.Lock()
		if !c.stopped {
			// Stop during the dial already set the terminal state.
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		c.reportError(fmt.Errorf("gateway dial %s: %w", c.url, err))
		c.scheduleReconnect()
		return
	}
	ws.SetReadLimit(maxFrameSize)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		ws.Close(websocket.StatusNormalClosure, "client stopped")
		return
	}
	c.ws = ws
	c.connectNonce = ""
	c.connectSent = false
	c.lastSeq = 0
	c.haveSeq = false
	// Give the server a bounded window to push a connect.challenge before
	// sending the handshake without a nonce.
	c.challengeTimer = time.AfterFunc(c.challengeWait, func() { c.sendConnect(ws) })
	c.mu.Unlock()

	go c.readLoop(ws)
}

// sendConnect sends the handshake request for ws at most once per connection.
// It is triggered by the connect.challenge event or by the challenge-wait
// timer, whichever fires first; the loser is a no-op.
func (c *Client) sendConnect(ws *websocket.Conn) {
	c.mu.Lock()
	if c.stopped || c.ws != ws || c.connectSent {
		c.mu.Unlock()
		return
	}
	c.connectSent = true
	if c.challengeTimer != nil {
		c.challengeTimer.Stop()
		c.challengeTimer = nil
	}
	nonce := c.connectNonce
	c.state = StateHandshakeSent
	c.mu.Unlock()

	params := ConnectParams{
		MinProtocol: ProtocolVersion,
		MaxProtocol: ProtocolVersion,
		Client: ClientIdentity{
			ID:       c.clientID,
			Version:  c.version,
			Platform: c.platform,
			Mode:     c.role.Mode(),
		},
		Role:      c.role,
		Scopes:    c.role.Scopes(),
		Caps:      c.caps,
		Token:     c.token,
		Password:  c.password,
		UserAgent: c.userAgent,
		Locale:    c.locale,
		Nonce:     nonce,
	}
	raw, err := json.Marshal(params)
	if err != nil {
		c.reportError(fmt.Errorf("encode connect params: %w", err))
		return
	}

	id := newRequestID()
	ch := c.pending.add(id)
	frame := Frame{Type: FrameTypeRequest, ID: id, Method: MethodConnect, Params: raw}
	if err := c.writeFrame(ws, frame); err != nil {
		c.pending.remove(id)
		// The socket is broken; the read loop will observe the close and
		// drive reconnection.
		c.reportError(fmt.Errorf("gateway handshake write: %w", err))
		return
	}
	go c.awaitHello(ws, ch)
}

// awaitHello waits for the handshake response. The handshake travels through
// the same pending table as every other request, so a disconnect rejects it
// like any pending call.
func (c *Client) awaitHello(ws *websocket.Conn, ch chan result) {
	r := <-ch
	if r.err != nil {
		var rpcErr *RPCError
		if errors.As(r.err, &rpcErr) {
			// Server rejected the handshake: force-close with the dedicated
			// code and let the normal close path schedule the reconnect.
			c.reportError(fmt.Errorf("%w: %s", ErrHandshakeFailed, rpcErr.Error()))
			ws.Close(websocket.StatusCode(CloseCodeConnectFailed), "connect failed")
		}
		return
	}

	var hello HelloOk
	if len(r.payload) > 0 {
		if err := json.Unmarshal(r.payload, &hello); err != nil {
			c.reportError(fmt.Errorf("%w: decode hello: %v", ErrHandshakeFailed, err))
			ws.Close(websocket.StatusCode(CloseCodeConnectFailed), "connect failed")
			return
		}
	}

	c.mu.Lock()
	if c.stopped || c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.backoff.Reset()
	c.mu.Unlock()

	c.logger.Info("gateway connected", "url", c.url, "protocol", hello.Protocol)
	if c.handlers.Hello != nil {
		c.safeCall("hello", func() { c.handlers.Hello(&hello) })
	}
	if c.handlers.Connected != nil {
		c.safeCall("connected", func() { c.handlers.Connected() })
	}
}

// readLoop processes inbound frames for one socket in strict arrival order.
func (c *Client) readLoop(ws *websocket.Conn) {
	ctx := context.Background()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			code := int(websocket.CloseStatus(err))
			reason := ""
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				code = int(ce.Code)
				reason = ce.Reason
			}
			if code < 0 {
				code = int(websocket.StatusAbnormalClosure)
			}
			c.handleClose(ws, code, reason)
			return
		}
		c.handleFrame(ws, data)
	}
}

func (c *Client) handleFrame(ws *websocket.Conn, data []byte) {
	frame, err := decodeFrame(data)
	if err != nil {
		// One corrupt frame must not kill the session.
		c.logger.Debug("dropping malformed frame", "error", err)
		return
	}
	switch frame.Type {
	case FrameTypeResponse:
		c.resolveResponse(frame)
	case FrameTypeEvent:
		c.dispatchEvent(ws, frame)
	default:
		// Remote invocations arrive as node.invoke events, not request
		// frames, so inbound requests have no meaning here.
		c.logger.Debug("ignoring inbound request frame", "method", frame.Method)
	}
}

// resolveResponse settles the pending entry matching a response frame.
// Unknown IDs (late, duplicate, or stale after a reconnect) are dropped.
func (c *Client) resolveResponse(f *Frame) {
	r := result{payload: f.Payload}
	if !f.OK {
		rpcErr := &RPCError{Message: "request failed"}
		if f.Error != nil {
			rpcErr.Code = f.Error.Code
			rpcErr.Details = f.Error.Details
			if f.Error.Message != "" {
				rpcErr.Message = f.Error.Message
			}
		}
		r = result{err: rpcErr}
	}
	if !c.pending.settle(f.ID, r) {
		c.logger.Debug("dropping response with unknown id", "id", f.ID)
	}
}

// handleClose runs once per socket when its read loop ends. It rejects all
// pending requests, informs the application, and schedules a reconnect
// unless the client was stopped.
func (c *Client) handleClose(ws *websocket.Conn, code int, reason string) {
	c.mu.Lock()
	if c.ws != ws {
		// A newer connection superseded this socket (or Stop already
		// cleared it); its close was handled elsewhere.
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.state = StateDisconnected
	if c.challengeTimer != nil {
		c.challengeTimer.Stop()
		c.challengeTimer = nil
	}
	stopped := c.stopped
	c.mu.Unlock()

	c.pending.drain(&CloseError{Code: code, Reason: reason})
	c.logger.Info("gateway disconnected", "code", code, "reason", reason)
	if c.handlers.Close != nil {
		c.safeCall("close", func() { c.handlers.Close(code, reason) })
	}
	if !stopped {
		c.scheduleReconnect()
	}
}

// scheduleReconnect arms the reconnect timer with the next backoff delay.
// The delay grows geometrically per failed attempt and resets to baseline
// only on a successful handshake.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.stopped || c.reconnectTimer != nil {
		c.mu.Unlock()
		return
	}
	delay := c.backoff.Next()
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		if c.stopped {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()
		c.connect()
	})
	c.mu.Unlock()
	c.logger.Debug("reconnect scheduled", "delay", delay)
}

func (c *Client) writeFrame(ws *websocket.Conn, f Frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, f)
}

func (c *Client) reportError(err error) {
	c.logger.Warn("gateway error", "error", err)
	if c.handlers.Error != nil {
		c.safeCall("error", func() { c.handlers.Error(err) })
	}
}

// safeCall invokes an application callback, containing panics so a
// misbehaving handler cannot break the connection's frame handling.
func (c *Client) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("gateway handler panic", "handler", name, "panic", r)
		}
	}()
	fn()
}
