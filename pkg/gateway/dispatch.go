package gateway

import (
	"encoding/json"

	"nhooyr.io/websocket"
)

// Well-known event names handled internally by the dispatcher.
const (
	EventConnectChallenge = "connect.challenge"
	EventNodeInvoke       = "node.invoke"
)

type challengePayload struct {
	Nonce json.RawMessage `json:"nonce"`
}

type invokePayload struct {
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args"`
}

// dispatchEvent routes an inbound event frame to exactly one of three
// branches: the handshake challenge handler, the node-invoke handler, or the
// general application event callback. Each branch is terminal.
func (c *Client) dispatchEvent(ws *websocket.Conn, f *Frame) {
	switch f.Event {
	case EventConnectChallenge:
		c.handleChallenge(ws, f)
	case EventNodeInvoke:
		c.handleNodeInvoke(f)
	default:
		if f.Seq != nil {
			// Informational only: the application uses this for gap/health
			// monitoring; nothing is enforced here.
			c.mu.Lock()
			c.lastSeq = *f.Seq
			c.haveSeq = true
			c.mu.Unlock()
		}
		if c.handlers.Event != nil {
			c.safeCall("event", func() { c.handlers.Event(f) })
		}
	}
}

// handleChallenge captures the one-time nonce and triggers the handshake
// send path. A challenge without a string nonce still triggers the send;
// sendConnect's guard keeps the handshake at-most-once either way.
func (c *Client) handleChallenge(ws *websocket.Conn, f *Frame) {
	var p challengePayload
	if len(f.Payload) > 0 {
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			c.logger.Debug("dropping malformed challenge payload", "error", err)
			return
		}
	}
	var nonce string
	if len(p.Nonce) > 0 {
		// Only a string nonce counts; anything else is ignored.
		if err := json.Unmarshal(p.Nonce, &nonce); err != nil {
			nonce = ""
		}
	}
	if nonce != "" {
		c.mu.Lock()
		if c.ws == ws {
			c.connectNonce = nonce
		}
		c.mu.Unlock()
	}
	c.sendConnect(ws)
}

func (c *Client) handleNodeInvoke(f *Frame) {
	if c.handlers.NodeInvoke == nil {
		c.logger.Debug("node invoke with no handler registered")
		return
	}
	var p invokePayload
	if len(f.Payload) > 0 {
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			c.logger.Debug("dropping malformed invoke payload", "error", err)
			return
		}
	}
	c.safeCall("node_invoke", func() { c.handlers.NodeInvoke(p.Command, p.Args) })
}
