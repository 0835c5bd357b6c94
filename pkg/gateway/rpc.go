package gateway

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// RPC method names exposed by the gateway.
const (
	MethodChatSend     = "chat.send"
	MethodChatAbort    = "chat.abort"
	MethodChatHistory  = "chat.history"
	MethodHealth       = "health"
	MethodStatus       = "status"
	MethodModelsList   = "models.list"
	MethodSessionsList = "sessions.list"
	MethodSkillsList   = "skills.list"
	MethodConfigGet    = "config.get"
	MethodConfigPatch  = "config.patch"
	MethodPresenceList = "presence.list"
	MethodNodeCaps     = "node.capabilities"
	MethodNodeStatus   = "node.status"
)

// DefaultSessionKey is used when a facade call passes an empty session key.
const DefaultSessionKey = "main"

// ChatAck acknowledges an accepted chat message.
type ChatAck struct {
	RunID      string `json:"runId,omitempty"`
	SessionKey string `json:"sessionKey,omitempty"`
}

// HistoryEntry is one message in a session transcript.
type HistoryEntry struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp int64  `json:"ts,omitempty"`
}

// HealthStatus is the gateway's health probe result.
type HealthStatus struct {
	Status string `json:"status"`
}

// StatusInfo summarises the gateway process.
type StatusInfo struct {
	Version   string `json:"version,omitempty"`
	UptimeSec int64  `json:"uptimeSec,omitempty"`
	Sessions  int    `json:"sessions,omitempty"`
	Nodes     int    `json:"nodes,omitempty"`
}

// ModelInfo describes an available model.
type ModelInfo struct {
	ID       string `json:"id"`
	Provider string `json:"provider,omitempty"`
}

// SessionInfo describes an active session.
type SessionInfo struct {
	Key      string `json:"key"`
	Title    string `json:"title,omitempty"`
	Updated  int64  `json:"updated,omitempty"`
	Messages int    `json:"messages,omitempty"`
}

// SkillInfo describes an installed skill.
type SkillInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled,omitempty"`
}

// PresenceEntry describes one connected client.
type PresenceEntry struct {
	ClientID string `json:"clientId"`
	Role     Role   `json:"role,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// NodeCapability describes a capability advertised by a node.
type NodeCapability struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// NodeStatusInfo describes a node's connection state.
type NodeStatusInfo struct {
	NodeID    string `json:"nodeId"`
	Online    bool   `json:"online"`
	LastSeen  int64  `json:"lastSeen,omitempty"`
}

// The typed wrappers below are sugar over Request: they fill in defaults
// (session key, idempotency key) and decode the response payload. Errors
// propagate unchanged from the underlying request; there is no retry here.

// ChatSend submits a chat message. An idempotency key is generated per call
// so the server can de-duplicate resubmissions by higher layers.
func (c *Client) ChatSend(ctx context.Context, sessionKey, message string) (*ChatAck, error) {
	if sessionKey == "" {
		sessionKey = DefaultSessionKey
	}
	ack, err := Call[ChatAck](ctx, c, MethodChatSend, map[string]any{
		"sessionKey":     sessionKey,
		"message":        message,
		"idempotencyKey": uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}
	return &ack, nil
}

// ChatAbort cancels a running chat turn.
func (c *Client) ChatAbort(ctx context.Context, sessionKey, runID string) error {
	if sessionKey == "" {
		sessionKey = DefaultSessionKey
	}
	_, err := c.Request(ctx, MethodChatAbort, map[string]any{
		"sessionKey": sessionKey,
		"runId":      runID,
	})
	return err
}

// ChatHistory fetches the transcript of a session. limit <= 0 means the
// server default.
func (c *Client) ChatHistory(ctx context.Context, sessionKey string, limit int) ([]HistoryEntry, error) {
	if sessionKey == "" {
		sessionKey = DefaultSessionKey
	}
	params := map[string]any{"sessionKey": sessionKey}
	if limit > 0 {
		params["limit"] = limit
	}
	return Call[[]HistoryEntry](ctx, c, MethodChatHistory, params)
}

// Health probes the gateway.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	h, err := Call[HealthStatus](ctx, c, MethodHealth, nil)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// Status returns a summary of the gateway process.
func (c *Client) Status(ctx context.Context) (*StatusInfo, error) {
	s, err := Call[StatusInfo](ctx, c, MethodStatus, nil)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListModels lists the models the gateway can route to.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return Call[[]ModelInfo](ctx, c, MethodModelsList, nil)
}

// ListSessions lists active sessions.
func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	return Call[[]SessionInfo](ctx, c, MethodSessionsList, nil)
}

// ListSkills lists installed skills.
func (c *Client) ListSkills(ctx context.Context) ([]SkillInfo, error) {
	return Call[[]SkillInfo](ctx, c, MethodSkillsList, nil)
}

// ConfigGet fetches the gateway configuration document. The shape is owned
// by the server; callers decode what they need.
func (c *Client) ConfigGet(ctx context.Context) (json.RawMessage, error) {
	return c.Request(ctx, MethodConfigGet, nil)
}

// ConfigPatch applies a partial configuration update and returns the
// resulting document.
func (c *Client) ConfigPatch(ctx context.Context, patch any) (json.RawMessage, error) {
	return c.Request(ctx, MethodConfigPatch, map[string]any{"patch": patch})
}

// Presence lists currently connected clients.
func (c *Client) Presence(ctx context.Context) ([]PresenceEntry, error) {
	return Call[[]PresenceEntry](ctx, c, MethodPresenceList, nil)
}

// NodeCapabilities lists the capabilities a node advertises.
func (c *Client) NodeCapabilities(ctx context.Context, nodeID string) ([]NodeCapability, error) {
	return Call[[]NodeCapability](ctx, c, MethodNodeCaps, map[string]any{"nodeId": nodeID})
}

// NodeStatus reports a node's connection state.
func (c *Client) NodeStatus(ctx context.Context, nodeID string) (*NodeStatusInfo, error) {
	s, err := Call[NodeStatusInfo](ctx, c, MethodNodeStatus, map[string]any{"nodeId": nodeID})
	if err != nil {
		return nil, err
	}
	return &s, nil
}
