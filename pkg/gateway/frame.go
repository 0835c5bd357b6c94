package gateway

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// FrameType identifies the kind of frame exchanged over the WebSocket connection.
type FrameType string

const (
	FrameTypeEvent    FrameType = "event"
	FrameTypeRequest  FrameType = "req"
	FrameTypeResponse FrameType = "res"
)

// StateVersion carries the server's presence/health state counters on events.
type StateVersion struct {
	Presence int `json:"presence"`
	Health   int `json:"health"`
}

// WireError is the error object carried by a failed response frame.
type WireError struct {
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Frame is the envelope exchanged with the gateway. Exactly one of the three
// frame kinds is populated, discriminated by Type:
//
//	event: Event, Payload, Seq, StateVersion
//	req:   ID, Method, Params
//	res:   ID, OK, Payload, Error
type Frame struct {
	Type FrameType `json:"type"`

	// Event frames.
	Event        string        `json:"event,omitempty"`
	Seq          *int64        `json:"seq,omitempty"`
	StateVersion *StateVersion `json:"stateVersion,omitempty"`

	// Request frames.
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// Response frames.
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *WireError      `json:"error,omitempty"`
}

// decodeFrame parses a raw text message into a Frame. A parse failure or an
// unrecognised type tag is an error; callers drop such frames rather than
// treating them as fatal.
func decodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}
	switch f.Type {
	case FrameTypeEvent, FrameTypeRequest, FrameTypeResponse:
		return &f, nil
	default:
		return nil, fmt.Errorf("unknown frame type %q", f.Type)
	}
}

// newRequestID returns a fresh correlation ID. ULIDs are sortable and unique
// across concurrent callers; the server echoes them verbatim.
func newRequestID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
