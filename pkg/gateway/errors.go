package gateway

import "fmt"

// Sentinel errors for the gateway client.
var (
	ErrNotConnected     = fmt.Errorf("gateway: not connected")
	ErrConnectionClosed = fmt.Errorf("gateway: connection closed")
	ErrRequestFailed    = fmt.Errorf("gateway: request failed")
	ErrHandshakeFailed  = fmt.Errorf("gateway: handshake failed")
	ErrStopped          = fmt.Errorf("gateway: client stopped")
)

// RPCError is returned when the server answers a request with ok=false.
type RPCError struct {
	Method  string
	Code    string
	Message string
	Details []byte
}

func (e *RPCError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "request failed"
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Code)
	}
	if e.Method == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Method, msg)
}

func (e *RPCError) Unwrap() error { return ErrRequestFailed }

// CloseError rejects pending requests when the underlying socket closes.
// The close code and reason are preserved so callers can distinguish a
// server-initiated close from a local stop.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("connection closed (code %d): %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("connection closed (code %d)", e.Code)
}

func (e *CloseError) Unwrap() error { return ErrConnectionClosed }
