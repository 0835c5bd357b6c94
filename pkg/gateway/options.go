package gateway

import (
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Handlers are the application callbacks invoked by the client. All of them
// are optional. They run on the client's read/timer goroutines, so they must
// not block for long; panics are recovered at the dispatch boundary.
type Handlers struct {
	// Hello fires once per connection with the server's handshake ack,
	// before Connected. A fresh hello is a logical reset point: sequence
	// numbers from the previous connection no longer apply.
	Hello func(hello *HelloOk)
	// Event receives every general (non-handshake, non-invoke) event frame.
	Event func(frame *Frame)
	// Close fires when the server or network closes the socket, with the
	// close code and reason. A Stop-initiated teardown does not fire it.
	Close func(code int, reason string)
	// Error reports transport and handshake failures.
	Error func(err error)
	// Connected fires after Hello once the session is established.
	Connected func()
	// NodeInvoke handles remote invocations of local capabilities.
	NodeInvoke func(command string, args json.RawMessage)
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent in the handshake.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithPassword sets the password sent in the handshake.
func WithPassword(password string) Option {
	return func(c *Client) { c.password = password }
}

// WithRole sets the connection role (default RoleDual).
func WithRole(role Role) Option {
	return func(c *Client) { c.role = role }
}

// WithCaps sets the advertised capability list.
func WithCaps(caps ...string) Option {
	return func(c *Client) { c.caps = caps }
}

// WithLocale sets the locale string sent in the handshake.
func WithLocale(locale string) Option {
	return func(c *Client) { c.locale = locale }
}

// WithUserAgent overrides the default user-agent string.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithPlatform overrides the platform identifier (default GOOS/GOARCH).
func WithPlatform(platform string) Option {
	return func(c *Client) { c.platform = platform }
}

// WithClientID overrides the generated client identifier.
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

// WithHandlers installs the application callbacks.
func WithHandlers(h Handlers) Option {
	return func(c *Client) { c.handlers = h }
}

// WithLogger sets a custom slog.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithBackoff tunes the reconnect backoff. Zero values keep the defaults
// (800ms base, factor 1.7, 15s cap).
func WithBackoff(base time.Duration, factor float64, max time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.backoff.base = base
		}
		if factor > 1 {
			c.backoff.factor = factor
		}
		if max > 0 {
			c.backoff.max = max
		}
		c.backoff.Reset()
	}
}

// WithChallengeWait tunes how long the client waits for a connect.challenge
// event before sending the handshake without a nonce (default 750ms).
func WithChallengeWait(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.challengeWait = d
		}
	}
}

// WithRequestLimit rate-limits outbound requests. Zero disables limiting.
func WithRequestLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond > 0 {
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}
