package gateway

import "sync"

// Registry owns at most one live Client. Installing a new client stops and
// discards the previous one first, so only one socket, one pending table,
// and one backoff timer chain exist at a time. An explicit registry (rather
// than package-level state) keeps the lifecycle testable.
type Registry struct {
	mu      sync.Mutex
	current *Client
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Set installs c as the active client, stopping any prior instance. It
// returns c for chaining. Passing nil just stops the current client.
func (r *Registry) Set(c *Client) *Client {
	r.mu.Lock()
	prev := r.current
	r.current = c
	r.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	return c
}

// Current returns the active client, or nil when none is installed.
func (r *Registry) Current() *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Close stops and discards the active client. Idempotent.
func (r *Registry) Close() {
	r.Set(nil)
}
