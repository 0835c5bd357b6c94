package gateway

import (
	"encoding/json"
	"sync"
)

// result is what a pending request eventually settles with.
type result struct {
	payload json.RawMessage
	err     error
}

// pendingTable correlates in-flight request IDs to their waiting callers.
// Entries never survive a disconnect: the whole table is drained (rejected)
// whenever the connection drops or the client stops.
type pendingTable struct {
	mu sync.Mutex
	m  map[string]chan result
}

func newPendingTable() *pendingTable {
	return &pendingTable{m: make(map[string]chan result)}
}

// add registers a waiter for the given request ID and returns its channel.
func (p *pendingTable) add(id string) chan result {
	ch := make(chan result, 1)
	p.mu.Lock()
	p.m[id] = ch
	p.mu.Unlock()
	return ch
}

// remove drops the entry without settling it. Used when the caller gave up
// (context cancelled) or the frame could not be written.
func (p *pendingTable) remove(id string) {
	p.mu.Lock()
	delete(p.m, id)
	p.mu.Unlock()
}

// settle resolves or rejects the entry for id. Returns false when no entry
// exists (late, duplicate, or stale response — dropped by the caller).
func (p *pendingTable) settle(id string, r result) bool {
	p.mu.Lock()
	ch, ok := p.m[id]
	if ok {
		delete(p.m, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- r
	return true
}

// drain rejects every outstanding entry with err and empties the table.
func (p *pendingTable) drain(err error) {
	p.mu.Lock()
	entries := p.m
	p.m = make(map[string]chan result)
	p.mu.Unlock()
	for _, ch := range entries {
		ch <- result{err: err}
	}
}

// size reports the number of outstanding entries.
func (p *pendingTable) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
