package gateway

import "time"

// Reconnect backoff defaults.
const (
	defaultBackoffBase   = 800 * time.Millisecond
	defaultBackoffFactor = 1.7
	defaultBackoffMax    = 15 * time.Second
)

// backoff computes geometrically increasing reconnect delays. Next returns
// the delay for the upcoming attempt and advances the sequence; Reset is
// called only after a fully successful handshake, never on mere socket open.
type backoff struct {
	base   time.Duration
	factor float64
	max    time.Duration
	next   time.Duration
}

func newBackoff() backoff {
	b := backoff{base: defaultBackoffBase, factor: defaultBackoffFactor, max: defaultBackoffMax}
	b.Reset()
	return b
}

func (b *backoff) Next() time.Duration {
	d := b.next
	grown := time.Duration(float64(b.next) * b.factor)
	if grown > b.max {
		grown = b.max
	}
	b.next = grown
	return d
}

func (b *backoff) Reset() {
	b.next = b.base
	if b.next > b.max {
		b.next = b.max
	}
}
