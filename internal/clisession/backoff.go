package clisession

import (
	"time"

	"github.com/tyyzqmf/always-coder-sub001/internal/protocol"
)

// Backoff implements the doubling reconnect delay of spec.md §4.8 and
// §8: 1000, 2000, 4000, ... capped at 30000ms, for up to
// MaxReconnectAttempts attempts.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	attempt int
}

// NewBackoff builds a Backoff using the protocol's standard base/cap.
func NewBackoff() *Backoff {
	return &Backoff{base: protocol.ReconnectBaseDelay, max: protocol.ReconnectMaxDelay}
}

// Next returns the delay before the next attempt and increments the
// attempt counter. Exhausted reports whether MaxReconnectAttempts has
// already been reached.
func (b *Backoff) Next() time.Duration {
	d := b.base << b.attempt
	if d > b.max || d <= 0 {
		d = b.max
	}
	b.attempt++
	return d
}

// Attempts returns how many delays have been handed out so far.
func (b *Backoff) Attempts() int { return b.attempt }

// Exhausted reports whether MaxReconnectAttempts has been reached.
func (b *Backoff) Exhausted() bool { return b.attempt >= protocol.MaxReconnectAttempts }

// Reset zeroes the attempt counter, e.g. after a successful reconnect.
func (b *Backoff) Reset() { b.attempt = 0 }
