package client

import (
	"math/rand"
	"time"
)

// Backoff computes reconnect delays. The adapter itself never
// reconnects; the caller asks for the next delay, sleeps, and calls
// Connect again, resetting on success.
type Backoff struct {
	// Initial delay before the first retry.
	Initial time.Duration
	// Max caps the delay growth.
	Max time.Duration
	// Factor multiplies the delay each attempt.
	Factor float64
	// Jitter adds up to this fraction of the delay, avoiding
	// reconnect stampedes after a gateway restart.
	Jitter float64

	attempt int
}

// DefaultBackoff returns the reconnect policy used by the demo client.
func DefaultBackoff() *Backoff {
	return &Backoff{
		Initial: 500 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// Next returns the delay to wait before the upcoming attempt.
func (b *Backoff) Next() time.Duration {
	delay := float64(b.Initial)
	for i := 0; i < b.attempt; i++ {
		delay *= b.Factor
		if delay >= float64(b.Max) {
			delay = float64(b.Max)
			break
		}
	}
	b.attempt++

	if b.Jitter > 0 {
		delay += delay * b.Jitter * rand.Float64()
	}
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	return time.Duration(delay)
}

// Attempts returns how many delays have been handed out since the last
// reset.
func (b *Backoff) Attempts() int {
	return b.attempt
}

// Reset restarts the schedule after a successful connection.
func (b *Backoff) Reset() {
	b.attempt = 0
}
