package stream

import (
	"math/rand"
	"time"
)

// Jitter bounds for reconnect delays.
const (
	jitterMin = 0.8
	jitterMax = 1.2
)

// backoff computes reconnect delays: exponential doubling from a base,
// ±20% jitter, capped at a maximum. Not safe for concurrent use; it is
// owned by the reconnect loop.
type backoff struct {
	base     time.Duration
	max      time.Duration
	attempts int
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{base: base, max: max}
}

// Next returns the delay before the next attempt and advances the counter.
func (b *backoff) Next() time.Duration {
	b.attempts++

	d := b.base
	for i := 1; i < b.attempts; i++ {
		d *= 2
		if d >= b.max {
			d = b.max
			break
		}
	}

	jitter := jitterMin + rand.Float64()*(jitterMax-jitterMin)
	d = time.Duration(float64(d) * jitter)
	if d > b.max {
		d = b.max
	}
	return d
}

// Reset returns the sequence to its base delay after a healthy exchange.
func (b *backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *backoff) Attempts() int {
	return b.attempts
}
