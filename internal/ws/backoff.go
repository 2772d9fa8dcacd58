package ws

import (
	"math/rand/v2"
	"time"
)

// Backoff produces reconnect delays. The base doubles on each consecutive
// failure and is capped at Max; jitter is added after capping and does not
// feed back into the base.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  time.Duration
	Rand    func() float64 // uniform in [0,1); defaults to math/rand

	base time.Duration
}

// NewBackoff returns a backoff starting at initial
func NewBackoff(initial, max, jitter time.Duration) *Backoff {
	return &Backoff{Initial: initial, Max: max, Jitter: jitter}
}

// Base returns the pre-jitter delay the next call to Next will use
func (b *Backoff) Base() time.Duration {
	if b.base == 0 {
		return b.Initial
	}
	return b.base
}

// Next returns the delay for this failure and advances the schedule
func (b *Backoff) Next() time.Duration {
	base := b.Base()

	next := base * 2
	if next > b.Max || next < base {
		next = b.Max
	}
	b.base = next

	return base + b.jitter()
}

// Reset returns the schedule to its initial delay
func (b *Backoff) Reset() {
	b.base = b.Initial
}

func (b *Backoff) jitter() time.Duration {
	if b.Jitter <= 0 {
		return 0
	}
	r := b.Rand
	if r == nil {
		r = rand.Float64
	}
	return time.Duration(r() * float64(b.Jitter))
}
