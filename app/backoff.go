package app

import (
	"math/rand"
	"sync"
	"time"
)

// Default reconnect backoff parameters.
const (
	InitialBackoff    = 1 * time.Second
	MaxBackoff        = 60 * time.Second
	backoffMultiplier = 2.0
	jitterFactor      = 0.25
)

// Backoff produces exponentially increasing reconnect delays with jitter.
type Backoff struct {
	mu      sync.Mutex
	current time.Duration
	initial time.Duration
	max     time.Duration
	rng     *rand.Rand
}

func NewBackoff() *Backoff {
	return NewBackoffWithLimits(InitialBackoff, MaxBackoff)
}

// NewBackoffWithLimits creates a backoff with custom initial and maximum
// delays.
func NewBackoffWithLimits(initial, max time.Duration) *Backoff {
	return &Backoff{
		current: initial,
		initial: initial,
		max:     max,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the delay to wait before the next attempt and advances the
// backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	delay := b.current + time.Duration(float64(b.current)*jitterFactor*b.rng.Float64())
	if delay > b.max {
		delay = b.max
	}
	next := time.Duration(float64(b.current) * backoffMultiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next
	return delay
}

// Reset returns the backoff to its initial delay. Call after a successful
// connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.current = b.initial
	b.mu.Unlock()
}

// Current returns the next base delay without advancing or jitter.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}
