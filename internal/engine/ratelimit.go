package engine

import (
	"sync"
	"time"
)

// TokenBucket caps how many alerts are emitted per second, with bursts up to
// capacity. Safe for concurrent use by both monitor streams.
type TokenBucket struct {
	capacity float64
	rate     float64

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// NewTokenBucket starts full.
func NewTokenBucket(capacity, perSecond float64) *TokenBucket {
	return &TokenBucket{capacity: capacity, rate: perSecond, tokens: capacity}
}

// Allow takes a token at now if one is available.
func (b *TokenBucket) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.last.IsZero() {
		b.last = now
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsed*b.rate)
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
