package channels

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket used by adapters to stay inside
// platform API limits and by the pipeline to pace streaming edits.
type RateLimiter struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	capacity   float64
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter builds a bucket that refills at rate tokens per
// second up to capacity, starting full.
func NewRateLimiter(rate float64, capacity int) *RateLimiter {
	if rate <= 0 {
		rate = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &RateLimiter{
		rate:       rate,
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		lastRefill: time.Now(),
	}
}

// Allow consumes one token when available.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or the context ends.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		if r.Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.nextToken()):
		}
	}
}

func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.lastRefill = now
	r.tokens += elapsed * r.rate
	if r.tokens > r.capacity {
		r.tokens = r.capacity
	}
}

func (r *RateLimiter) nextToken() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	if r.tokens >= 1 {
		return 0
	}
	missing := 1 - r.tokens
	return time.Duration(missing / r.rate * float64(time.Second))
}
