package provider

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket shared by every call a provider makes upstream.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   int
	capacity int
	every    time.Duration
	last     time.Time
	now      func() time.Time
}

// NewRateLimiter allows capacity calls per refill period.
func NewRateLimiter(capacity int, every time.Duration) *RateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if every <= 0 {
		every = time.Second
	}
	return &RateLimiter{
		tokens:   capacity,
		capacity: capacity,
		every:    every,
		last:     time.Now(),
		now:      time.Now,
	}
}

// Allow takes a token if one is available without waiting.
func (r *RateLimiter) Allow() bool {
	ok, _ := r.take()
	return ok
}

// Wait blocks until a token is available or ctx is done. Callers inherit the
// provider timeout through ctx, so a throttled provider surfaces as unavailable.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		ok, wait := r.take()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *RateLimiter) take() (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if n := int(now.Sub(r.last) / r.every); n > 0 {
		r.tokens = min(r.capacity, r.tokens+n)
		r.last = r.last.Add(time.Duration(n) * r.every)
	}
	if r.tokens > 0 {
		r.tokens--
		return true, 0
	}
	return false, r.every - now.Sub(r.last)
}
