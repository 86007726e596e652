package provider

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window admission control: at most maxRequests
// calls are admitted within any trailing window. State is provider-local,
// not shared across providers.
type RateLimiter struct {
	mu         sync.Mutex
	timestamps []time.Time
	max        int
	window     time.Duration
	now        func() time.Time
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithNow sets the time source, for tests.
func WithNow(now func() time.Time) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.now = now
	}
}

// NewRateLimiter creates a sliding-window limiter admitting maxRequests
// per window.
func NewRateLimiter(maxRequests int, window time.Duration, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		max:    maxRequests,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Allow admits the call, recording its timestamp, or returns
// ErrRateLimited when the window is exhausted. Timestamps older than the
// window are pruned on every call.
func (rl *RateLimiter) Allow() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)

	kept := rl.timestamps[:0]
	for _, ts := range rl.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	rl.timestamps = kept

	if len(rl.timestamps) >= rl.max {
		return ErrRateLimited
	}
	rl.timestamps = append(rl.timestamps, now)
	return nil
}

// Remaining reports how many calls the current window still admits.
func (rl *RateLimiter) Remaining() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	inWindow := 0
	for _, ts := range rl.timestamps {
		if ts.After(cutoff) {
			inWindow++
		}
	}
	if inWindow >= rl.max {
		return 0
	}
	return rl.max - inWindow
}
