// Package ratelimit counts knock requests per client address in fixed
// windows.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"grimm.is/knockgate/internal/clock"
)

// Verdict is the outcome of one request against the limit.
type Verdict int

const (
	// Allowed means the request is within the limit.
	Allowed Verdict = iota
	// Exceeded marks the first request over the limit in a window.
	Exceeded
	// Throttled marks every later request over the limit in that window.
	Throttled
)

// Limiter manages rate limiting for multiple keys
type Limiter struct {
	limit    int
	interval time.Duration
	clk      clock.Clock

	limiters map[string]*bucket
	mu       sync.Mutex
}

// bucket is a fixed-window counter
type bucket struct {
	tokens   int
	reported bool
	lastFill time.Time
}

// NewLimiter creates a limiter allowing limit requests per interval and
// key. A limit below 1 disables limiting.
func NewLimiter(limit int, interval time.Duration, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.Real
	}
	return &Limiter{
		limit:    limit,
		interval: interval,
		clk:      clk,
		limiters: make(map[string]*bucket),
	}
}

// Enabled reports whether the limiter enforces anything.
func (l *Limiter) Enabled() bool {
	return l.limit > 0 && l.interval > 0
}

// Check records one request for key and returns its verdict.
func (l *Limiter) Check(key string) Verdict {
	if !l.Enabled() {
		return Allowed
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clk.Now()
	b, exists := l.limiters[key]
	if !exists || now.Sub(b.lastFill) >= l.interval {
		b = &bucket{tokens: l.limit, lastFill: now}
		l.limiters[key] = b
	}

	if b.tokens > 0 {
		b.tokens--
		return Allowed
	}
	if !b.reported {
		b.reported = true
		return Exceeded
	}
	return Throttled
}

// Allow reports whether a request for key is within the limit.
func (l *Limiter) Allow(key string) bool {
	return l.Check(key) == Allowed
}

// Reset clears rate limit for a specific key
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// CleanupExpired removes buckets whose window ended more than maxAge ago.
func (l *Limiter) CleanupExpired(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clk.Now()
	for key, b := range l.limiters {
		if now.Sub(b.lastFill) > l.interval+maxAge {
			delete(l.limiters, key)
		}
	}
}

// Run cleans up expired buckets every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.CleanupExpired(every)
		}
	}
}
