// Package clock is the gateway's time source. Everything that stamps
// records or measures latency takes a Clock so tests can pin time with
// MockClock.
//
// Passcode expiry dates are day-granular: a passcode expiring on a date
// stays valid through that whole local day. Compare against Expired
// rather than the date itself.
package clock

import (
	"sync"
	"time"
)

// Clock reports wall time.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// Real is the system clock.
var Real Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time                  { return time.Now() }
func (systemClock) Since(t time.Time) time.Duration { return time.Since(t) }

// Now returns the system time.
func Now() time.Time {
	return Real.Now()
}

// MockClock only moves when told to.
type MockClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewMockClock returns a clock frozen at t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Set jumps to t.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ExpiryCutoff is the first instant at which a passcode expiring on date
// is rejected: the midnight that starts the following day, in date's
// location.
func ExpiryCutoff(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, date.Location())
}

// Expired reports whether now has reached the cutoff for date.
func Expired(now, date time.Time) bool {
	return !now.Before(ExpiryCutoff(date))
}
