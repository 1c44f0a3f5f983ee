// Package health runs the readiness checks served on the admin
// listener's /readyz. Checks run concurrently and the combined report is
// cached briefly so a tight probe loop does not hammer the device.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"grimm.is/knockgate/internal/clock"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) rank() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	}
	return 0
}

// DefaultTTL is how long a report is served from cache.
const DefaultTTL = 5 * time.Second

// checkTimeout bounds a /readyz request.
const checkTimeout = 10 * time.Second

// Check is the outcome of one named check. The checker fills Name,
// LastChecked and Duration.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ns"`
}

// Report combines every check; Status is the worst of them.
type Report struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks"`
	Timestamp time.Time        `json:"timestamp"`
}

type CheckFunc func(ctx context.Context) Check

// Checker holds the registered checks and the last report.
type Checker struct {
	clk clock.Clock
	ttl time.Duration

	mu     sync.Mutex
	checks map[string]CheckFunc
	cached *Report
}

// NewChecker returns an empty checker. A zero ttl disables caching and a
// nil clk selects the system clock.
func NewChecker(clk clock.Clock, ttl time.Duration) *Checker {
	if clk == nil {
		clk = clock.Real
	}
	return &Checker{clk: clk, ttl: ttl, checks: make(map[string]CheckFunc)}
}

// Register adds fn under name, replacing any previous check of that name.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	c.checks[name] = fn
	c.cached = nil
	c.mu.Unlock()
}

// Check returns the cached report if it is younger than the ttl, and
// otherwise runs every check.
func (c *Checker) Check(ctx context.Context) Report {
	now := c.clk.Now()

	c.mu.Lock()
	if c.cached != nil && now.Sub(c.cached.Timestamp) < c.ttl {
		r := *c.cached
		c.mu.Unlock()
		return r
	}
	funcs := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		funcs[name] = fn
	}
	c.mu.Unlock()

	report := Report{Status: StatusHealthy, Checks: make(map[string]Check, len(funcs)), Timestamp: now}
	var mu sync.Mutex
	var g errgroup.Group
	for name, fn := range funcs {
		g.Go(func() error {
			start := c.clk.Now()
			check := fn(ctx)
			check.Name = name
			check.LastChecked = start
			check.Duration = c.clk.Since(start)

			mu.Lock()
			report.Checks[name] = check
			if check.Status.rank() > report.Status.rank() {
				report.Status = check.Status
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	c.cached = &report
	c.mu.Unlock()
	return report
}

// Handler serves the report as JSON, answering 503 when unhealthy.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()
		report := c.Check(ctx)

		code := http.StatusOK
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(report)
	}
}
