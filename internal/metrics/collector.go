package metrics

import (
	"context"
	"sync"
	"time"

	"grimm.is/knockgate/internal/clock"
	"grimm.is/knockgate/internal/logging"
)

// Source is sampled by the collector for gauge values.
type Source interface {
	// StatusCounts returns the number of known addresses per status.
	StatusCounts() map[string]int
	UserCount() int
}

// Collector periodically copies gateway state into the registry.
type Collector struct {
	registry *Registry
	source   Source
	logger   *logging.Logger
	interval time.Duration
	clk      clock.Clock
	started  time.Time
	stopCh   chan struct{}
	stopOnce sync.Once

	mu         sync.RWMutex
	lastUpdate time.Time
	lastCounts map[string]int
}

// NewCollector creates a collector that samples source every interval.
func NewCollector(registry *Registry, source Source, logger *logging.Logger, interval time.Duration, clk clock.Clock) *Collector {
	if registry == nil {
		registry = Get()
	}
	if logger == nil {
		logger = logging.WithComponent("metrics")
	}
	if clk == nil {
		clk = clock.Real
	}
	return &Collector{
		registry:   registry,
		source:     source,
		logger:     logger,
		interval:   interval,
		clk:        clk,
		started:    clk.Now(),
		stopCh:     make(chan struct{}),
		lastCounts: map[string]int{},
	}
}

// Run samples until ctx is cancelled or Stop is called.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Debug("starting metrics collector", "interval", c.interval.String())

	c.Collect()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-c.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Stop ends Run.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Collect takes one sample.
func (c *Collector) Collect() {
	counts := c.source.StatusCounts()
	users := c.source.UserCount()
	now := c.clk.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Statuses that disappeared since the last sample drop to zero.
	for status := range c.lastCounts {
		if _, ok := counts[status]; !ok {
			c.registry.Addresses.WithLabelValues(status).Set(0)
		}
	}
	for status, n := range counts {
		c.registry.Addresses.WithLabelValues(status).Set(float64(n))
	}
	c.registry.Users.Set(float64(users))
	c.registry.Uptime.Set(now.Sub(c.started).Seconds())

	c.lastCounts = counts
	c.lastUpdate = now
}

// GetLastUpdate returns the time of the last sample.
func (c *Collector) GetLastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}
