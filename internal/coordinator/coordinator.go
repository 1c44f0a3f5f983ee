// Package coordinator owns the lifecycle around the decision engine:
// building the first state, reloading configuration on demand, and the
// background loops that persist state, prune the journal and watch for
// reload triggers.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"grimm.is/knockgate/internal/clock"
	"grimm.is/knockgate/internal/config"
	"grimm.is/knockgate/internal/credentials"
	"grimm.is/knockgate/internal/device"
	"grimm.is/knockgate/internal/engine"
	"grimm.is/knockgate/internal/logging"
	"grimm.is/knockgate/internal/metrics"
	"grimm.is/knockgate/internal/reputation"
	"grimm.is/knockgate/internal/state"
)

// ErrNoPersister is returned by Persist when state_dir is not set.
var ErrNoPersister = errors.New("persistence is disabled")

// GatewayFactory builds the device gateway for a device block.
type GatewayFactory func(cfg *config.Device) (device.Gateway, error)

// Pruner removes expired journal rows.
type Pruner interface {
	Prune() (int64, error)
}

// Coordinator reloads and persists the state of one engine.
type Coordinator struct {
	path   string
	engine *engine.Engine

	clk        clock.Clock
	logger     *logging.Logger
	metrics    *metrics.Registry
	newGateway GatewayFactory
	persister  *state.Persister
	journal    Pruner

	// reloadMu serializes reloads; the swap itself is guarded by the
	// engine's decision lock.
	reloadMu sync.Mutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the time source.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) { c.clk = clk }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics sets the metrics registry.
func WithMetrics(r *metrics.Registry) Option {
	return func(c *Coordinator) { c.metrics = r }
}

// WithGatewayFactory overrides how gateways are built on reload.
func WithGatewayFactory(f GatewayFactory) Option {
	return func(c *Coordinator) { c.newGateway = f }
}

// WithPersister enables state persistence.
func WithPersister(p *state.Persister) Option {
	return func(c *Coordinator) { c.persister = p }
}

// WithJournal enables journal pruning.
func WithJournal(j Pruner) Option {
	return func(c *Coordinator) { c.journal = j }
}

// New creates a coordinator that reloads configPath into eng and
// registers itself as the engine's reloader.
func New(configPath string, eng *engine.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{
		path:   configPath,
		engine: eng,
		clk:    clock.Real,
		logger: logging.WithComponent("coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.Get()
	}
	if c.newGateway == nil {
		c.newGateway = DeviceGateway(c.logger, false)
	}
	eng.SetReloader(c.Reload)
	return c
}

// DeviceGateway returns the default factory backed by device.New.
func DeviceGateway(l *logging.Logger, trace bool) GatewayFactory {
	return func(cfg *config.Device) (device.Gateway, error) {
		return device.New(cfg, device.WithLogger(l.WithComponent("device")), device.WithTrace(trace))
	}
}

// Bootstrap builds the first engine state from cfg and a persisted
// snapshot. History of users no longer configured is dropped, and
// trusted addresses they owned are demoted.
func Bootstrap(ctx context.Context, cfg *config.Config, snap state.Snapshot, gw device.Gateway, now time.Time) (*engine.State, []string, error) {
	users, err := credentials.New(cfg.Users)
	if err != nil {
		return nil, nil, err
	}
	users.RestoreHistory(snap.History)

	addrs := reputation.Restore(snap.Records)
	demoted, err := addrs.DemoteOrphans(ctx, users.Has, now)
	if err != nil {
		return nil, nil, err
	}
	return engine.NewState(cfg, users, addrs, gw), demoted, nil
}

// Reload loads the config file and swaps in a new state built from it.
// Address records and user history carry over; a gateway is rebuilt only
// when the device block changed. On error the running state is kept.
func (c *Coordinator) Reload(ctx context.Context) error {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	err := c.reload(ctx)
	c.metrics.RecordReload(err == nil)
	if err != nil {
		c.logger.Error("reload failed", "path", c.path, "error", err)
	}
	return err
}

func (c *Coordinator) reload(ctx context.Context) error {
	cfg, err := config.LoadFile(c.path)
	if err != nil {
		return err
	}

	var (
		built   device.Gateway
		demoted []string
	)
	prev, err := c.engine.Swap(func(cur *engine.State) (*engine.State, error) {
		users, err := credentials.New(cfg.Users)
		if err != nil {
			return nil, err
		}
		users.CarryForward(cur.Users)

		addrs := cur.Addresses.Clone()
		demoted, err = addrs.DemoteOrphans(ctx, users.Has, c.clk.Now())
		if err != nil {
			return nil, fmt.Errorf("demote addresses: %w", err)
		}

		gw := cur.Gateway
		if gw == nil || !cfg.Device.Equal(cur.Config.Device) {
			built, err = c.newGateway(cfg.Device)
			if err != nil {
				return nil, fmt.Errorf("device: %w", err)
			}
			gw = built
		}
		return engine.NewState(cfg, users, addrs, gw), nil
	})
	if err != nil {
		if built != nil {
			built.Close()
		}
		return err
	}

	if built != nil && prev.Gateway != nil {
		c.logger.Info("device settings changed, gateway replaced", "host", cfg.Device.Host)
		if err := prev.Gateway.Close(); err != nil {
			c.logger.Warn("closing previous gateway", "error", err)
		}
	}
	for _, addr := range demoted {
		c.logger.WithAddress(addr).Info("owner removed, address demoted")
	}
	if dev := cfg.General.Developer; prev.Config == nil || dev != prev.Config.General.Developer {
		c.logger.SetLevel(developerLevel(dev))
	}
	if diff := config.Diff(prev.Config, cfg); diff != "" {
		c.logger.Info("configuration changed", "diff", strings.TrimSpace(diff))
	}
	c.logger.Info("configuration reloaded", "path", c.path, "users", len(cfg.Users))
	return nil
}

// developerLevel is the log level implied by general.developer.
func developerLevel(developer bool) logging.Level {
	if developer {
		return logging.LevelDebug
	}
	return logging.LevelInfo
}

// Persist saves the current address records and user history.
func (c *Coordinator) Persist() error {
	if c.persister == nil {
		return ErrNoPersister
	}
	records, hist := c.engine.Snapshot()
	return c.persister.Save(state.Snapshot{Records: records, History: hist})
}
