package coordinator

import (
	"context"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// PruneInterval is how often expired journal rows are removed.
const PruneInterval = 6 * time.Hour

// RunOptions selects the background loops started by Run.
type RunOptions struct {
	// PersistInterval enables the persist loop when positive and a
	// persister is configured.
	PersistInterval time.Duration
	// WatchConfig reloads when the config file changes on disk.
	WatchConfig bool
	// Signals enables reload on SIGHUP.
	Signals bool
}

// Run starts the selected loops and blocks until ctx is done or one of
// them fails. State is persisted one last time on the way out.
func (c *Coordinator) Run(ctx context.Context, opts RunOptions) error {
	g, ctx := errgroup.WithContext(ctx)

	if opts.Signals {
		g.Go(func() error { return c.RunSignals(ctx) })
	}
	if opts.WatchConfig {
		w, err := NewWatcher(c.path, c.Reload)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(ctx) })
	}
	if c.persister != nil && opts.PersistInterval > 0 {
		g.Go(func() error { return c.RunPersist(ctx, opts.PersistInterval) })
	}
	if c.journal != nil {
		g.Go(func() error { return c.RunPrune(ctx, PruneInterval) })
	}

	err := g.Wait()
	if c.persister != nil {
		if perr := c.Persist(); perr != nil {
			c.logger.Error("final state save failed", "error", perr)
		}
	}
	return err
}

// RunSignals reloads on every SIGHUP until ctx is done.
func (c *Coordinator) RunSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigCh:
			c.logger.Info("received SIGHUP, reloading configuration")
			_ = c.Reload(ctx)
		}
	}
}

// RunPersist saves state every interval until ctx is done. Save errors
// are logged and retried on the next tick.
func (c *Coordinator) RunPersist(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Persist(); err != nil {
				c.logger.Error("state save failed", "error", err)
			}
		}
	}
}

// RunPrune removes expired journal rows now and then every interval.
func (c *Coordinator) RunPrune(ctx context.Context, interval time.Duration) error {
	c.prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.prune()
		}
	}
}

func (c *Coordinator) prune() {
	n, err := c.journal.Prune()
	if err != nil {
		c.logger.Warn("journal prune failed", "error", err)
		return
	}
	if n > 0 {
		c.logger.Info("journal pruned", "rows", n)
	}
}

// ShutdownSignals returns a context cancelled on SIGINT or SIGTERM.
func ShutdownSignals(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, unix.SIGTERM)
}
