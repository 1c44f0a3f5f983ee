package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"grimm.is/knockgate/internal/audit"
	"grimm.is/knockgate/internal/brand"
	"grimm.is/knockgate/internal/clock"
	"grimm.is/knockgate/internal/config"
	"grimm.is/knockgate/internal/coordinator"
	"grimm.is/knockgate/internal/device"
	"grimm.is/knockgate/internal/engine"
	"grimm.is/knockgate/internal/health"
	"grimm.is/knockgate/internal/logging"
	"grimm.is/knockgate/internal/metrics"
	"grimm.is/knockgate/internal/routeros"
	"grimm.is/knockgate/internal/server"
	"grimm.is/knockgate/internal/state"
)

// Files kept in general.state_dir.
const (
	stateFileName   = "state.db"
	journalFileName = "journal.db"
)

const (
	collectInterval = 15 * time.Second
	probeTimeout    = 15 * time.Second
)

var (
	servePidFile string
	serveJSONLog bool
	serveTrace   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the knock listener",
	Long: `Run the knock listener in the foreground.

The configuration is reloaded on SIGHUP, on a request to /reload from a
safe host and, with general.watch_config, whenever the file changes.
SIGINT and SIGTERM shut the gateway down after saving state.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), configPath)
	},
}

func init() {
	serveCmd.Flags().StringVar(&servePidFile, "pid-file", brand.GetPidPath(), "write the process id to this file (empty to skip)")
	serveCmd.Flags().BoolVar(&serveJSONLog, "json", false, "log in JSON")
	serveCmd.Flags().BoolVar(&serveTrace, "trace", false, "log every word exchanged with the device")
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context, path string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	gen := cfg.General

	level := logging.LevelInfo
	if gen.Developer {
		level = logging.LevelDebug
	}
	logging.SetPrefix(brand.LowerName)
	logger := logging.New(logging.Config{
		Level:  level,
		Output: os.Stderr,
		JSON:   serveJSONLog,
		Dir:    gen.LogDir,
	})
	logging.SetDefault(logger)
	defer logger.Close()

	logger.Info("starting", "name", brand.Name, "version", brand.Version, "config", path)

	if servePidFile != "" {
		if err := writePidFile(servePidFile); err != nil {
			logger.Warn("pid file not written", "path", servePidFile, "error", err)
		} else {
			defer removePidFile(servePidFile)
		}
	}

	ctx, stop := coordinator.ShutdownSignals(parent)
	defer stop()

	var (
		persister *state.Persister
		journal   *audit.Store
		snap      state.Snapshot
	)
	if gen.StateDir != "" {
		if err := os.MkdirAll(gen.StateDir, 0o750); err != nil {
			return fmt.Errorf("state dir: %w", err)
		}
		persister, err = openPersister(filepath.Join(gen.StateDir, stateFileName))
		if err != nil {
			return err
		}
		defer persister.Close()

		snap, err = persister.Load()
		if err != nil {
			logger.Warn("saved state not loaded, starting empty", "error", err)
			snap = state.Snapshot{}
		}

		if gen.Journal {
			journal, err = audit.NewStore(filepath.Join(gen.StateDir, journalFileName), gen.JournalRetentionDays,
				audit.WithMirror(logger.WithComponent("journal")))
			if err != nil {
				return fmt.Errorf("journal: %w", err)
			}
			defer journal.Close()
		}
	}

	gateways := coordinator.DeviceGateway(logger, serveTrace || gen.Developer)
	gw, err := gateways(cfg.Device)
	if err != nil {
		return err
	}

	st, demoted, err := coordinator.Bootstrap(ctx, cfg, snap, gw, clock.Now())
	if err != nil {
		gw.Close()
		return err
	}
	if len(demoted) > 0 {
		logger.Info("addresses of removed users demoted", "count", len(demoted))
	}
	fmt.Fprintln(os.Stdout, usersTable(st.Users.Users(), clock.Now()))

	probeDevice(ctx, gw, cfg.Device, logger)

	reg := metrics.Get()
	reg.SetVersion(brand.Version)

	engOpts := []engine.Option{engine.WithLogger(logger.WithComponent("engine")), engine.WithMetrics(reg)}
	if journal != nil {
		engOpts = append(engOpts, engine.WithJournal(journal))
	}
	eng := engine.New(st, engOpts...)

	coordOpts := []coordinator.Option{
		coordinator.WithLogger(logger.WithComponent("reload")),
		coordinator.WithMetrics(reg),
		coordinator.WithGatewayFactory(gateways),
	}
	if persister != nil {
		coordOpts = append(coordOpts, coordinator.WithPersister(persister))
	}
	if journal != nil {
		coordOpts = append(coordOpts, coordinator.WithJournal(journal))
	}
	coord := coordinator.New(path, eng, coordOpts...)

	checker := health.NewChecker(nil, health.DefaultTTL)
	checker.Register("device", func(ctx context.Context) health.Check {
		// Follows reloads.
		addr := deviceAddress(eng.State().Config.Device)
		if addr == "" {
			return health.Check{Status: health.StatusHealthy, Message: "local commands"}
		}
		return health.Reachable(addr, probeTimeout)(ctx)
	})
	if gen.StateDir != "" {
		checker.Register("state_dir", health.DirWritable(gen.StateDir))
	}
	if gen.LogDir != "" {
		checker.Register("log_dir", health.DirWritable(gen.LogDir))
	}

	srv := server.New(server.Config{
		Listen:         gen.ListenAddress(),
		AdminListen:    gen.AdminListen,
		MaxConnections: gen.MaxConnections,
		RateLimit:      gen.RateLimit,
		RateWindow:     gen.RateWindowDuration(),
		AccessLog:      gen.Developer,
	}, eng,
		server.WithLogger(logger.WithComponent("http")),
		server.WithMetrics(reg),
		server.WithHealth(checker),
	)

	collector := metrics.NewCollector(reg, eng, logger.WithComponent("metrics"), collectInterval, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		return coord.Run(gctx, coordinator.RunOptions{
			PersistInterval: gen.PersistIntervalDuration(),
			WatchConfig:     gen.WatchConfig,
			Signals:         true,
		})
	})
	g.Go(func() error { return collector.Run(gctx) })

	err = g.Wait()
	if cur := eng.State(); cur != nil && cur.Gateway != nil {
		cur.Gateway.Close()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("stopped with error", "error", err)
		return err
	}
	logger.Info("stopped")
	return nil
}

func openPersister(path string) (*state.Persister, error) {
	store, err := state.NewSQLiteStore(state.DefaultOptions(path))
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}
	p, err := state.NewPersister(store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("state store: %w", err)
	}
	return p, nil
}

// probeDevice checks the device at startup. A failure is reported with a
// hint and the gateway keeps running; pushes reconnect on demand.
func probeDevice(ctx context.Context, gw device.Gateway, dev *config.Device, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := gw.Probe(ctx); err != nil {
		logger.Warn("device probe failed", "host", dev.Host, "error", err, "hint", probeHint(err, dev))
		return
	}
	logger.Info("device reachable", "host", dev.Host, "type", dev.DeviceType)
}

// deviceAddress is the host:port the gateway connects to, or "" when
// commands run locally.
func deviceAddress(dev *config.Device) string {
	switch {
	case dev.IsLocal():
		return ""
	case dev.IsRouterOS():
		return routeros.DialOptions{Host: dev.Host, Port: dev.Port, Secure: dev.IsSecure()}.Address()
	default:
		port := dev.SSHPort
		if port == 0 {
			port = 22
		}
		return net.JoinHostPort(dev.Host, strconv.Itoa(port))
	}
}
