package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/socksync/internal/config"
	"github.com/vango-dev/socksync/internal/errors"
	"github.com/vango-dev/socksync/pkg/middleware"
	"github.com/vango-dev/socksync/pkg/server"
	"github.com/vango-dev/socksync/pkg/store"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the socksync server",
		Long: `Start the WebSocket server for the groups declared in the config file.

The server:
  • Restores snapshot lists from the configured store
  • Serves the WebSocket endpoint, /healthz, /groups and /metrics
  • Saves snapshot lists periodically and on shutdown

Stop it with Ctrl+C or SIGTERM.`,
		Example: `  socksync serve
  socksync serve --config ./deploy/socksync.toml
  socksync serve --addr :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if addr != "" {
				if _, _, err := net.SplitHostPort(addr); err != nil {
					return errors.New("S120").
						WithDetailf("--addr %q", addr).
						Wrap(err).
						WithSuggestion("Use host:port, for example :8080 or localhost:9000")
				}
				cfg.Address = addr
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultFileName, "Path to the config file")
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (overrides the config file)")

	return cmd
}

// loadConfig loads and validates the config at path. When the path was not
// given explicitly and the default file is missing, defaults are used.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if !explicit {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			warn("%s not found, serving with defaults and no groups", path)
			return config.Default(), nil
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	for _, w := range cfg.Warnings() {
		warn("%s: %s", path, w)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from the log settings of cfg.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, _ := config.ParseLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// serverConfig maps the file settings onto a server.ServerConfig.
func serverConfig(cfg *config.Config, logger *slog.Logger) *server.ServerConfig {
	sc := server.DefaultServerConfig()
	sc.Address = cfg.Address
	sc.Path = cfg.Path
	sc.ShutdownTimeout = cfg.ShutdownTimeout.Duration
	sc.MaxConnections = cfg.MaxConnections
	sc.Logger = logger
	if cfg.AllowAllOrigins {
		sc.CheckOrigin = func(*http.Request) bool { return true }
	}

	s := cfg.Session
	cc := sc.ConnConfig
	cc.ReadTimeout = s.ReadTimeout.Duration
	cc.WriteTimeout = s.WriteTimeout.Duration
	cc.IdleTimeout = s.IdleTimeout.Duration
	cc.HeartbeatInterval = s.HeartbeatInterval.Duration
	cc.MaxMessageSize = s.MaxMessageSize
	cc.SendQueueSize = s.SendQueueSize
	cc.MessagesPerSecond = s.MessagesPerSecond
	cc.MessageBurst = s.MessageBurst
	return sc
}

// newServer builds the server for cfg with metrics and tracing attached.
// The returned function releases the tracer provider.
func newServer(cfg *config.Config, built *groups, logger *slog.Logger) (*server.Server, func(context.Context) error) {
	sc := serverConfig(cfg, logger)

	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		sc.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		sc.MetricsPath = cfg.Metrics.Path
	}

	srv := server.New(sc, built.registry)
	release := func(context.Context) error { return nil }

	if cfg.Tracing.Enabled {
		tp := newTracerProvider(logger)
		srv.Use(middleware.OpenTelemetry(
			middleware.WithTracerName(cfg.Tracing.TracerName),
			middleware.WithTracerProvider(tp),
		))
		release = tp.Shutdown
	}
	if reg != nil {
		srv.Use(middleware.Prometheus(
			middleware.WithRegistry(reg),
			middleware.WithNamespace(cfg.Metrics.Namespace),
		))
		middleware.RegisterServerMetrics(srv,
			middleware.WithRegistry(reg),
			middleware.WithNamespace(cfg.Metrics.Namespace),
		)
	}
	return srv, release
}

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	printBanner()
	fmt.Println()

	built, err := buildGroups(cfg, logger)
	if err != nil {
		return err
	}
	defer built.close()

	srv, release := newServer(cfg, built, logger)
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	var snap *store.Snapshotter
	if len(built.snapshot) > 0 {
		st, err := newSnapshotStore(ctx, cfg.Snapshot)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close()
			if snap, err = restore(ctx, st, cfg, built, logger); err != nil {
				return err
			}
		}
	}

	success("Serving %d groups", len(built.registry.Groups()))
	info("WebSocket: ws://%s%s", displayAddr(cfg.Address), cfg.Path)
	if cfg.Metrics.Enabled {
		info("Metrics:   http://%s%s", displayAddr(cfg.Address), cfg.Metrics.Path)
	}
	fmt.Println()

	// Snapshots stop after the server, so the final save sees every change.
	snapCtx, stopSnap := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSnap()

	var g errgroup.Group
	g.Go(func() error {
		defer stopSnap()
		if err := srv.Run(ctx); err != nil {
			return errors.New("S160").
				Wrap(err).
				WithSuggestion(fmt.Sprintf("Check that nothing else listens on %s", cfg.Address))
		}
		return nil
	})
	if snap != nil {
		g.Go(func() error {
			// Run logs its own failures; a lost final save does not fail
			// the process.
			_ = snap.Run(snapCtx)
			return nil
		})
	}
	return g.Wait()
}

// restore loads the snapshot lists from st and returns the snapshotter
// that keeps saving them.
func restore(ctx context.Context, st store.SnapshotStore, cfg *config.Config, built *groups, logger *slog.Logger) (*store.Snapshotter, error) {
	snap := store.NewSnapshotter(st, store.SnapshotterConfig{
		Interval: cfg.Snapshot.Interval.Duration,
		Logger:   logger,
	}, built.snapshot...)
	if err := snap.Restore(ctx); err != nil {
		return nil, errors.New("S141").Wrap(err)
	}
	return snap, nil
}

// displayAddr turns a listen address into one a browser can reach.
func displayAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
