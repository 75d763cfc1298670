package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/vango-dev/uisync/internal/config"
	"github.com/vango-dev/uisync/internal/demo"
	"github.com/vango-dev/uisync/internal/errors"
	"github.com/vango-dev/uisync/pkg/middleware"
	"github.com/vango-dev/uisync/pkg/server"
)

func serveCmd() *cobra.Command {
	var (
		flags configFlags
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
		Long: `Start the uisync server with the demo desktop as root model.

The server runs until it receives SIGINT or SIGTERM, then stops
accepting requests and disposes every session.

Examples:
  uisync serve
  uisync serve --addr :9000 --ws --metrics
  uisync serve --config deploy/uisync.json --log-level debug
  uisync serve --config uisync.json --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			srv, level, err := newServer(cfg, prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			if watch {
				if err := watchLogLevel(cmd.Context(), cfg, cmd.Flags().Changed("log-level"), srv.Config().Logger, level); err != nil {
					return errors.New("E201").WithDetail("--watch: " + err.Error())
				}
			}
			if err := srv.Run(cmd.Context()); err != nil {
				if stderrors.Is(err, syscall.EADDRINUSE) {
					return errors.New("E200").Wrap(err)
				}
				return errors.New("E202").Wrap(err)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload the log level when the configuration file changes")
	return cmd
}

// watchLogLevel applies the log level of the configuration file whenever it
// changes. A --log-level flag pins the level. Other settings need a restart.
func watchLogLevel(ctx context.Context, cfg *config.Config, pinned bool, logger *slog.Logger, level *slog.LevelVar) error {
	path := cfg.Path()
	if path == "" {
		return fmt.Errorf("no configuration file loaded")
	}
	logger = logger.With("component", "config")
	return config.Watch(ctx, path, func(next *config.Config, err error) {
		if err != nil {
			logger.Warn("configuration reload failed", "path", path, "error", err)
			return
		}
		if pinned {
			return
		}
		lvl, err := next.Level()
		if err != nil {
			logger.Warn("configuration reload failed", "path", path, "error", err)
			return
		}
		if lvl != level.Level() {
			level.Set(lvl)
			logger.Info("log level changed", "level", lvl)
		}
	})
}

// newServer assembles the server described by cfg.
// The returned level controls the logger of the server.
func newServer(cfg *config.Config, reg prometheus.Registerer) (*server.Server, *slog.LevelVar, error) {
	sc, err := cfg.ServerConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, level, err := cfg.Logger(os.Stderr)
	if err != nil {
		return nil, nil, err
	}

	sc.Logger = logger
	sc.RootFactory = demo.Desktop
	if dir := cfg.StaticDir(); dir != "" {
		sc.Static = server.NewStatic(dir)
	}
	if cfg.Metrics.Enabled {
		opts := []middleware.MetricsOption{middleware.WithRegistry(reg)}
		if cfg.Metrics.Namespace != "" {
			opts = append(opts, middleware.WithNamespace(cfg.Metrics.Namespace))
		}
		sc.Metrics = middleware.NewMetrics(opts...)
	}
	if cfg.Tracing.Enabled {
		sc.Tracing = middleware.NewTracing()
	}
	return server.New(sc), level, nil
}
