// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/agenthost/internal/config"
	"github.com/holomush/agenthost/internal/control"
	"github.com/holomush/agenthost/internal/observability"
	plugins "github.com/holomush/agenthost/internal/plugin"
	"github.com/holomush/agenthost/internal/plugin/watch"
)

// shutdownTimeout bounds agent disposal and server shutdown.
const shutdownTimeout = 10 * time.Second

// ObservabilityServer is the part of observability.Server the host uses.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// RunDeps contains injectable dependencies for the run command.
// All fields with nil values will use their default implementations.
type RunDeps struct {
	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer with the engine metrics and the
	// manager's load status registered
	ObservabilityServerFactory func(addr string, mgr *plugins.Manager, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// Ready is called once agents are loaded and, with hot reload, watched.
	Ready func(*plugins.Manager)
}

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load all agents and serve them until interrupted",
		Long: `Load every agent in the plugins directory, serve metrics and health
probes, and hot-reload agents whose files change when hot_reload is enabled.
Stops on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runHost(ctx, cfg, logger, cmd, nil)
		},
	}
}

// runHost runs the host until ctx is done or a server fails.
func runHost(ctx context.Context, cfg *config.Config, logger *slog.Logger, cmd *cobra.Command, deps *RunDeps) error {
	if deps == nil {
		deps = &RunDeps{}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, mgr *plugins.Manager, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr,
				observability.WithReadiness(readinessChecker),
				observability.WithStatusSource(func() map[string]plugins.LoadStatus { return mgr.QueryLoadStatus("") }),
				observability.WithCollectors(plugins.RegisterMetrics),
			)
		}
	}

	if err := cfg.EnsurePluginsDir(); err != nil {
		return fmt.Errorf("failed to create plugins directory: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mgr := newManager(cfg, logger)
	var ready atomic.Bool
	var obsServer ObservabilityServer
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, mgr, readiness(&ready))
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		obsServer.Metrics().BuildInfo.WithLabelValues(version).Set(1)
	}

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := mgr.Close(shutdownCtx); err != nil {
			logger.Warn("error closing agents", "error", err)
		}
		if obsServer != nil {
			if err := obsServer.Stop(shutdownCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}
		logger.Info("shutdown complete")
	}()

	if err := mgr.LoadAll(ctx); err != nil {
		return fmt.Errorf("failed to load agents: %w", err)
	}
	agents := mgr.Agents()
	if obsServer != nil {
		obsServer.Metrics().Agents.Set(float64(len(agents)))
		obsServer.Metrics().RecordLoadStatus(mgr.QueryLoadStatus(""))
	}

	if cfg.HotReload {
		w := watch.New(mgr, watch.WithDebounce(cfg.WatchDebounce), watch.WithLogger(logger))
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer w.Close()
	}

	if cfg.ControlSocket != "" {
		ctrl := control.NewServer(cfg.ControlSocket, mgr, control.ShutdownFunc(cancel))
		if err := ctrl.Start(); err != nil {
			return fmt.Errorf("failed to start control socket: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if err := ctrl.Stop(stopCtx); err != nil {
				logger.Warn("error stopping control socket", "error", err)
			}
		}()
	}

	ready.Store(true)
	if deps.Ready != nil {
		deps.Ready(mgr)
	}
	cmd.Printf("agenthost started with %d agent(s)\n", len(agents))
	logger.Info("host ready",
		"plugins_dir", cfg.PluginsDir,
		"agents", len(agents),
		"hot_reload", cfg.HotReload,
		"control_socket", cfg.ControlSocket,
	)

	<-ctx.Done()
	logger.Info("shutting down...")
	return nil
}

// readiness reports the host as loading until ready is set.
func readiness(ready *atomic.Bool) observability.ReadinessChecker {
	return func() error {
		if !ready.Load() {
			return errors.New("agents loading")
		}
		return nil
	}
}

// monitorServerErrors cancels ctx when a server reports an error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
