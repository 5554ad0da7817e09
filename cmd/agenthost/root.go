// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holomush/agenthost/internal/config"
	"github.com/holomush/agenthost/internal/control"
	"github.com/holomush/agenthost/internal/logging"
	plugins "github.com/holomush/agenthost/internal/plugin"
	"github.com/holomush/agenthost/internal/plugin/goplugin"
	"github.com/holomush/agenthost/internal/plugin/js"
	"github.com/holomush/agenthost/internal/plugin/lua"
	"github.com/holomush/agenthost/internal/plugin/native"
)

const serviceName = "agenthost"

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the agenthost CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agenthost",
		Short: "agenthost - host for Lua, JavaScript and Go agents",
		Long: `agenthost loads agents from a plugins directory, routes operations
and events to them, and hot-reloads them when their files change.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/agenthost/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewInvokeCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewReloadCmd())
	cmd.AddCommand(NewStopCmd())

	return cmd
}

// loadConfig reads the configuration for cmd and installs the default
// logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	logger := logging.SetDefault(serviceName, version, cfg.LogFormat, cfg.Level())
	return cfg, logger, nil
}

// newManager creates a manager with every runtime registered.
func newManager(cfg *config.Config, logger *slog.Logger) *plugins.Manager {
	return plugins.NewManager(
		plugins.WithPluginsDir(cfg.PluginsDir),
		plugins.WithOptions(cfg.PluginOptions()),
		plugins.WithDeliveryTimeout(cfg.DeliveryTimeout),
		plugins.WithLogger(logger),
		plugins.WithRuntime(lua.NewRuntime(lua.WithLogger(logger))),
		plugins.WithRuntime(js.NewRuntime(logger)),
		plugins.WithRuntime(goplugin.NewRuntimeWithFactory(&goplugin.DefaultClientFactory{
			Logger: logging.PluginLogger(logger),
		})),
		plugins.WithRuntime(native.NewRuntime()),
	)
}

// runningHost returns a client for the host listening on the configured
// control socket, or false when none responds.
func runningHost(ctx context.Context, cfg *config.Config) (*control.Client, bool) {
	if cfg.ControlSocket == "" {
		return nil, false
	}
	client := control.NewClient(cfg.ControlSocket)
	if _, err := client.Health(ctx); err != nil {
		return nil, false
	}
	return client, true
}

// requireHost is runningHost for commands that only work against a
// running host.
func requireHost(ctx context.Context, cfg *config.Config) (*control.Client, error) {
	if cfg.ControlSocket == "" {
		return nil, fmt.Errorf("control socket is disabled")
	}
	client, ok := runningHost(ctx, cfg)
	if !ok {
		return nil, fmt.Errorf("%w at %s", control.ErrNotRunning, cfg.ControlSocket)
	}
	return client, nil
}
