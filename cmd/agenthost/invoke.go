// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/agenthost/internal/config"
)

// invokeConfig holds configuration for the invoke command.
type invokeConfig struct {
	timeout time.Duration
	local   bool
}

// NewInvokeCmd creates the invoke subcommand.
func NewInvokeCmd() *cobra.Command {
	cfg := &invokeConfig{}

	cmd := &cobra.Command{
		Use:   "invoke <agent> <operation> [args...]",
		Short: "Load all agents and execute one operation",
		Long: `Execute an operation on an agent. When a host is running, the call is
sent over the control socket; otherwise, or with --local, every agent in
the plugins directory is loaded first. Each argument is decoded as JSON;
arguments that are not valid JSON are passed as strings. The result is
printed as JSON.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(cmd, cfg, args[0], args[1], args[2:])
		},
	}

	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 30*time.Second, "maximum time for the operation")
	cmd.Flags().BoolVar(&cfg.local, "local", false, "load agents locally even if a host is running")

	return cmd
}

func runInvoke(cmd *cobra.Command, cfg *invokeConfig, agentID, operation string, rawArgs []string) error {
	hostCfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	args := parseArgs(rawArgs)
	var result any
	if client, ok := runningHost(ctx, hostCfg); ok && !cfg.local {
		ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
		result, err = client.Invoke(ctx, agentID, operation, args)
	} else {
		result, err = invokeLocal(ctx, hostCfg, logger, cfg.timeout, agentID, operation, args)
	}
	if err != nil {
		return fmt.Errorf("%s.%s failed: %w", agentID, operation, err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	cmd.Println(string(out))
	return nil
}

// invokeLocal loads every agent and executes one operation.
func invokeLocal(ctx context.Context, cfg *config.Config, logger *slog.Logger, timeout time.Duration, agentID, operation string, args []any) (any, error) {
	mgr := newManager(cfg, logger)
	defer func() { _ = mgr.Close(context.Background()) }()

	if err := mgr.LoadAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to load agents: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return mgr.Execute(ctx, agentID, operation, args)
}

// parseArgs decodes each argument as JSON, falling back to the raw string.
func parseArgs(raw []string) []any {
	args := make([]any, len(raw))
	for i, s := range raw {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			v = s
		}
		args[i] = v
	}
	return args
}
