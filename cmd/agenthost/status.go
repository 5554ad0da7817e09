// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/agenthost/internal/config"
	"github.com/holomush/agenthost/internal/control"
)

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
	source     string
	local      bool
}

// statusReport is the JSON form of the status output.
type statusReport struct {
	Host   *control.StatusResponse `json:"host,omitempty"`
	Agents []control.AgentStatus   `json:"agents"`
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the load status of each agent",
		Long: `Show the recorded load outcome of each agent artifact (success,
duplicate_declaration, already_loaded or error with its reason).

When a host is running, its status is read over the control socket.
Otherwise, or with --local, every agent in the plugins directory is loaded
once, reported and unloaded again.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().StringVar(&cfg.source, "source", "", "only show agents from this source")
	cmd.Flags().BoolVar(&cfg.local, "local", false, "load agents locally even if a host is running")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	hostCfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var report statusReport
	if client, ok := runningHost(ctx, hostCfg); ok && !cfg.local {
		report.Host, err = client.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to query host: %w", err)
		}
		report.Agents, err = client.Agents(ctx, cfg.source)
		if err != nil {
			return fmt.Errorf("failed to query agents: %w", err)
		}
	} else {
		report.Agents, err = localStatus(ctx, hostCfg, logger, cfg.source)
		if err != nil {
			return err
		}
	}

	var output string
	if cfg.jsonOutput {
		output, err = formatStatusJSON(report)
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
	} else {
		output = formatStatusTable(report)
	}

	cmd.Println(output)
	return nil
}

// localStatus loads every agent once and returns the recorded outcomes.
func localStatus(ctx context.Context, cfg *config.Config, logger *slog.Logger, source string) ([]control.AgentStatus, error) {
	mgr := newManager(cfg, logger)
	defer func() { _ = mgr.Close(context.Background()) }()

	if err := mgr.LoadAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to load agents: %w", err)
	}
	return control.CollectStatus(mgr.QueryLoadStatus(source)), nil
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(report statusReport) string {
	var buf []byte
	if report.Host != nil {
		buf = fmt.Appendf(buf, "host running (pid %d, up %s, %d agent(s))\n\n",
			report.Host.PID, formatUptime(report.Host.UptimeSeconds), report.Host.Agents)
	}
	if len(report.Agents) == 0 {
		return string(append(buf, "no agents found"...))
	}

	w := tabwriter.NewWriter((*byteWriter)(&buf), 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "AGENT\tSOURCE\tTYPE\tOUTCOME\tREASON")
	_, _ = fmt.Fprintln(w, "-----\t------\t----\t-------\t------")

	for _, st := range report.Agents {
		reason := st.Reason
		if reason == "" {
			reason = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", st.Artifact, st.Source, st.Type, st.Outcome, reason)
	}

	_ = w.Flush()
	return string(buf)
}

// formatUptime formats seconds as a duration rounded to the second.
func formatUptime(seconds int64) string {
	return (time.Duration(seconds) * time.Second).String()
}

// formatStatusJSON formats the status as JSON.
func formatStatusJSON(report statusReport) (string, error) {
	if report.Agents == nil {
		report.Agents = []control.AgentStatus{}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal status: %w", err)
	}
	return string(data), nil
}

// byteWriter adapts a byte slice to io.Writer.
type byteWriter []byte

func (b *byteWriter) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}
