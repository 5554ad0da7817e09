// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewStopCmd creates the stop subcommand.
func NewStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running host",
		Long:  `Ask the running host to unload its agents and exit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			client, err := requireHost(ctx, cfg)
			if err != nil {
				return err
			}
			if err := client.Shutdown(ctx); err != nil {
				return fmt.Errorf("failed to stop host: %w", err)
			}
			cmd.Println("shutdown initiated")
			return nil
		},
	}
}
