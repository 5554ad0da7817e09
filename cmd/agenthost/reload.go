// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewReloadCmd creates the reload subcommand.
func NewReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload <agent>...",
		Short: "Reload agents of a running host from disk",
		Long: `Ask the running host to re-read the manifest and code of each named
agent and swap in the new instance, carrying its state across. Requires
hot_reload to be enabled on the host.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			failed := 0
			for _, id := range args {
				instance, err := client.Reload(ctx, id)
				if err != nil {
					failed++
					cmd.Printf("FAIL %s: %v\n", id, err)
					continue
				}
				cmd.Printf("ok   %s (instance %s)\n", id, instance)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d agent(s) failed to reload", failed, len(args))
			}
			return nil
		},
	}
}
