// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	plugins "github.com/holomush/agenthost/internal/plugin"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <manifest|dir>...",
		Short: "Validate agent manifests against the schema",
		Long: `Validate agent.yaml files against the manifest JSON Schema and the
manifest rules (name format, semantic version, type, entry path). A directory
argument validates the agent.yaml inside it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			invalid := 0
			for _, arg := range args {
				m, err := validateManifest(arg)
				if err != nil {
					invalid++
					cmd.Printf("FAIL %s: %s\n", arg, plugins.FormatSchemaError(err))
					continue
				}
				cmd.Printf("ok   %s (%s %s, %s)\n", arg, m.Name, m.Version, m.Type)
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d manifest(s) invalid", invalid, len(args))
			}
			return nil
		},
	}
}

func validateManifest(path string) (*plugins.Manifest, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, plugins.ManifestFile)
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return plugins.LoadManifest(data)
}
