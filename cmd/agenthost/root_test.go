// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	output, err := execute(t, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"run", "status", "invoke", "validate", "reload", "stop"} {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
}

func TestRootCommand_ConfigFlags(t *testing.T) {
	output, err := execute(t, "--help")
	require.NoError(t, err)

	for _, flag := range []string{
		"--config", "--plugins-dir", "--hot-reload", "--isolation", "--control-socket",
		"--load-timeout", "--delivery-timeout", "--watch-debounce",
		"--log-format", "--log-level", "--metrics-addr",
	} {
		assert.Contains(t, output, flag)
	}
}

func TestRootCommand_ConfigFlag(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantFlag string
	}{
		{"separate value", []string{"--config", "/path/to/config.yaml", "--help"}, "/path/to/config.yaml"},
		{"with equals", []string{"--config=/etc/agenthost.yaml", "--help"}, "/etc/agenthost.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile = ""
			cmd := NewRootCmd()
			cmd.SetOut(new(discard))
			cmd.SetArgs(tt.args)

			require.NoError(t, cmd.Execute())
			assert.Equal(t, tt.wantFlag, configFile)
		})
	}
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	dir := pluginsDir(t)

	_, err := execute(t, "status", "--plugins-dir", dir, "--log-format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_format")
}

type discard struct{}

func (*discard) Write(p []byte) (int, error) { return len(p), nil }
