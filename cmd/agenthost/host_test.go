// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plugins "github.com/holomush/agenthost/internal/plugin"
)

// startHost runs a host in the background and waits until it is ready.
// The returned channel yields runHost's result.
func startHost(t *testing.T) (string, <-chan error) {
	t.Helper()
	cfg := testConfig(t)
	cfg.HotReload = true
	cfg.WatchDebounce = time.Hour
	require.NotEmpty(t, cfg.ControlSocket)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	deps := &RunDeps{Ready: func(*plugins.Manager) { close(ready) }}
	cmd, _ := testCmd()
	go func() { done <- runHost(ctx, cfg, quietLogger(), cmd, deps) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	})

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("host exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("host did not become ready")
	}
	return cfg.PluginsDir, done
}

func TestStatus_RunningHost(t *testing.T) {
	startHost(t)

	output, err := execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, output, "host running (pid ")
	assert.Contains(t, output, "1 agent(s))")
	assert.Contains(t, output, "WeatherAgent")
}

func TestStatus_LocalIgnoresRunningHost(t *testing.T) {
	dir, _ := startHost(t)

	output, err := execute(t, "status", "--local", "--plugins-dir", dir)
	require.NoError(t, err)
	assert.NotContains(t, output, "host running")
	assert.Contains(t, output, "WeatherAgent")
}

func TestInvoke_RunningHost(t *testing.T) {
	startHost(t)

	output, err := execute(t, "invoke", "weather", "report", "foggy")
	require.NoError(t, err)
	assert.Contains(t, output, `"foggy in Lisbon"`)

	_, err = execute(t, "invoke", "weather", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPERATION_NOT_FOUND")
}

func TestReload_RunningHost(t *testing.T) {
	startHost(t)

	output, err := execute(t, "reload", "weather")
	require.NoError(t, err)
	assert.Contains(t, output, "ok   weather (instance ")

	output, err = execute(t, "reload", "weather", "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 agent(s) failed to reload")
	assert.Contains(t, output, "FAIL ghost")
}

func TestStop_RunningHost(t *testing.T) {
	_, done := startHost(t)

	output, err := execute(t, "stop")
	require.NoError(t, err)
	assert.Contains(t, output, "shutdown initiated")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("host did not stop")
	}
}

func TestHostCommands_RequireRunningHost(t *testing.T) {
	pluginsDir(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"reload not running", []string{"reload", "weather"}, "host is not running"},
		{"stop not running", []string{"stop"}, "host is not running"},
		{"reload socket disabled", []string{"reload", "weather", "--control-socket="}, "control socket is disabled"},
		{"stop socket disabled", []string{"stop", "--control-socket="}, "control socket is disabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReload_RequiresAgent(t *testing.T) {
	_, err := execute(t, "reload")
	require.Error(t, err)
}
