// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/agenthost/internal/config"
	"github.com/holomush/agenthost/internal/observability"
	plugins "github.com/holomush/agenthost/internal/plugin"
)

type fakeObsServer struct {
	metrics     *observability.Metrics
	ready       observability.ReadinessChecker
	startErr    error
	errCh       chan error
	stopped     bool
	readySeen   bool
	notReadyErr error
}

func newFakeObsServer() *fakeObsServer {
	return &fakeObsServer{
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
		errCh:   make(chan error, 1),
	}
}

func (s *fakeObsServer) Start() (<-chan error, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	return s.errCh, nil
}

func (s *fakeObsServer) Stop(context.Context) error {
	s.stopped = true
	return nil
}

func (s *fakeObsServer) Addr() string                    { return "127.0.0.1:0" }
func (s *fakeObsServer) Metrics() *observability.Metrics { return s.metrics }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.PluginsDir = pluginsDir(t)
	cfg.MetricsAddr = ""
	return &cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCmd() (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	return cmd, buf
}

func TestRunHost_ServesUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	cmd, buf := testCmd()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var report string
	deps := &RunDeps{Ready: func(mgr *plugins.Manager) {
		got, err := mgr.Execute(ctx, "weather", "report", []any{"cloudy"})
		if err == nil {
			report, _ = got.(string)
		}
		cancel()
	}}

	require.NoError(t, runHost(ctx, cfg, quietLogger(), cmd, deps))
	assert.Equal(t, "cloudy in Lisbon", report)
	assert.Contains(t, buf.String(), "agenthost started with 1 agent(s)")
}

func TestRunHost_HotReloadStartsWatcher(t *testing.T) {
	cfg := testConfig(t)
	cfg.HotReload = true
	cfg.WatchDebounce = 10 * time.Millisecond
	cmd, _ := testCmd()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var targets []plugins.WatchTarget
	deps := &RunDeps{Ready: func(mgr *plugins.Manager) {
		targets = mgr.WatchTargets()
		cancel()
	}}

	require.NoError(t, runHost(ctx, cfg, quietLogger(), cmd, deps))
	require.Len(t, targets, 1)
	assert.Equal(t, "weather", targets[0].AgentID)
}

func TestRunHost_ObservabilityServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.MetricsAddr = "127.0.0.1:0"
	cmd, _ := testCmd()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := newFakeObsServer()
	deps := &RunDeps{
		ObservabilityServerFactory: func(_ string, _ *plugins.Manager, ready observability.ReadinessChecker) ObservabilityServer {
			obs.ready = ready
			obs.notReadyErr = ready()
			return obs
		},
		Ready: func(*plugins.Manager) {
			obs.readySeen = obs.ready() == nil
			cancel()
		},
	}

	require.NoError(t, runHost(ctx, cfg, quietLogger(), cmd, deps))
	require.Error(t, obs.notReadyErr)
	assert.Contains(t, obs.notReadyErr.Error(), "agents loading")
	assert.True(t, obs.readySeen)
	assert.True(t, obs.stopped)
	assert.InDelta(t, 1, testutil.ToFloat64(obs.metrics.Artifacts.WithLabelValues("success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(obs.metrics.Agents), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(obs.metrics.BuildInfo.WithLabelValues(version)), 0)
}

func TestRunHost_ObservabilityStartFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.MetricsAddr = "127.0.0.1:0"
	cmd, _ := testCmd()

	obs := newFakeObsServer()
	obs.startErr = errors.New("address in use")
	deps := &RunDeps{
		ObservabilityServerFactory: func(string, *plugins.Manager, observability.ReadinessChecker) ObservabilityServer { return obs },
	}

	err := runHost(context.Background(), cfg, quietLogger(), cmd, deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
}

func TestRunHost_ServerErrorTriggersShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.MetricsAddr = "127.0.0.1:0"
	cmd, _ := testCmd()

	obs := newFakeObsServer()
	deps := &RunDeps{
		ObservabilityServerFactory: func(string, *plugins.Manager, observability.ReadinessChecker) ObservabilityServer { return obs },
		Ready:                      func(*plugins.Manager) { obs.errCh <- errors.New("listener closed") },
	}

	done := make(chan error, 1)
	go func() { done <- runHost(context.Background(), cfg, quietLogger(), cmd, deps) }()

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.True(t, obs.stopped)
	case <-time.After(5 * time.Second):
		t.Fatal("runHost did not stop after server error")
	}
}

func TestMonitorServerErrors_ClosedChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error)
	close(errCh)
	monitorServerErrors(ctx, cancel, errCh, "test")
	assert.NoError(t, ctx.Err())
}
