// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plugins "github.com/holomush/agenthost/internal/plugin"
	"github.com/holomush/agenthost/pkg/agent"
)

func TestDispatch_SpecificHandlerReceivesData(t *testing.T) {
	inst, impl := loadProbe(t)

	err := inst.HandleEvent(context.Background(), agent.NewEvent("alert", map[string]any{"level": 3}))
	require.NoError(t, err)

	assert.Equal(t, []string{"OnAlert"}, impl.recorded())
	assert.Equal(t, map[string]any{"level": 3}, impl.lastData)
}

func TestDispatch_FallsBackToWildcard(t *testing.T) {
	inst, impl := loadProbe(t)
	ev := agent.NewEvent("weather.changed", "rain")

	require.NoError(t, inst.HandleEvent(context.Background(), ev))

	assert.Equal(t, []string{"OnAny"}, impl.recorded())
	assert.Equal(t, ev.Type, impl.lastEvent.Type)
	assert.Equal(t, "rain", impl.lastEvent.Data)
}

func TestDispatch_HandlerWithoutParameters(t *testing.T) {
	inst, impl := loadProbe(t)

	require.NoError(t, inst.HandleEvent(context.Background(), agent.NewEvent("ping", nil)))

	assert.Equal(t, []string{"OnPing"}, impl.recorded())
}

func TestDispatch_HandlerFailure(t *testing.T) {
	inst, _ := loadProbe(t)

	err := inst.HandleEvent(context.Background(), agent.NewEvent("broken", nil))

	require.Error(t, err)
	assert.Equal(t, plugins.CodeEventHandlerExecution, plugins.CodeOf(err))
	assert.ErrorIs(t, err, errBoom)
}

func TestDispatch_UnhandledHookCalledOnce(t *testing.T) {
	impl := &quietAgent{}
	inst := plugins.NewInstance(impl, plugins.InstanceOptions{})
	require.NoError(t, inst.Initialize(context.Background(), plugins.DetachedContext("quiet", nil)))

	require.NoError(t, inst.HandleEvent(context.Background(), agent.NewEvent("unknown", nil)))
	assert.Equal(t, int32(1), impl.unhandled.Load())

	require.NoError(t, inst.HandleEvent(context.Background(), agent.NewEvent("tick", nil)))
	assert.Equal(t, int32(1), impl.unhandled.Load())
}

type deafAgent struct{}

func (deafAgent) Describe() agent.Declaration { return agent.Declaration{} }

func TestDispatch_NoHandlerWarnsAndSucceeds(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	inst := plugins.NewInstance(deafAgent{}, plugins.InstanceOptions{Logger: logger})
	require.NoError(t, inst.Initialize(context.Background(), plugins.DetachedContext("deaf", nil)))

	err := inst.HandleEvent(context.Background(), agent.NewEvent("anything", nil))

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "no handler for event")
	assert.Contains(t, buf.String(), "event_type=anything")
}

func TestRouter_DirectDispatchWithFallback(t *testing.T) {
	ix := plugins.BuildIndex(deafAgent{}, nil)
	fallback := &quietAgent{}

	err := plugins.NewRouter(nil).Dispatch(context.Background(), ix, "deaf", fallback, agent.NewEvent("x", nil))

	require.NoError(t, err)
	assert.Equal(t, int32(1), fallback.unhandled.Load())
}

func TestDispatch_CancelledContext(t *testing.T) {
	inst, impl := loadProbe(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := inst.HandleEvent(ctx, agent.NewEvent("alert", nil))

	assert.True(t, plugins.HasCode(err, plugins.CodeCancelled))
	assert.Empty(t, impl.recorded())
}
