// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plugins "github.com/holomush/agenthost/internal/plugin"
	"github.com/holomush/agenthost/pkg/agent"
)

func TestInstance_RejectsCallsBeforeInitialize(t *testing.T) {
	inst := plugins.NewInstance(&probeAgent{}, plugins.InstanceOptions{})
	ctx := context.Background()

	_, err := inst.ExecuteOperation(ctx, "sum", []any{1, 2})
	assert.True(t, plugins.HasCode(err, plugins.CodeNotInitialized))

	err = inst.HandleEvent(ctx, agent.NewEvent("ping", nil))
	assert.True(t, plugins.HasCode(err, plugins.CodeNotInitialized))

	_, err = inst.GetState(ctx)
	assert.True(t, plugins.HasCode(err, plugins.CodeNotInitialized))
	assert.False(t, inst.Initialized())
	assert.Nil(t, inst.Operations())
}

func TestInstance_InitializeHandsOverHost(t *testing.T) {
	impl := &probeAgent{}
	inst := plugins.NewInstance(impl, plugins.InstanceOptions{})
	host := plugins.DetachedContext("probe-1", nil)

	require.NoError(t, inst.Initialize(context.Background(), host))

	assert.True(t, inst.Initialized())
	assert.Same(t, host, impl.host)
	assert.Equal(t, "probe-1", impl.host.AgentID())
}

func TestInstance_InitializeIsIdempotent(t *testing.T) {
	impl := &probeAgent{}
	inst := plugins.NewInstance(impl, plugins.InstanceOptions{})
	first := plugins.DetachedContext("a", nil)

	require.NoError(t, inst.Initialize(context.Background(), first))
	require.NoError(t, inst.Initialize(context.Background(), plugins.DetachedContext("b", nil)))

	assert.Same(t, first, impl.host)
}

func TestInstance_InitializeFailure(t *testing.T) {
	impl := &probeAgent{initErr: errBoom}
	inst := plugins.NewInstance(impl, plugins.InstanceOptions{})

	err := inst.Initialize(context.Background(), plugins.DetachedContext("p", nil))

	require.Error(t, err)
	assert.Equal(t, plugins.CodeInitFailed, plugins.CodeOf(err))
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, inst.Initialized())
}

func TestInstance_DisposeRunsHookOnce(t *testing.T) {
	inst, impl := loadProbe(t)

	require.NoError(t, inst.Dispose())
	require.NoError(t, inst.Dispose())

	assert.Equal(t, int32(1), impl.disposed.Load())
	assert.True(t, inst.Disposed())
}

func TestInstance_RejectsCallsAfterDispose(t *testing.T) {
	inst, _ := loadProbe(t)
	require.NoError(t, inst.Dispose())
	ctx := context.Background()

	_, err := inst.ExecuteOperation(ctx, "sum", []any{1, 2})
	assert.True(t, plugins.HasCode(err, plugins.CodeDisposed))

	err = inst.SetState(ctx, 1)
	assert.True(t, plugins.HasCode(err, plugins.CodeDisposed))

	err = inst.Initialize(ctx, plugins.DetachedContext("again", nil))
	assert.True(t, plugins.HasCode(err, plugins.CodeDisposed))
}

func TestInstance_DisposeFailure(t *testing.T) {
	inst, impl := loadProbe(t)
	impl.disposeErr = errBoom

	err := inst.Dispose()

	assert.Equal(t, plugins.CodeDisposeFailed, plugins.CodeOf(err))
	assert.True(t, inst.Disposed())
	assert.NoError(t, inst.Dispose())
}

func TestInstance_StateRoundTrip(t *testing.T) {
	inst, impl := loadProbe(t)
	ctx := context.Background()

	got, err := inst.GetState(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	want := map[string]any{"count": 3}
	require.NoError(t, inst.SetState(ctx, want))
	require.NoError(t, inst.SetState(ctx, want))

	got, err = inst.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, want, impl.state.Get())
}

func TestInstance_DistinctIDsPerInstance(t *testing.T) {
	a := plugins.NewInstance(&probeAgent{}, plugins.InstanceOptions{Identity: "u#Probe"})
	b := plugins.NewInstance(&probeAgent{}, plugins.InstanceOptions{Identity: "u#Probe"})

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, a.Identity(), b.Identity())
}

func TestInstance_OperationLookup(t *testing.T) {
	inst, _ := loadProbe(t)

	op, ok := inst.Operation("sum")
	require.True(t, ok)
	assert.Equal(t, "Add", op.UnderlyingName)

	_, ok = inst.Operation("Missing")
	assert.False(t, ok)
	assert.Equal(t, "Probe", inst.Metadata().Name)
	assert.Len(t, inst.Handlers(), 4)
}
