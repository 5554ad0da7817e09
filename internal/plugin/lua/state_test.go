// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	pluginlua "github.com/holomush/agenthost/internal/plugin/lua"
)

func newState(t *testing.T, opts ...pluginlua.FactoryOption) *lua.LState {
	t.Helper()
	L, err := pluginlua.NewStateFactory(opts...).NewState(context.Background())
	require.NoError(t, err)
	t.Cleanup(L.Close)
	return L
}

func TestStateFactory_NewState_LoadsSafeLibraries(t *testing.T) {
	L := newState(t)

	for _, lib := range []string{"table", "string", "math", "coroutine"} {
		assert.NotEqual(t, lua.LTNil, L.GetGlobal(lib).Type(), "library %q not loaded", lib)
	}
}

func TestStateFactory_NewState_BlocksUnsafeLibraries(t *testing.T) {
	L := newState(t)

	for _, lib := range []string{"os", "io", "debug", "package", "channel"} {
		assert.Equal(t, lua.LTNil, L.GetGlobal(lib).Type(), "unsafe library %q should not be loaded", lib)
	}
}

func TestStateFactory_NewState_BlocksCodeLoading(t *testing.T) {
	L := newState(t)

	for _, fn := range []string{"dofile", "loadfile", "loadstring", "load", "require", "module"} {
		assert.Equal(t, lua.LTNil, L.GetGlobal(fn).Type(), "%s should be removed", fn)
	}
	err := L.DoString(`dofile("/etc/passwd")`)
	assert.Error(t, err)
}

func TestStateFactory_NewState_CanExecuteLua(t *testing.T) {
	L := newState(t)

	require.NoError(t, L.DoString(`
		result = string.upper("hello") .. table.concat({"a", "b"}, ",") .. math.max(1, 2)
	`))
	assert.Equal(t, "HELLOa,b2", L.GetGlobal("result").String())
}

func TestStateFactory_NewState_StatesAreIndependent(t *testing.T) {
	first := newState(t)
	second := newState(t)

	require.NoError(t, first.DoString(`shared = "first"`))
	assert.Equal(t, lua.LTNil, second.GetGlobal("shared").Type())
}

func TestStateFactory_WithCallStackSize_LimitsRecursion(t *testing.T) {
	L := newState(t, pluginlua.WithCallStackSize(16))

	err := L.DoString(`
		local function deep(n) return deep(n + 1) + 1 end
		deep(0)
	`)
	assert.Error(t, err)
}

func TestStateFactory_NewState_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	L, err := pluginlua.NewStateFactory().NewState(ctx)
	require.NoError(t, err)
	defer L.Close()

	err = L.DoString(`while true do end`)
	assert.Error(t, err)
}
