// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/agenthost/internal/plugin/hostfunc"
	"github.com/holomush/agenthost/pkg/agent"
)

// Hook functions an agent table may define.
const (
	hookInit      = "init"
	hookDispose   = "dispose"
	hookUnhandled = "on_unhandled"
)

// Compile-time interface checks.
var (
	_ agent.Describer             = (*luaAgent)(nil)
	_ agent.Invoker               = (*luaAgent)(nil)
	_ agent.Initializer           = (*luaAgent)(nil)
	_ agent.Disposer              = (*luaAgent)(nil)
	_ agent.StateAware            = (*luaAgent)(nil)
	_ agent.UnhandledEventHandler = (*luaAgent)(nil)
)

// luaAgent is one instance of a Lua agent type: a table whose metatable
// indexes the type table.
type luaAgent struct {
	typeName  string
	vm        *vm
	self      *lua.LTable
	decl      agent.Declaration
	state     *agent.State
	hostFuncs *hostfunc.Functions
	logger    *slog.Logger
	release   func()
}

// declarationOf reads the metadata, operations and handlers fields of a
// type table.
func declarationOf(t *lua.LTable) (agent.Declaration, error) {
	raw := make(map[string]any, 3)
	for _, field := range []string{"metadata", "operations", "handlers"} {
		if v := t.RawGetString(field); v != lua.LNil {
			raw[field] = hostfunc.ToGo(v)
		}
	}
	return agent.DecodeDeclaration(raw)
}

func (a *luaAgent) Describe() agent.Declaration { return a.decl }

func (a *luaAgent) UseState(state *agent.State) { a.state = state }

// OnInitialize installs the host module as self.agent and runs init.
func (a *luaAgent) OnInitialize(ctx context.Context, host agent.Context) error {
	a.vm.mu.Lock()
	defer a.vm.mu.Unlock()

	L := a.vm.L
	L.SetField(a.self, hostfunc.ModuleName, a.hostFuncs.Module(L, host, a.state))
	a.logger = host.Logger()
	if _, err := a.callHook(ctx, hookInit); err != nil {
		return err
	}
	return nil
}

// OnDispose runs dispose and releases the state.
func (a *luaAgent) OnDispose() error {
	defer a.release()

	a.vm.mu.Lock()
	defer a.vm.mu.Unlock()
	_, err := a.callHook(context.Background(), hookDispose)
	return err
}

// OnUnhandledEvent runs on_unhandled if the type defines it.
func (a *luaAgent) OnUnhandledEvent(ctx context.Context, event agent.Event) error {
	a.vm.mu.Lock()
	defer a.vm.mu.Unlock()

	found, err := a.callHook(ctx, hookUnhandled, event)
	if !found {
		a.logger.WarnContext(ctx, "no handler for event",
			"event_type", event.Type,
			"type", a.typeName)
	}
	return err
}

// Invoke calls method with self as the first argument and returns its
// first result converted to Go.
func (a *luaAgent) Invoke(ctx context.Context, method string, args []any) (any, error) {
	a.vm.mu.Lock()
	defer a.vm.mu.Unlock()

	fn, ok := a.vm.L.GetField(a.self, method).(*lua.LFunction)
	if !ok {
		return nil, oops.In("lua").With("type", a.typeName).With("method", method).
			Errorf("method %q is not a function", method)
	}
	return a.call(ctx, method, fn, args)
}

// callHook calls an optional hook. found is false if the type does not
// define it.
func (a *luaAgent) callHook(ctx context.Context, name string, args ...any) (found bool, err error) {
	fn, ok := a.vm.L.GetField(a.self, name).(*lua.LFunction)
	if !ok {
		return false, nil
	}
	_, err = a.call(ctx, name, fn, args)
	return true, err
}

// call runs fn with the vm lock held.
func (a *luaAgent) call(ctx context.Context, method string, fn *lua.LFunction, args []any) (any, error) {
	L := a.vm.L
	L.SetContext(ctx)
	defer L.RemoveContext()

	params := make([]lua.LValue, 0, len(args)+1)
	params = append(params, a.self)
	for _, arg := range args {
		params = append(params, hostfunc.ToLua(L, arg))
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, params...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr //nolint:wrapcheck // cancellation is classified by the executor
		}
		return nil, oops.In("lua").With("type", a.typeName).With("method", method).Wrap(err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return hostfunc.ToGo(ret), nil
}
