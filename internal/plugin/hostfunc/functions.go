// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package hostfunc provides host functions to Lua agents.
//
// Host functions expose the agent's host context to scripts as the
// "agent" module. Capability checks happen in the host context, so a
// denied call returns nil plus an error message like any other failure.
package hostfunc

import (
	"log/slog"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/agenthost/pkg/agent"
)

// ModuleName is the global the module is registered under.
const ModuleName = "agent"

// DefaultRequestTimeout applies to agent.request calls without a timeout.
const DefaultRequestTimeout = 5 * time.Second

// Functions provides host functions to Lua agents.
type Functions struct {
	requestTimeout time.Duration
}

// Option configures Functions.
type Option func(*Functions)

// WithRequestTimeout sets the default agent.request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(f *Functions) { f.requestTimeout = d }
}

// New creates host functions.
func New(opts ...Option) *Functions {
	f := &Functions{requestTimeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Module builds the agent module bound to host and state. state may be nil,
// in which case state_get returns nil and state_set fails.
func (f *Functions) Module(L *lua.LState, host agent.Context, state *agent.State) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "id", lua.LString(host.AgentID()))
	L.SetField(mod, "log", L.NewFunction(f.logFn(host)))
	L.SetField(mod, "config", L.NewFunction(f.configFn(host)))
	L.SetField(mod, "new_id", L.NewFunction(newIDFn))
	L.SetField(mod, "publish", L.NewFunction(f.publishFn(host)))
	L.SetField(mod, "request", L.NewFunction(f.requestFn(host)))
	L.SetField(mod, "reply", L.NewFunction(f.replyFn(host)))
	L.SetField(mod, "call", L.NewFunction(f.callFn(host)))
	L.SetField(mod, "send", L.NewFunction(f.sendFn(host)))
	L.SetField(mod, "state_get", L.NewFunction(stateGetFn(state)))
	L.SetField(mod, "state_set", L.NewFunction(stateSetFn(state)))
	return mod
}

// Register sets the module as the agent global.
func (f *Functions) Register(L *lua.LState, host agent.Context, state *agent.State) {
	L.SetGlobal(ModuleName, f.Module(L, host, state))
}

func (f *Functions) logFn(host agent.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)

		var attrs []any
		if fields := optTable(L, 3); fields != nil {
			fields.ForEach(func(k, v lua.LValue) {
				attrs = append(attrs, k.String(), ToGo(v))
			})
		}

		logger := host.Logger()
		ctx := luaContext(L)
		switch level {
		case "debug":
			logger.DebugContext(ctx, message, attrs...)
		case "info":
			logger.InfoContext(ctx, message, attrs...)
		case "warn":
			logger.WarnContext(ctx, message, attrs...)
		case "error":
			logger.ErrorContext(ctx, message, attrs...)
		default:
			logger.InfoContext(ctx, message, attrs...)
		}
		return 0
	}
}

func (f *Functions) configFn(host agent.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		key := L.CheckString(1)
		if v, ok := host.Config().Lookup(key); ok {
			L.Push(lua.LString(v))
			return 1
		}
		if L.GetTop() >= 2 {
			L.Push(L.Get(2))
			return 1
		}
		L.Push(lua.LNil)
		return 1
	}
}

func newIDFn(L *lua.LState) int {
	L.Push(lua.LString(agent.NewID()))
	return 1
}

func (f *Functions) publishFn(host agent.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		eventType := L.CheckString(1)
		event := agent.NewEvent(eventType, ToGo(L.Get(2)))
		if err := host.Publish(luaContext(L), event); err != nil {
			return pushError(L, err.Error())
		}
		return pushSuccess(L, lua.LString(event.CorrelationID))
	}
}

func (f *Functions) requestFn(host agent.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		eventType := L.CheckString(1)
		data := ToGo(L.Get(2))
		timeout := f.requestTimeout
		if ms := L.OptNumber(3, 0); ms > 0 {
			timeout = time.Duration(float64(ms) * float64(time.Millisecond))
		}

		reply, err := host.Request(luaContext(L), agent.NewEvent(eventType, data), timeout)
		if err != nil {
			slog.Debug("agent.request failed",
				"agent", host.AgentID(),
				"event_type", eventType,
				"error", err)
			return pushError(L, err.Error())
		}
		return pushSuccess(L, EventTable(L, reply))
	}
}

// replyFn publishes an event carrying the correlation ID of the event
// table passed as the first argument, answering a pending request.
func (f *Functions) replyFn(host agent.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		request := L.CheckTable(1)
		eventType := L.CheckString(2)
		correlationID := lua.LVAsString(request.RawGetString("correlation_id"))
		if correlationID == "" {
			return pushError(L, "event has no correlation_id")
		}

		event := agent.Event{CorrelationID: correlationID}.Reply(eventType, ToGo(L.Get(3)))
		if err := host.Publish(luaContext(L), event); err != nil {
			return pushError(L, err.Error())
		}
		return pushSuccess(L, lua.LString(correlationID))
	}
}

func (f *Functions) callFn(host agent.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		target := L.CheckString(1)
		operation := L.CheckString(2)
		args := make([]any, 0, L.GetTop()-2)
		for i := 3; i <= L.GetTop(); i++ {
			args = append(args, ToGo(L.Get(i)))
		}

		ctx := luaContext(L)
		ref, err := host.Agent(ctx, target)
		if err != nil {
			return pushError(L, err.Error())
		}
		result, err := ref.Execute(ctx, operation, args...)
		if err != nil {
			return pushError(L, err.Error())
		}
		return pushSuccess(L, ToLua(L, result))
	}
}

func (f *Functions) sendFn(host agent.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		target := L.CheckString(1)
		eventType := L.CheckString(2)

		ctx := luaContext(L)
		ref, err := host.Agent(ctx, target)
		if err != nil {
			return pushError(L, err.Error())
		}
		if err := ref.Send(ctx, agent.NewEvent(eventType, ToGo(L.Get(3)))); err != nil {
			return pushError(L, err.Error())
		}
		return pushSuccess(L, lua.LTrue)
	}
}

func stateGetFn(state *agent.State) lua.LGFunction {
	return func(L *lua.LState) int {
		if state == nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(ToLua(L, state.Get()))
		return 1
	}
}

func stateSetFn(state *agent.State) lua.LGFunction {
	return func(L *lua.LState) int {
		if state == nil {
			L.Push(lua.LString("state not available"))
			return 1
		}
		state.Set(ToGo(L.Get(1)))
		return 0
	}
}
