// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package lua runs agents written in Lua inside sandboxed gopher-lua states.
//
// An entry script defines one global table per agent type. The table's
// metadata, operations and handlers fields form the agent's declaration;
// its functions are the methods, called with the instance table as self:
//
//	Greeter = {
//	  metadata = { name = "Greeter", version = "1.0.0" },
//	  operations = { { method = "greet", read_only = true } },
//	  handlers = { { method = "on_join", event_type = "join" } },
//	}
//
//	function Greeter:greet(name) return "hello " .. name end
//	function Greeter:on_join(event) self.agent.log("info", "joined") end
//
// Optional init(self) and dispose(self) functions run on initialize and
// dispose; on_unhandled(self, event) receives events no handler matches.
// self.agent is the host module (see package hostfunc).
package lua

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// safeLibrary represents a Lua library that is safe to load in sandboxed state.
type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// defaultSafeLibraries returns the list of libraries safe to load.
// Safe: base, table, string, math, coroutine.
// Blocked: os, io, debug, package, channel.
func defaultSafeLibraries() []safeLibrary {
	return []safeLibrary{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.CoroutineLibName, lua.OpenCoroutine},
	}
}

// unsafeBaseFunctions lists base library functions that must be blocked.
// They load code from the filesystem or from strings outside the entry script.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load", "require", "module"}

// StateFactory creates sandboxed Lua states with only safe libraries.
type StateFactory struct {
	libraries     []safeLibrary
	callStackSize int
	registrySize  int
}

// FactoryOption configures a StateFactory.
type FactoryOption func(*StateFactory)

// WithCallStackSize limits Lua call depth.
func WithCallStackSize(n int) FactoryOption {
	return func(f *StateFactory) { f.callStackSize = n }
}

// WithRegistrySize sets the initial registry size of each state.
func WithRegistrySize(n int) FactoryOption {
	return func(f *StateFactory) { f.registrySize = n }
}

// NewStateFactory creates a new state factory.
func NewStateFactory(opts ...FactoryOption) *StateFactory {
	f := &StateFactory{
		libraries:     defaultSafeLibraries(),
		callStackSize: lua.CallStackSize,
		registrySize:  lua.RegistrySize,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewState creates a fresh Lua state with only safe libraries loaded and
// the unsafe base functions removed. If ctx is cancelled the state stops
// running scripts.
func (f *StateFactory) NewState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       f.callStackSize,
		RegistrySize:        f.registrySize,
		IncludeGoStackTrace: false,
	})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", lib.name, err)
		}
	}

	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}

	if ctx != nil {
		L.SetContext(ctx)
	}
	return L, nil
}
