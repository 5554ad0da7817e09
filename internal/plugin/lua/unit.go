// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	plugins "github.com/holomush/agenthost/internal/plugin"
	"github.com/holomush/agenthost/internal/plugin/hostfunc"
)

// Compile-time interface check.
var _ plugins.CodeUnit = (*Unit)(nil)

// vm is one Lua state and the lock serializing access to it. A shared vm
// is reference counted by the agents running in it.
type vm struct {
	mu   sync.Mutex
	L    *lua.LState
	refs int
}

// Unit is a compiled Lua entry script. Agent types are the global tables
// the script defines.
type Unit struct {
	name      string
	source    string
	proto     *lua.FunctionProto
	factory   *StateFactory
	hostFuncs *hostfunc.Functions
	logger    *slog.Logger

	mu     sync.Mutex
	shared *vm
}

// Name implements plugins.CodeUnit.
func (u *Unit) Name() string { return u.name }

// Source implements plugins.CodeUnit.
func (u *Unit) Source() string { return u.source }

// Resolve implements plugins.CodeUnit. Isolated factories give every
// instance its own state; otherwise instances share one state per unit.
func (u *Unit) Resolve(ctx context.Context, typeName string, opts plugins.ResolveOptions) (*plugins.Factory, error) {
	if err := u.checkType(ctx, typeName); err != nil {
		return nil, plugins.ErrTypeResolution(u.name, typeName, err)
	}
	return &plugins.Factory{
		TypeName: typeName,
		Identity: plugins.Identity(u.name, typeName),
		New: func(ctx context.Context) (any, error) {
			return u.newAgent(ctx, typeName, opts.Isolated)
		},
	}, nil
}

// checkType runs the script in a scratch state and verifies typeName is a
// global table.
func (u *Unit) checkType(ctx context.Context, typeName string) error {
	L, err := u.factory.NewState(ctx)
	if err != nil {
		return err
	}
	defer L.Close()
	if err := run(L, u.proto); err != nil {
		return err
	}
	if _, ok := L.GetGlobal(typeName).(*lua.LTable); !ok {
		return oops.In("lua").With("type", typeName).Errorf("global %q is not a table", typeName)
	}
	return nil
}

// acquire returns the vm for a new instance. release must be called once
// the instance no longer uses it.
func (u *Unit) acquire(isolated bool) (*vm, func(), error) {
	if isolated {
		v, err := u.newVM()
		if err != nil {
			return nil, nil, err
		}
		return v, func() { v.L.Close() }, nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.shared == nil {
		v, err := u.newVM()
		if err != nil {
			return nil, nil, err
		}
		u.shared = v
	}
	v := u.shared
	v.refs++
	return v, func() { u.releaseShared(v) }, nil
}

func (u *Unit) releaseShared(v *vm) {
	u.mu.Lock()
	defer u.mu.Unlock()
	v.refs--
	if v.refs > 0 {
		return
	}
	if u.shared == v {
		u.shared = nil
	}
	v.mu.Lock()
	v.L.Close()
	v.mu.Unlock()
}

func (u *Unit) newVM() (*vm, error) {
	L, err := u.factory.NewState(context.Background())
	if err != nil {
		return nil, err
	}
	L.RemoveContext()
	if err := run(L, u.proto); err != nil {
		L.Close()
		return nil, oops.In("lua").With("artifact", u.name).Hint("script failed to load").Wrap(err)
	}
	return &vm{L: L}, nil
}

// newAgent creates an instance table for typeName in an acquired vm.
func (u *Unit) newAgent(_ context.Context, typeName string, isolated bool) (*luaAgent, error) {
	v, release, err := u.acquire(isolated)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	a, err := u.bind(v, typeName)
	v.mu.Unlock()
	if err != nil {
		release()
		return nil, err
	}
	a.release = sync.OnceFunc(release)
	return a, nil
}

func (u *Unit) bind(v *vm, typeName string) (*luaAgent, error) {
	L := v.L
	typeTable, ok := L.GetGlobal(typeName).(*lua.LTable)
	if !ok {
		return nil, plugins.ErrTypeResolution(u.name, typeName, nil)
	}

	decl, err := declarationOf(typeTable)
	if err != nil {
		return nil, oops.In("lua").With("artifact", u.name).With("type", typeName).
			Hint("invalid agent declaration").Wrap(err)
	}

	self := L.NewTable()
	meta := L.NewTable()
	L.SetField(meta, "__index", typeTable)
	L.SetMetatable(self, meta)

	return &luaAgent{
		typeName:  typeName,
		vm:        v,
		self:      self,
		decl:      decl,
		hostFuncs: u.hostFuncs,
		logger:    u.logger.With("type", typeName),
	}, nil
}
