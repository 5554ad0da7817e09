// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package js

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dop251/goja"
	"github.com/samber/oops"

	plugins "github.com/holomush/agenthost/internal/plugin"
	"github.com/holomush/agenthost/pkg/agent"
)

// Compile-time interface check.
var _ plugins.CodeUnit = (*Unit)(nil)

// vm is one goja runtime and the lock serializing access to it. goja
// runtimes are not safe for concurrent use.
type vm struct {
	mu   sync.Mutex
	rt   *goja.Runtime
	refs int
}

// Unit is a compiled JavaScript entry script.
type Unit struct {
	name    string
	source  string
	program *goja.Program
	logger  *slog.Logger

	mu     sync.Mutex
	shared *vm
}

// Name implements plugins.CodeUnit.
func (u *Unit) Name() string { return u.name }

// Source implements plugins.CodeUnit.
func (u *Unit) Source() string { return u.source }

// Resolve implements plugins.CodeUnit. Isolated factories give every
// instance its own VM; otherwise instances share one VM per unit.
func (u *Unit) Resolve(_ context.Context, typeName string, opts plugins.ResolveOptions) (*plugins.Factory, error) {
	rt, err := newVM(u.program)
	if err != nil {
		return nil, plugins.ErrTypeResolution(u.name, typeName, err)
	}
	if _, err := typeObject(rt, typeName); err != nil {
		return nil, plugins.ErrTypeResolution(u.name, typeName, err)
	}
	return &plugins.Factory{
		TypeName: typeName,
		Identity: plugins.Identity(u.name, typeName),
		New: func(context.Context) (any, error) {
			return u.newAgent(typeName, opts.Isolated)
		},
	}, nil
}

// typeObject returns the global object named typeName.
func typeObject(rt *goja.Runtime, typeName string) (*goja.Object, error) {
	v := rt.Get(typeName)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, oops.In("js").With("type", typeName).Errorf("global %q is not defined", typeName)
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, oops.In("js").With("type", typeName).Errorf("global %q is not an object", typeName)
	}
	return obj, nil
}

func (u *Unit) acquire(isolated bool) (*vm, func(), error) {
	if isolated {
		rt, err := newVM(u.program)
		if err != nil {
			return nil, nil, err
		}
		return &vm{rt: rt}, func() {}, nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.shared == nil {
		rt, err := newVM(u.program)
		if err != nil {
			return nil, nil, err
		}
		u.shared = &vm{rt: rt}
	}
	v := u.shared
	v.refs++
	return v, func() { u.releaseShared(v) }, nil
}

func (u *Unit) releaseShared(v *vm) {
	u.mu.Lock()
	defer u.mu.Unlock()
	v.refs--
	if v.refs <= 0 && u.shared == v {
		u.shared = nil
	}
}

func (u *Unit) newAgent(typeName string, isolated bool) (*jsAgent, error) {
	v, release, err := u.acquire(isolated)
	if err != nil {
		return nil, oops.In("js").With("artifact", u.name).Hint("script failed to load").Wrap(err)
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

func (u *Unit) bind(v *vm, typeName string) (*jsAgent, error) {
	rt := v.rt
	proto, err := typeObject(rt, typeName)
	if err != nil {
		return nil, plugins.ErrTypeResolution(u.name, typeName, err)
	}

	raw := make(map[string]any, 3)
	for _, field := range []string{"metadata", "operations", "handlers"} {
		if fv := proto.Get(field); fv != nil && !goja.IsUndefined(fv) {
			raw[field] = fv.Export()
		}
	}
	decl, err := agent.DecodeDeclaration(raw)
	if err != nil {
		return nil, oops.In("js").With("artifact", u.name).With("type", typeName).
			Hint("invalid agent declaration").Wrap(err)
	}

	return &jsAgent{
		typeName: typeName,
		vm:       v,
		self:     rt.CreateObject(proto),
		decl:     decl,
		logger:   u.logger.With("type", typeName),
	}, nil
}
