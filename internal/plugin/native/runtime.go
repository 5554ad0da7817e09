// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package native loads agents compiled as Go shared objects
// (go build -buildmode=plugin).
//
// A shared object exports one constructor per agent type, named New
// followed by the type name:
//
//	func NewWeatherAgent() any { return &WeatherAgent{} }
//
// Constructors may also return (any, error). Instances are plain Go values
// that the engine indexes like built-in agents.
package native

import (
	"context"
	"os"
	"path/filepath"
	goplugin "plugin"

	"github.com/samber/oops"

	plugins "github.com/holomush/agenthost/internal/plugin"
)

// SymbolPrefix precedes the type name in constructor symbols.
const SymbolPrefix = "New"

// Library is an opened shared object.
type Library interface {
	Lookup(symbol string) (goplugin.Symbol, error)
}

// Opener opens the shared object at path.
type Opener func(path string) (Library, error)

// OpenShared opens path with the standard plugin loader. The Go runtime
// never unloads a shared object, and reopening an already opened path
// returns the original library.
func OpenShared(path string) (Library, error) {
	return goplugin.Open(path) //nolint:wrapcheck // wrapped by Runtime.Open
}

// Compile-time interface checks.
var (
	_ plugins.Runtime  = (*Runtime)(nil)
	_ plugins.CodeUnit = (*Unit)(nil)
)

// Runtime opens native agents.
type Runtime struct {
	open Opener
}

// NewRuntime creates a runtime loading shared objects with OpenShared.
func NewRuntime() *Runtime {
	return &Runtime{open: OpenShared}
}

// NewRuntimeWithOpener creates a runtime with a custom opener.
func NewRuntimeWithOpener(open Opener) *Runtime {
	if open == nil {
		panic("native: opener cannot be nil")
	}
	return &Runtime{open: open}
}

// Type implements plugins.Runtime.
func (r *Runtime) Type() plugins.Type { return plugins.TypeNative }

// Open implements plugins.Runtime.
func (r *Runtime) Open(_ context.Context, manifest *plugins.Manifest, dir string) (plugins.CodeUnit, error) {
	path := filepath.Clean(filepath.Join(dir, manifest.Entry))
	errb := oops.In("native").With("agent", manifest.Name).With("operation", "open").With("path", path)
	if _, err := os.Stat(path); err != nil {
		return nil, errb.Hint("shared object not found").Wrap(err)
	}
	lib, err := r.open(path)
	if err != nil {
		return nil, errb.Hint("failed to open shared object").Wrap(err)
	}
	return &Unit{name: manifest.Name, source: manifest.SourceKey(), lib: lib}, nil
}

// Unit is an opened shared object.
type Unit struct {
	name   string
	source string
	lib    Library
}

// Name implements plugins.CodeUnit.
func (u *Unit) Name() string { return u.name }

// Source implements plugins.CodeUnit.
func (u *Unit) Source() string { return u.source }

// Resolve looks up the constructor for typeName. Isolation has no effect:
// every instance is a fresh value, but package-level variables of the
// shared object are shared by all of them.
func (u *Unit) Resolve(_ context.Context, typeName string, _ plugins.ResolveOptions) (*plugins.Factory, error) {
	sym, err := u.lib.Lookup(SymbolPrefix + typeName)
	if err != nil {
		return nil, plugins.ErrTypeResolution(u.name, typeName, err)
	}

	var ctor func() (any, error)
	switch fn := sym.(type) {
	case func() any:
		ctor = func() (any, error) { return fn(), nil }
	case func() (any, error):
		ctor = fn
	default:
		return nil, plugins.ErrTypeResolution(u.name, typeName,
			oops.In("native").With("symbol", SymbolPrefix+typeName).Errorf("constructor has signature %T", sym))
	}

	return &plugins.Factory{
		TypeName: typeName,
		Identity: plugins.Identity(u.name, typeName),
		New: func(context.Context) (any, error) {
			impl, err := ctor()
			if err != nil {
				return nil, oops.In("native").With("artifact", u.name).With("type", typeName).Wrap(err)
			}
			if impl == nil {
				return nil, oops.In("native").With("artifact", u.name).With("type", typeName).
					Errorf("constructor returned nil")
			}
			return impl, nil
		},
	}, nil
}
