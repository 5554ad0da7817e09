// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// CodeUnit is a loadable artifact holding one or more plugin types.
type CodeUnit interface {
	// Name identifies the artifact. Load outcomes are recorded under it.
	Name() string
	// Source is the logical origin used to filter load status queries.
	Source() string
	// Resolve finds typeName in the unit.
	Resolve(ctx context.Context, typeName string, opts ResolveOptions) (*Factory, error)
}

// ResolveOptions carry host configuration into a code unit.
type ResolveOptions struct {
	// Isolated asks the unit to give every instance private runtime state
	// where the runtime supports it.
	Isolated bool
}

// Factory creates instances of one resolved plugin type.
type Factory struct {
	TypeName string
	// Identity distinguishes plugin types across units: two factories with
	// the same identity produce the same type.
	Identity string
	New      func(ctx context.Context) (any, error)
}

// Identity formats the type identity of typeName inside artifact.
func Identity(artifact, typeName string) string {
	return artifact + "#" + typeName
}

// StaticUnit is a code unit of Go types compiled into the host.
type StaticUnit struct {
	name   string
	source string

	mu    sync.RWMutex
	types map[string]func() any
}

// NewStaticUnit creates an empty static unit.
func NewStaticUnit(name, source string) *StaticUnit {
	return &StaticUnit{
		name:   name,
		source: source,
		types:  make(map[string]func() any),
	}
}

// Register adds a constructor under typeName.
func (u *StaticUnit) Register(typeName string, ctor func() any) *StaticUnit {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.types[typeName] = ctor
	return u
}

// Name implements CodeUnit.
func (u *StaticUnit) Name() string { return u.name }

// Source implements CodeUnit.
func (u *StaticUnit) Source() string { return u.source }

// TypeNames lists registered type names.
func (u *StaticUnit) TypeNames() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return slices.Sorted(maps.Keys(u.types))
}

// Resolve implements CodeUnit.
func (u *StaticUnit) Resolve(_ context.Context, typeName string, _ ResolveOptions) (*Factory, error) {
	u.mu.RLock()
	ctor, ok := u.types[typeName]
	u.mu.RUnlock()
	if !ok {
		return nil, ErrTypeResolution(u.name, typeName, nil)
	}
	return &Factory{
		TypeName: typeName,
		Identity: Identity(u.name, typeName),
		New: func(context.Context) (any, error) {
			return ctor(), nil
		},
	}, nil
}
