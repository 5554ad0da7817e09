// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/holomush/agenthost/pkg/agent"
)

// Instance is a live plugin: a user implementation bound to its metadata,
// its operation and event index, and its state slot. Instance implements
// agent.Plugin on behalf of implementations that only declare their
// methods.
type Instance struct {
	id       string
	identity string
	source   string
	artifact string
	typeName string
	impl     any
	logger   *slog.Logger

	executor *Executor
	router   *Router
	state    *agent.State

	initMu   sync.Mutex
	index    atomic.Pointer[Index]
	disposed atomic.Bool
}

var _ agent.Plugin = (*Instance)(nil)

// InstanceOptions identify where an instance came from.
type InstanceOptions struct {
	Identity string
	Source   string
	Artifact string
	TypeName string
	Logger   *slog.Logger
}

// NewInstance wraps impl. Implementations that accept a state container
// (agent.StateAware) receive the instance's slot immediately.
func NewInstance(impl any, opts InstanceOptions) *Instance {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	inst := &Instance{
		id:       agent.NewID(),
		identity: opts.Identity,
		source:   opts.Source,
		artifact: opts.Artifact,
		typeName: opts.TypeName,
		impl:     impl,
		logger:   logger,
		executor: NewExecutor(logger),
		router:   NewRouter(logger),
		state:    &agent.State{},
	}
	if sa, ok := impl.(agent.StateAware); ok {
		sa.UseState(inst.state)
	}
	return inst
}

// ID returns the unique id of this instance. Reloading an agent produces
// a new instance id under the same binding.
func (i *Instance) ID() string { return i.id }

// Identity returns the type identity the instance was loaded from.
func (i *Instance) Identity() string { return i.identity }

// Source returns the logical source of the code unit.
func (i *Instance) Source() string { return i.source }

// Artifact returns the code unit name.
func (i *Instance) Artifact() string { return i.artifact }

// TypeName returns the declared type name resolved in the code unit.
func (i *Instance) TypeName() string { return i.typeName }

// Implementation returns the wrapped plugin value.
func (i *Instance) Implementation() any { return i.impl }

// Metadata returns the instance metadata.
func (i *Instance) Metadata() agent.Metadata {
	if ix := i.index.Load(); ix != nil {
		return ix.Metadata()
	}
	return DescribeType(i.impl)
}

func (i *Instance) name() string {
	return i.Metadata().Name
}

// Initialize runs the implementation's OnInitialize hook and then builds
// the operation and event index. Calling it again after success is a no-op.
func (i *Instance) Initialize(ctx context.Context, host agent.Context) error {
	i.initMu.Lock()
	defer i.initMu.Unlock()

	if i.disposed.Load() {
		return ErrDisposed(i.name())
	}
	if i.index.Load() != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return ErrCancelled("initialize", err)
	}
	if init, ok := i.impl.(agent.Initializer); ok {
		if err := init.OnInitialize(ctx, host); err != nil {
			return ErrInit(i.name(), err)
		}
	}
	i.index.Store(BuildIndex(i.impl, i.logger))
	return nil
}

// Initialized reports whether Initialize has completed.
func (i *Instance) Initialized() bool {
	return i.index.Load() != nil
}

// Disposed reports whether Dispose has been called.
func (i *Instance) Disposed() bool {
	return i.disposed.Load()
}

func (i *Instance) ready(ctx context.Context, op string) (*Index, error) {
	if i.disposed.Load() {
		return nil, ErrDisposed(i.name())
	}
	ix := i.index.Load()
	if ix == nil {
		return nil, ErrNotInitialized(i.name())
	}
	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled(op, err)
	}
	return ix, nil
}

// ExecuteOperation invokes the operation registered under name.
func (i *Instance) ExecuteOperation(ctx context.Context, name string, args []any) (any, error) {
	ix, err := i.ready(ctx, name)
	if err != nil {
		return nil, err
	}
	return i.executor.Execute(ctx, ix, ix.metadata.Name, name, args)
}

// HandleEvent routes event to the registered handler.
func (i *Instance) HandleEvent(ctx context.Context, event agent.Event) error {
	ix, err := i.ready(ctx, "dispatch "+event.Type)
	if err != nil {
		return err
	}
	fallback, _ := i.impl.(agent.UnhandledEventHandler)
	return i.router.Dispatch(ctx, ix, ix.metadata.Name, fallback, event)
}

// GetState returns the last state set, or nil.
func (i *Instance) GetState(ctx context.Context) (any, error) {
	if _, err := i.ready(ctx, "get state"); err != nil {
		return nil, err
	}
	return i.state.Get(), nil
}

// SetState replaces the state slot.
func (i *Instance) SetState(ctx context.Context, state any) error {
	if _, err := i.ready(ctx, "set state"); err != nil {
		return err
	}
	i.state.Set(state)
	return nil
}

// Dispose releases the implementation. Only the first call has an effect.
func (i *Instance) Dispose() error {
	if !i.disposed.CompareAndSwap(false, true) {
		return nil
	}
	if d, ok := i.impl.(agent.Disposer); ok {
		if err := d.OnDispose(); err != nil {
			return ErrDispose(i.name(), err)
		}
	}
	return nil
}

// Operations returns the indexed operation descriptors, or nil before
// initialization.
func (i *Instance) Operations() []OperationDescriptor {
	if ix := i.index.Load(); ix != nil {
		return ix.Operations()
	}
	return nil
}

// Handlers returns the indexed handler descriptors, or nil before
// initialization.
func (i *Instance) Handlers() []HandlerDescriptor {
	if ix := i.index.Load(); ix != nil {
		return ix.Handlers()
	}
	return nil
}

// Operation looks up one operation descriptor.
func (i *Instance) Operation(name string) (OperationDescriptor, bool) {
	ix := i.index.Load()
	if ix == nil {
		return OperationDescriptor{}, false
	}
	d, ok := ix.Operation(name)
	if !ok {
		return OperationDescriptor{}, false
	}
	return *d, true
}
