// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/agenthost/pkg/agent"
)

// Options is the host configuration consumed by the engine.
type Options struct {
	HotReload   bool
	Isolation   bool
	LoadTimeout time.Duration
}

// DefaultOptions returns hot reload enabled, isolation off and a 30 second
// load timeout.
func DefaultOptions() Options {
	return Options{
		HotReload:   true,
		LoadTimeout: 30 * time.Second,
	}
}

// LoadOption adjusts a single load.
type LoadOption func(*loadConfig)

type loadConfig struct {
	force     bool
	replacing *Instance
	hostFor   func(agent.Metadata) agent.Context

	// Manager binding options; the loader ignores them.
	agentID      string
	capabilities []string
	config       map[string]string
	manifest     *Manifest
	dir          string
}

// Force bypasses the AlreadyLoaded short-circuit.
func Force() LoadOption {
	return func(c *loadConfig) { c.force = true }
}

// Replacing marks the load as the successor of inst: inst's claim on its
// metadata name does not count as a duplicate declaration.
func Replacing(inst *Instance) LoadOption {
	return func(c *loadConfig) {
		c.replacing = inst
		c.force = true
	}
}

// WithHost supplies the host context handed to Initialize once the
// instance's metadata is known.
func WithHost(fn func(agent.Metadata) agent.Context) LoadOption {
	return func(c *loadConfig) { c.hostFor = fn }
}

// Loader turns a code unit and declared type name into an initialized
// instance. It tracks which type identities are active and claims on
// metadata names so that two different types cannot share a name.
type Loader struct {
	status *StatusRegistry
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*Instance // identity -> instance
	names  map[string]string    // metadata name -> identity
}

// NewLoader creates a loader recording outcomes in status.
func NewLoader(status *StatusRegistry, opts Options, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		status: status,
		opts:   opts,
		logger: logger,
		active: make(map[string]*Instance),
		names:  make(map[string]string),
	}
}

// Options returns the loader configuration.
func (l *Loader) Options() Options {
	return l.opts
}

// Status returns the load-status registry.
func (l *Loader) Status() *StatusRegistry {
	return l.status
}

// Load resolves typeName in unit, checks it against active types,
// instantiates and initializes it. The outcome is recorded under the
// unit's name. AlreadyLoaded returns the existing instance with a nil error.
func (l *Loader) Load(ctx context.Context, unit CodeUnit, typeName string, opts ...LoadOption) (inst *Instance, outcome LoadOutcome, err error) {
	cfg := loadConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span := tracer.Start(ctx, "plugin.load",
		trace.WithAttributes(
			attribute.String("plugin.artifact", unit.Name()),
			attribute.String("plugin.type", typeName),
			attribute.Bool("plugin.force", cfg.force),
		),
	)
	defer func() {
		span.SetAttributes(attribute.String("plugin.outcome", outcome.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		RecordLoad(outcome)
	}()

	record := func(outcome LoadOutcome, reason string) {
		l.status.Record(LoadStatus{
			Artifact: unit.Name(),
			Source:   unit.Source(),
			TypeName: typeName,
			Outcome:  outcome,
			Reason:   reason,
		})
	}

	factory, err := unit.Resolve(ctx, typeName, ResolveOptions{Isolated: l.opts.Isolation})
	if err != nil {
		if CodeOf(err) != CodeTypeResolution {
			err = ErrTypeResolution(unit.Name(), typeName, err)
		}
		record(Error, err.Error())
		return nil, Error, err
	}

	l.mu.Lock()
	if existing, ok := l.active[factory.Identity]; ok && !cfg.force && existing.Source() == unit.Source() {
		l.mu.Unlock()
		l.logger.InfoContext(ctx, "agent type already loaded",
			"artifact", unit.Name(),
			"type", typeName)
		record(AlreadyLoaded, "")
		return existing, AlreadyLoaded, nil
	}
	l.mu.Unlock()

	impl, err := factory.New(ctx)
	if err != nil {
		err = ErrTypeResolution(unit.Name(), typeName, err)
		record(Error, err.Error())
		return nil, Error, err
	}
	if err := checkContract(impl); err != nil {
		discard(impl, l.logger)
		err = ErrTypeResolution(unit.Name(), typeName, err)
		record(Error, err.Error())
		return nil, Error, err
	}
	meta := DescribeType(impl)

	duplicate := func(owner string) error {
		err := ErrDuplicateDeclaration(meta.Name, factory.Identity, owner)
		l.logger.WarnContext(ctx, "duplicate agent declaration",
			"artifact", unit.Name(),
			"type", typeName,
			"name", meta.Name,
			"existing", owner)
		record(DuplicateDeclaration, err.Error())
		return err
	}

	l.mu.Lock()
	owner, conflict := l.conflict(meta.Name, factory.Identity, cfg.replacing)
	l.mu.Unlock()
	if conflict {
		discard(impl, l.logger)
		return nil, DuplicateDeclaration, duplicate(owner)
	}

	inst = NewInstance(impl, InstanceOptions{
		Identity: factory.Identity,
		Source:   unit.Source(),
		Artifact: unit.Name(),
		TypeName: typeName,
		Logger:   l.logger.With("agent_type", meta.Name),
	})

	initCtx := ctx
	if l.opts.LoadTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, l.opts.LoadTimeout)
		defer cancel()
	}
	host := agent.Context(nil)
	if cfg.hostFor != nil {
		host = cfg.hostFor(meta)
	}
	if host == nil {
		host = DetachedContext(meta.Name, l.logger)
	}
	if err := inst.Initialize(initCtx, host); err != nil {
		if derr := inst.Dispose(); derr != nil {
			l.logger.WarnContext(ctx, "dispose after failed initialize", "error", derr)
		}
		record(Error, err.Error())
		return nil, Error, err
	}

	l.mu.Lock()
	if owner, conflict := l.conflict(meta.Name, factory.Identity, cfg.replacing); conflict {
		l.mu.Unlock()
		if derr := inst.Dispose(); derr != nil {
			l.logger.WarnContext(ctx, "dispose duplicate agent", "error", derr)
		}
		return nil, DuplicateDeclaration, duplicate(owner)
	}
	l.active[factory.Identity] = inst
	l.names[meta.Name] = factory.Identity
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "agent loaded",
		"artifact", unit.Name(),
		"type", typeName,
		"name", meta.Name,
		"version", meta.Version,
		"instance", inst.ID())
	record(Success, "")
	return inst, Success, nil
}

// conflict reports the identity already claiming name when it is neither
// identity nor the instance being replaced. Callers hold l.mu.
func (l *Loader) conflict(name, identity string, replacing *Instance) (string, bool) {
	owner, ok := l.names[name]
	if !ok || owner == identity {
		return "", false
	}
	if replacing != nil && owner == replacing.Identity() {
		return "", false
	}
	return owner, true
}

// Release drops inst's claims if it still holds them.
func (l *Loader) Release(inst *Instance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[inst.Identity()] != inst {
		return
	}
	delete(l.active, inst.Identity())
	name := inst.Metadata().Name
	if l.names[name] == inst.Identity() {
		delete(l.names, name)
	}
}

// Supersede drops the claims old still holds after next replaced it. When
// both share an identity only a name next no longer declares is released.
func (l *Loader) Supersede(old, next *Instance) {
	if old.Identity() != next.Identity() {
		l.Release(old)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	name := old.Metadata().Name
	if name != next.Metadata().Name && l.names[name] == old.Identity() {
		delete(l.names, name)
	}
}

// Restore reinstates inst's claims after a failed replacement.
func (l *Loader) Restore(inst *Instance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active[inst.Identity()] = inst
	l.names[inst.Metadata().Name] = inst.Identity()
}

// Active returns the active instance for identity.
func (l *Loader) Active(identity string) (*Instance, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	inst, ok := l.active[identity]
	return inst, ok
}

// discard disposes an implementation that never became an instance.
func discard(impl any, logger *slog.Logger) {
	d, ok := impl.(agent.Disposer)
	if !ok {
		return
	}
	if err := d.OnDispose(); err != nil {
		logger.Warn("dispose discarded agent", "error", err)
	}
}

// checkContract reports whether impl can be hosted: it must describe itself
// or dispatch its own methods.
func checkContract(impl any) error {
	switch impl.(type) {
	case nil:
		return oops.In("plugin").Errorf("constructor returned nil")
	case agent.Describer, agent.Invoker:
		return nil
	default:
		return oops.In("plugin").Errorf("%T implements neither agent.Describer nor agent.Invoker", impl)
	}
}
