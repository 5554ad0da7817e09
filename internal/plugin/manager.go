// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/agenthost/internal/logging"
	"github.com/holomush/agenthost/internal/plugin/capability"
	"github.com/holomush/agenthost/pkg/agent"
	"github.com/holomush/agenthost/pkg/errutil"
)

// Manager discovers agents, binds them to stable ids and routes calls,
// events, state access and reloads to the live instance of each id.
type Manager struct {
	pluginsDir string
	opts       Options
	logger     *slog.Logger

	status   *StatusRegistry
	loader   *Loader
	dir      *Directory
	coord    *Coordinator
	bus      *Bus
	enforcer *capability.Enforcer
	runtimes map[Type]Runtime

	busTimeout  time.Duration
	readRetries uint64

	mu       sync.RWMutex
	bindings map[string]*binding
	closed   bool
}

// binding is what the manager remembers about one bound agent id.
type binding struct {
	typeName string
	manifest *Manifest
	dir      string
	config   map[string]string
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithPluginsDir sets the directory scanned by Discover.
func WithPluginsDir(dir string) ManagerOption {
	return func(m *Manager) { m.pluginsDir = dir }
}

// WithOptions sets the engine configuration.
func WithOptions(opts Options) ManagerOption {
	return func(m *Manager) { m.opts = opts }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithRuntime registers a runtime for its manifest type.
func WithRuntime(rt Runtime) ManagerOption {
	return func(m *Manager) { m.runtimes[rt.Type()] = rt }
}

// WithStatusRegistry shares a load-status registry with the caller.
func WithStatusRegistry(status *StatusRegistry) ManagerOption {
	return func(m *Manager) { m.status = status }
}

// WithEnforcer sets the capability enforcer.
func WithEnforcer(e *capability.Enforcer) ManagerOption {
	return func(m *Manager) { m.enforcer = e }
}

// WithDeliveryTimeout bounds asynchronous event deliveries.
func WithDeliveryTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.busTimeout = d }
}

// NewManager creates an agent manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		opts:        DefaultOptions(),
		logger:      slog.Default(),
		runtimes:    make(map[Type]Runtime),
		bindings:    make(map[string]*binding),
		readRetries: 3,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.status == nil {
		m.status = NewStatusRegistry()
	}
	if m.enforcer == nil {
		m.enforcer = capability.NewEnforcer()
	}
	m.loader = NewLoader(m.status, m.opts, m.logger)
	m.dir = NewDirectory()
	m.coord = NewCoordinator(m.loader, m.dir, m.logger)
	m.bus = NewBus(m, m.busTimeout, m.logger)
	return m
}

// AsAgent binds the loaded instance to id instead of its metadata name.
func AsAgent(id string) LoadOption {
	return func(c *loadConfig) { c.agentID = id }
}

// WithCapabilities grants host capabilities to the loaded agent.
func WithCapabilities(patterns ...string) LoadOption {
	return func(c *loadConfig) { c.capabilities = patterns }
}

// WithConfig sets the read-only configuration handed to the agent.
func WithConfig(values map[string]string) LoadOption {
	return func(c *loadConfig) { c.config = values }
}

func withManifest(manifest *Manifest, dir string) LoadOption {
	return func(c *loadConfig) {
		c.manifest = manifest
		c.dir = dir
	}
}

// Options returns the engine configuration.
func (m *Manager) Options() Options {
	return m.opts
}

// Status returns the load-status registry.
func (m *Manager) Status() *StatusRegistry {
	return m.status
}

// Load loads typeName from unit and binds it to an agent id: the AsAgent
// option, or the instance's metadata name.
func (m *Manager) Load(ctx context.Context, unit CodeUnit, typeName string, opts ...LoadOption) (*Instance, LoadOutcome, error) {
	if m.isClosed() {
		return nil, Error, ErrManagerClosed
	}
	cfg := loadConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	var boundID string
	hostFor := func(meta agent.Metadata) agent.Context {
		boundID = cfg.agentID
		if boundID == "" {
			boundID = meta.Name
		}
		if err := m.enforcer.SetGrants(boundID, cfg.capabilities); err != nil {
			m.logger.WarnContext(ctx, "invalid capability grants", "agent", boundID, "error", err)
		}
		return m.newHostContext(boundID, cfg.config)
	}

	inst, outcome, err := m.loader.Load(ctx, unit, typeName, append(opts, WithHost(hostFor))...)
	if err != nil {
		if boundID != "" && !m.isBound(boundID) {
			m.enforcer.RemoveGrants(boundID)
		}
		return nil, outcome, err
	}
	if outcome == AlreadyLoaded {
		return inst, outcome, nil
	}

	if prev := m.dir.Bind(boundID, inst); prev != nil && prev != inst {
		m.logger.WarnContext(ctx, "agent id rebound",
			"agent", boundID,
			"previous", prev.ID(),
			"instance", inst.ID())
		m.loader.Release(prev)
		if derr := prev.Dispose(); derr != nil {
			m.logger.WarnContext(ctx, "dispose rebound instance", "agent", boundID, "error", derr)
		}
	}

	m.mu.Lock()
	m.bindings[boundID] = &binding{
		typeName: typeName,
		manifest: cfg.manifest,
		dir:      cfg.dir,
		config:   cfg.config,
	}
	m.mu.Unlock()

	m.subscribe(boundID, inst)
	return inst, outcome, nil
}

func (m *Manager) newHostContext(id string, config map[string]string) agent.Context {
	return &hostContext{
		id:       id,
		logger:   m.logger.With("agent", id),
		config:   agent.NewConfig(config),
		bus:      m.bus,
		agents:   m,
		enforcer: m.enforcer,
	}
}

// subscribe registers id on the bus for the event types its handlers
// accept. Agents without handlers receive no published events.
func (m *Manager) subscribe(id string, inst *Instance) {
	handlers := inst.Handlers()
	if len(handlers) == 0 {
		m.bus.Unsubscribe(id)
		return
	}
	types := make([]string, 0, len(handlers))
	for _, h := range handlers {
		types = append(types, h.EventType)
	}
	m.bus.Subscribe(id, types)
}

// Lookup returns the live instance bound to id.
func (m *Manager) Lookup(id string) (*Instance, bool) {
	return m.dir.Lookup(id)
}

// Agents returns the bound agent ids, sorted.
func (m *Manager) Agents() []string {
	return m.dir.IDs()
}

func (m *Manager) instance(id string) (*Instance, error) {
	if m.isClosed() {
		return nil, ErrManagerClosed
	}
	inst, ok := m.dir.Lookup(id)
	if !ok {
		return nil, ErrAgentNotFound(id)
	}
	return inst, nil
}

// Execute invokes operation on the agent bound to id.
func (m *Manager) Execute(ctx context.Context, id, operation string, args []any) (any, error) {
	inst, err := m.instance(id)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithAttrs(ctx, slog.String("agent", id))
	return inst.ExecuteOperation(ctx, operation, args)
}

// Dispatch delivers event to the agent bound to id.
func (m *Manager) Dispatch(ctx context.Context, id string, event agent.Event) error {
	inst, err := m.instance(id)
	if err != nil {
		return err
	}
	ctx = logging.WithAttrs(ctx, slog.String("agent", id))
	return inst.HandleEvent(ctx, event)
}

// Publish sends event from the host to every subscribed agent.
func (m *Manager) Publish(ctx context.Context, event agent.Event) error {
	if m.isClosed() {
		return ErrManagerClosed
	}
	return m.bus.Publish(ctx, event)
}

// GetState returns the state of the agent bound to id.
func (m *Manager) GetState(ctx context.Context, id string) (any, error) {
	inst, err := m.instance(id)
	if err != nil {
		return nil, err
	}
	return inst.GetState(ctx)
}

// SetState replaces the state of the agent bound to id.
func (m *Manager) SetState(ctx context.Context, id string, state any) error {
	inst, err := m.instance(id)
	if err != nil {
		return err
	}
	return inst.SetState(ctx, state)
}

// Reload replaces the agent bound to id with the same declared type loaded
// from unit, carrying its state across.
func (m *Manager) Reload(ctx context.Context, id string, unit CodeUnit) (*Instance, error) {
	return m.reload(ctx, id, unit, "")
}

func (m *Manager) reload(ctx context.Context, id string, unit CodeUnit, typeName string) (*Instance, error) {
	if m.isClosed() {
		return nil, ErrManagerClosed
	}
	if !m.opts.HotReload {
		return nil, ErrHotReloadDisabled(id)
	}

	m.mu.RLock()
	b, ok := m.bindings[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrAgentNotFound(id)
	}
	if typeName == "" {
		typeName = b.typeName
	}

	host := func(agent.Metadata) agent.Context { return m.newHostContext(id, b.config) }
	next, err := m.coord.Reload(ctx, id, unit, typeName, WithHost(host))
	if err != nil {
		m.logger.WarnContext(ctx, "agent reload failed", "agent", id, "error", err)
		return nil, err
	}

	m.mu.Lock()
	updated := *b
	updated.typeName = typeName
	m.bindings[id] = &updated
	m.mu.Unlock()

	m.subscribe(id, next)
	return next, nil
}

// ReloadFromDisk re-reads the manifest of the agent bound to id, reopens
// its code unit and reloads it. Transient read failures are retried with
// exponential backoff.
func (m *Manager) ReloadFromDisk(ctx context.Context, id string) (*Instance, error) {
	m.mu.RLock()
	b, ok := m.bindings[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrAgentNotFound(id)
	}
	if b.manifest == nil {
		return nil, coded(CodeReloadFailed, oops.In("plugin").Code(CodeReloadFailed).With("agent", id).
			Errorf("agent %s was not loaded from a manifest", id))
	}
	if !m.opts.HotReload {
		return nil, ErrHotReloadDisabled(id)
	}

	var manifest *Manifest
	backoff := retry.WithMaxRetries(m.readRetries, retry.NewExponential(50*time.Millisecond))
	err := retry.Do(ctx, backoff, func(_ context.Context) error {
		data, err := os.ReadFile(filepath.Join(b.dir, ManifestFile)) //nolint:gosec // dir comes from discovery
		if err != nil {
			return retry.RetryableError(err)
		}
		manifest, err = ParseManifest(data)
		return err
	})
	if err != nil {
		return nil, coded(CodeReloadFailed, oops.In("plugin").Code(CodeReloadFailed).With("agent", id).
			Wrapf(err, "read manifest for %s", id))
	}
	if manifest.Name != id {
		return nil, coded(CodeReloadFailed, oops.In("plugin").Code(CodeReloadFailed).With("agent", id).
			Errorf("manifest name changed from %s to %s", id, manifest.Name))
	}

	unit, err := m.open(ctx, manifest, b.dir)
	if err != nil {
		return nil, err
	}
	next, err := m.reload(ctx, id, unit, manifest.AgentType)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if cur, ok := m.bindings[id]; ok {
		updated := *cur
		updated.manifest = manifest
		m.bindings[id] = &updated
	}
	m.mu.Unlock()
	return next, nil
}

// Unload disposes the agent bound to id, removes the binding and marks its
// artifact Unloaded.
func (m *Manager) Unload(ctx context.Context, id string) error {
	inst, err := m.instance(id)
	if err != nil {
		return err
	}
	return m.unload(ctx, id, inst)
}

func (m *Manager) unload(ctx context.Context, id string, inst *Instance) error {
	if !m.dir.Unbind(id, inst) {
		return ErrAgentNotFound(id)
	}
	m.bus.Unsubscribe(id)
	m.enforcer.RemoveGrants(id)
	m.loader.Release(inst)

	m.mu.Lock()
	delete(m.bindings, id)
	m.mu.Unlock()

	m.status.MarkUnloaded(inst.Artifact())
	m.logger.InfoContext(ctx, "agent unloaded", "agent", id, "instance", inst.ID())
	return inst.Dispose()
}

// QueryLoadStatus returns the recorded load outcomes for source keyed by
// artifact name. An empty source returns all of them.
func (m *Manager) QueryLoadStatus(source string) map[string]LoadStatus {
	return m.status.Query(source)
}

// WatchTarget is a manifest-loaded agent directory.
type WatchTarget struct {
	AgentID string
	Dir     string
	Entry   string
}

// WatchTargets lists the directories of agents loaded from manifests.
func (m *Manager) WatchTargets() []WatchTarget {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []WatchTarget
	for id, b := range m.bindings {
		if b.manifest == nil {
			continue
		}
		out = append(out, WatchTarget{AgentID: id, Dir: b.dir, Entry: b.manifest.Entry})
	}
	return out
}

// DiscoveredAgent contains a manifest and its directory.
type DiscoveredAgent struct {
	Manifest *Manifest
	Dir      string
}

// Discover finds all valid agents in the plugins directory.
// Invalid agents are logged and skipped.
func (m *Manager) Discover(_ context.Context) ([]*DiscoveredAgent, error) {
	if m.pluginsDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	var agents []*DiscoveredAgent
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		agentDir := filepath.Join(m.pluginsDir, entry.Name())
		data, err := os.ReadFile(filepath.Join(agentDir, ManifestFile)) //nolint:gosec // path is constructed from ReadDir entries
		if err != nil {
			m.logger.Warn("skipping agent without manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}

		manifest, err := LoadManifest(data)
		if err != nil {
			m.logger.Warn("skipping agent with invalid manifest",
				"dir", entry.Name(),
				"error", FormatSchemaError(err))
			continue
		}

		agents = append(agents, &DiscoveredAgent{
			Manifest: manifest,
			Dir:      agentDir,
		})
	}

	return agents, nil
}

// LoadAll discovers and loads every agent in the plugins directory.
// Individual failures are logged and recorded in the load-status registry
// without failing the whole load.
func (m *Manager) LoadAll(ctx context.Context) error {
	discovered, err := m.Discover(ctx)
	if err != nil {
		return err
	}

	for _, da := range discovered {
		if _, _, err := m.LoadDiscovered(ctx, da); err != nil {
			errutil.LogError(ctx, m.logger, "failed to load agent", err, "agent", da.Manifest.Name)
		}
	}
	return nil
}

// LoadDiscovered opens a discovered agent with its runtime and loads it
// under the manifest name.
func (m *Manager) LoadDiscovered(ctx context.Context, da *DiscoveredAgent) (*Instance, LoadOutcome, error) {
	unit, err := m.open(ctx, da.Manifest, da.Dir)
	if err != nil {
		m.status.Record(LoadStatus{
			Artifact: da.Manifest.Name,
			Source:   da.Manifest.SourceKey(),
			TypeName: da.Manifest.AgentType,
			Outcome:  Error,
			Reason:   err.Error(),
		})
		RecordLoad(Error)
		return nil, Error, err
	}
	return m.Load(ctx, unit, da.Manifest.AgentType,
		AsAgent(da.Manifest.Name),
		WithCapabilities(da.Manifest.Capabilities...),
		WithConfig(da.Manifest.Config),
		withManifest(da.Manifest, da.Dir),
	)
}

func (m *Manager) open(ctx context.Context, manifest *Manifest, dir string) (CodeUnit, error) {
	rt, ok := m.runtimes[manifest.Type]
	if !ok {
		return nil, coded(CodeTypeResolution, oops.In("plugin").Code(CodeTypeResolution).
			With("agent", manifest.Name).
			With("type", string(manifest.Type)).
			Errorf("no runtime registered for %s agents", manifest.Type))
	}
	unit, err := rt.Open(ctx, manifest, dir)
	if err != nil {
		return nil, ErrTypeResolution(manifest.Name, manifest.AgentType, err)
	}
	return unit, nil
}

func (m *Manager) isBound(id string) bool {
	_, ok := m.dir.Lookup(id)
	return ok
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Close stops event delivery and disposes every bound agent.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.bus.Close()

	var errs []error
	for _, id := range m.dir.IDs() {
		inst, ok := m.dir.Lookup(id)
		if !ok {
			continue
		}
		if err := m.unload(ctx, id, inst); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
