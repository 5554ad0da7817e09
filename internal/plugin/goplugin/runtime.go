// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package goplugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	plugins "github.com/holomush/agenthost/internal/plugin"
	"github.com/holomush/agenthost/pkg/agent"
)

// DefaultDisposeTimeout bounds the Dispose call into an agent process.
const DefaultDisposeTimeout = 5 * time.Second

// Compile-time interface checks.
var (
	_ plugins.Runtime  = (*Runtime)(nil)
	_ plugins.CodeUnit = (*Unit)(nil)
)

// PluginClient wraps go-plugin client for testability.
type PluginClient interface {
	// Client returns the gRPC client protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the agent process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for the executable of the named agent.
	NewClient(name, execPath string) PluginClient
}

// ClientFactoryFunc adapts a function to ClientFactory.
type ClientFactoryFunc func(name, execPath string) PluginClient

// NewClient implements ClientFactory.
func (f ClientFactoryFunc) NewClient(name, execPath string) PluginClient {
	return f(name, execPath)
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct {
	// Logger receives the agent process output. Defaults to hclog's default
	// logger.
	Logger hclog.Logger
}

// NewClient creates a real go-plugin client.
func (f *DefaultClientFactory) NewClient(name, execPath string) PluginClient {
	logger := f.Logger
	if logger == nil {
		logger = hclog.Default()
	}
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  HandshakeConfig,
		Plugins:          PluginMap,
		Cmd:              exec.Command(execPath), // #nosec G204 -- execPath resolved from agent manifest; manifests validated during discovery
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolGRPC},
		Logger:           logger.Named(name),
	})
}

// Runtime opens binary agents.
type Runtime struct {
	clientFactory ClientFactory
}

// NewRuntime creates a binary runtime using real agent processes.
func NewRuntime() *Runtime {
	return &Runtime{clientFactory: &DefaultClientFactory{}}
}

// NewRuntimeWithFactory creates a runtime with a custom client factory (for testing).
// Panics if factory is nil.
func NewRuntimeWithFactory(factory ClientFactory) *Runtime {
	if factory == nil {
		panic("goplugin: factory cannot be nil")
	}
	return &Runtime{clientFactory: factory}
}

// Type implements plugins.Runtime.
func (r *Runtime) Type() plugins.Type { return plugins.TypeBinary }

// Open checks the agent executable exists. No process is started until a
// type is resolved.
func (r *Runtime) Open(_ context.Context, manifest *plugins.Manifest, dir string) (plugins.CodeUnit, error) {
	execPath := filepath.Join(dir, manifest.Entry)
	if _, err := os.Stat(execPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("agent executable not found: %s: %w", execPath, err)
		}
		return nil, fmt.Errorf("cannot access agent executable %s: %w", execPath, err)
	}
	return &Unit{
		name:          manifest.Name,
		source:        manifest.SourceKey(),
		execPath:      execPath,
		clientFactory: r.clientFactory,
	}, nil
}

// process is one running agent executable. A shared process is reference
// counted by the instances created in it.
type process struct {
	client PluginClient
	agent  *agentClient
	refs   int
}

// Unit is an agent executable. Its types are the ones the process serves.
type Unit struct {
	name          string
	source        string
	execPath      string
	clientFactory ClientFactory

	mu     sync.Mutex
	shared *process
	types  []string
}

// Name implements plugins.CodeUnit.
func (u *Unit) Name() string { return u.name }

// Source implements plugins.CodeUnit.
func (u *Unit) Source() string { return u.source }

// Resolve implements plugins.CodeUnit. Isolated factories start one
// process per instance; otherwise instances share one process.
func (u *Unit) Resolve(ctx context.Context, typeName string, opts plugins.ResolveOptions) (*plugins.Factory, error) {
	types, err := u.serves(ctx, opts.Isolated)
	if err != nil {
		return nil, plugins.ErrTypeResolution(u.name, typeName, err)
	}
	if !slices.Contains(types, typeName) {
		return nil, plugins.ErrTypeResolution(u.name, typeName, nil)
	}
	return &plugins.Factory{
		TypeName: typeName,
		Identity: plugins.Identity(u.name, typeName),
		New: func(ctx context.Context) (any, error) {
			return u.newAgent(ctx, typeName, opts.Isolated)
		},
	}, nil
}

// serves returns the process's agent types, asking a process the first
// time.
func (u *Unit) serves(ctx context.Context, isolated bool) ([]string, error) {
	u.mu.Lock()
	types := u.types
	u.mu.Unlock()
	if types != nil {
		return types, nil
	}

	p, release, err := u.acquire(isolated)
	if err != nil {
		return nil, err
	}
	defer release()
	types, err = p.agent.Types(ctx)
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	u.types = types
	u.mu.Unlock()
	return types, nil
}

func (u *Unit) start() (*process, error) {
	client := u.clientFactory.NewClient(u.name, u.execPath)

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to connect to agent %s: %w", u.name, err)
	}

	raw, err := rpcClient.Dispense(PluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense agent %s: %w", u.name, err)
	}

	ac, ok := raw.(*agentClient)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("agent %s does not implement the agent protocol", u.name)
	}
	return &process{client: client, agent: ac}, nil
}

// acquire returns a process for a new instance. release must be called
// once the instance no longer uses it.
func (u *Unit) acquire(isolated bool) (*process, func(), error) {
	if isolated {
		p, err := u.start()
		if err != nil {
			return nil, nil, err
		}
		return p, p.client.Kill, nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.shared == nil {
		p, err := u.start()
		if err != nil {
			return nil, nil, err
		}
		u.shared = p
	}
	p := u.shared
	p.refs++
	return p, func() { u.releaseShared(p) }, nil
}

func (u *Unit) releaseShared(p *process) {
	u.mu.Lock()
	defer u.mu.Unlock()
	p.refs--
	if p.refs > 0 {
		return
	}
	if u.shared == p {
		u.shared = nil
	}
	p.client.Kill()
}

func (u *Unit) newAgent(ctx context.Context, typeName string, isolated bool) (*remoteAgent, error) {
	p, release, err := u.acquire(isolated)
	if err != nil {
		return nil, err
	}
	created, err := p.agent.Create(ctx, typeName)
	if err != nil {
		release()
		return nil, oops.In("goplugin").With("artifact", u.name).With("type", typeName).Wrap(err)
	}

	handlers := make(map[string]bool, len(created.Declaration.Handlers))
	for _, h := range created.Declaration.Handlers {
		handlers[h.Method] = true
	}
	return &remoteAgent{
		instance: created.Instance,
		decl:     created.Declaration,
		handlers: handlers,
		client:   p.agent,
		release:  sync.OnceFunc(release),
	}, nil
}

// Compile-time interface checks.
var (
	_ agent.Describer             = (*remoteAgent)(nil)
	_ agent.Invoker               = (*remoteAgent)(nil)
	_ agent.Initializer           = (*remoteAgent)(nil)
	_ agent.Disposer              = (*remoteAgent)(nil)
	_ agent.UnhandledEventHandler = (*remoteAgent)(nil)
)

// remoteAgent is the host-side stand-in for an instance living in an
// agent process.
type remoteAgent struct {
	instance string
	decl     agent.Declaration
	handlers map[string]bool
	client   *agentClient
	release  func()

	mu         sync.Mutex
	stopServer func()
}

func (a *remoteAgent) Describe() agent.Declaration { return a.decl }

func (a *remoteAgent) OnInitialize(ctx context.Context, host agent.Context) error {
	stop, err := a.client.Initialize(ctx, a.instance, host)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.stopServer = stop
	a.mu.Unlock()
	return nil
}

// Invoke forwards a call. Handler methods receiving an event are routed
// through the process's own event dispatch.
func (a *remoteAgent) Invoke(ctx context.Context, method string, args []any) (any, error) {
	if len(args) == 1 && a.handlers[method] {
		if event, ok := args[0].(agent.Event); ok {
			return nil, a.client.HandleEvent(ctx, a.instance, event)
		}
	}
	return a.client.Invoke(ctx, a.instance, method, args)
}

func (a *remoteAgent) OnUnhandledEvent(ctx context.Context, event agent.Event) error {
	return a.client.HandleEvent(ctx, a.instance, event)
}

func (a *remoteAgent) OnDispose() error {
	defer a.release()

	a.mu.Lock()
	stop := a.stopServer
	a.stopServer = nil
	a.mu.Unlock()
	if stop != nil {
		defer stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultDisposeTimeout)
	defer cancel()
	return a.client.Dispose(ctx, a.instance)
}
