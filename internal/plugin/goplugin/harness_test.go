// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package goplugin

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/holomush/agenthost/pkg/agent"
)

const bufSize = 1 << 20

func dialBuf(lis *bufconn.Listener) (*grpc.ClientConn, error) {
	return grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// memBroker stands in for go-plugin's broker with in-memory listeners.
type memBroker struct {
	mu        sync.Mutex
	next      uint32
	listeners map[uint32]*bufconn.Listener
}

func newMemBroker() *memBroker {
	return &memBroker{listeners: make(map[uint32]*bufconn.Listener)}
}

func (b *memBroker) listener(id uint32) *bufconn.Listener {
	b.mu.Lock()
	defer b.mu.Unlock()
	lis, ok := b.listeners[id]
	if !ok {
		lis = bufconn.Listen(bufSize)
		b.listeners[id] = lis
	}
	return lis
}

func (b *memBroker) NextId() uint32 { //nolint:revive // matches go-plugin's method name
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	return b.next
}

func (b *memBroker) AcceptAndServe(id uint32, newServer func([]grpc.ServerOption) *grpc.Server) {
	_ = newServer(nil).Serve(b.listener(id))
}

func (b *memBroker) Dial(id uint32) (*grpc.ClientConn, error) {
	return dialBuf(b.listener(id))
}

// memProcess is an agent server reachable over an in-memory connection.
type memProcess struct {
	server *grpc.Server
	conn   *grpc.ClientConn
	client *agentClient
}

func startMemProcess(t *testing.T, types map[string]func() any) *memProcess {
	t.Helper()
	broker := newMemBroker()
	impl := NewAgentServer(types, slog.Default())
	impl.broker = broker

	lis := bufconn.Listen(bufSize)
	s := grpc.NewServer()
	registerAgentService(s, impl)
	go func() { _ = s.Serve(lis) }()

	conn, err := dialBuf(lis)
	require.NoError(t, err)
	return &memProcess{server: s, conn: conn, client: newAgentClient(conn, broker)}
}

func (p *memProcess) stop() {
	_ = p.conn.Close()
	p.server.Stop()
}

// memProtocol implements hashiplug.ClientProtocol.
type memProtocol struct {
	raw         any
	dispenseErr error
}

func (m *memProtocol) Close() error { return nil }
func (m *memProtocol) Ping() error  { return nil }
func (m *memProtocol) Dispense(_ string) (interface{}, error) {
	if m.dispenseErr != nil {
		return nil, m.dispenseErr
	}
	return m.raw, nil
}

type memClient struct {
	proc      *memProcess
	protocol  hashiplug.ClientProtocol
	clientErr error
	killed    atomic.Bool
}

func (c *memClient) Client() (hashiplug.ClientProtocol, error) {
	if c.clientErr != nil {
		return nil, c.clientErr
	}
	return c.protocol, nil
}

func (c *memClient) Kill() {
	if c.killed.CompareAndSwap(false, true) && c.proc != nil {
		c.proc.stop()
	}
}

// memFactory starts a fresh in-memory process for every client.
type memFactory struct {
	t     *testing.T
	types map[string]func() any

	mu      sync.Mutex
	clients []*memClient
	fail    error
}

func (f *memFactory) NewClient(_, _ string) PluginClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		c := &memClient{clientErr: f.fail}
		f.clients = append(f.clients, c)
		return c
	}
	proc := startMemProcess(f.t, f.types)
	c := &memClient{proc: proc, protocol: &memProtocol{raw: proc.client}}
	f.clients = append(f.clients, c)
	f.t.Cleanup(c.Kill)
	return c
}

func (f *memFactory) started() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *memFactory) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.clients {
		if !c.killed.Load() {
			n++
		}
	}
	return n
}

// counterAgent is served inside the fake agent process.
type counterAgent struct {
	host      agent.Context
	total     int
	resets    int
	unhandled string
}

func newCounterAgent() any { return &counterAgent{} }

func (c *counterAgent) Describe() agent.Declaration {
	return agent.Declaration{
		Metadata: &agent.Metadata{Name: "Counter", Version: "1.2.0"},
		Operations: []agent.Operation{
			{Method: "Add", Alias: "Increment"},
			{Method: "Total", ReadOnly: true},
			{Method: "Resets", ReadOnly: true},
			{Method: "LastUnhandled", ReadOnly: true},
			{Method: "Announce"},
			{Method: "Ask"},
			{Method: "Fail"},
			{Method: "Prefix"},
		},
		Handlers: []agent.Handler{
			{Method: "OnReset", EventType: "counter.reset"},
		},
	}
}

func (c *counterAgent) OnInitialize(_ context.Context, host agent.Context) error {
	c.host = host
	return nil
}

func (c *counterAgent) Add(n int) int {
	c.total += n
	return c.total
}

func (c *counterAgent) Total() int            { return c.total }
func (c *counterAgent) Resets() int           { return c.resets }
func (c *counterAgent) LastUnhandled() string { return c.unhandled }

func (c *counterAgent) Prefix() string { return c.host.Config().Get("prefix", "#") }

func (c *counterAgent) Announce(ctx context.Context, message string) error {
	return c.host.Publish(ctx, agent.NewEvent("counter.announce", map[string]any{"message": message}))
}

func (c *counterAgent) Ask(ctx context.Context, id, operation, arg string) (any, error) {
	ref, err := c.host.Agent(ctx, id)
	if err != nil {
		return nil, err
	}
	return ref.Execute(ctx, operation, arg)
}

func (c *counterAgent) Fail() error { return errors.New("counter exploded") }

func (c *counterAgent) OnReset(_ context.Context, _ agent.Event) error {
	c.total = 0
	c.resets++
	return nil
}

func (c *counterAgent) OnUnhandledEvent(_ context.Context, event agent.Event) error {
	c.unhandled = event.Type
	return nil
}
