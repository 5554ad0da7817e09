// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package goplugin

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	plugins "github.com/holomush/agenthost/internal/plugin"
	"github.com/holomush/agenthost/pkg/agent"
)

// Compile-time interface check.
var _ agentService = (*AgentServer)(nil)

// AgentServer hosts agent instances inside the agent process. Each
// instance is a full engine instance, so operations and events are
// dispatched here exactly as they would be in the host.
type AgentServer struct {
	types  map[string]func() any
	logger *slog.Logger
	broker dialBroker

	mu        sync.Mutex
	instances map[string]*served
}

type served struct {
	inst *plugins.Instance
	conn *grpc.ClientConn
}

// NewAgentServer creates a server for the given agent types.
func NewAgentServer(types map[string]func() any, logger *slog.Logger) *AgentServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentServer{
		types:     maps.Clone(types),
		logger:    logger,
		instances: make(map[string]*served),
	}
}

func (s *AgentServer) lookup(id string) (*served, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.instances[id]
	if !ok {
		return nil, oops.In("goplugin").With("instance", id).Errorf("unknown instance %q", id)
	}
	return entry, nil
}

// Types implements agentService.
func (s *AgentServer) Types(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encode(typesReply{Types: slices.Sorted(maps.Keys(s.types))})
}

// Create implements agentService.
func (s *AgentServer) Create(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req createRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	ctor, ok := s.types[req.Type]
	if !ok {
		return nil, plugins.ErrTypeResolution("process", req.Type, nil)
	}

	impl := ctor()
	inst := plugins.NewInstance(impl, plugins.InstanceOptions{
		TypeName: req.Type,
		Logger:   s.logger.With("type", req.Type),
	})

	var decl agent.Declaration
	if d, ok := impl.(agent.Describer); ok {
		decl = d.Describe()
	}

	s.mu.Lock()
	s.instances[inst.ID()] = &served{inst: inst}
	s.mu.Unlock()

	return encode(createReply{Instance: inst.ID(), Declaration: decl})
}

// Initialize implements agentService. It dials the host callback server
// and initializes the instance against it.
func (s *AgentServer) Initialize(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req initializeRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	entry, err := s.lookup(req.Instance)
	if err != nil {
		return nil, err
	}

	var cc grpc.ClientConnInterface
	if s.broker != nil {
		conn, err := s.broker.Dial(req.Broker)
		if err != nil {
			return nil, oops.In("goplugin").With("instance", req.Instance).
				Hint("failed to dial host callback server").Wrap(err)
		}
		s.mu.Lock()
		entry.conn = conn
		s.mu.Unlock()
		cc = conn
	}

	host := &remoteHost{
		id:     req.AgentID,
		config: agent.NewConfig(req.Config),
		logger: s.logger.With("agent", req.AgentID),
		cc:     cc,
	}
	if err := entry.inst.Initialize(ctx, host); err != nil {
		return nil, err
	}
	return encode(empty{})
}

// Invoke implements agentService.
func (s *AgentServer) Invoke(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req invokeRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	entry, err := s.lookup(req.Instance)
	if err != nil {
		return nil, err
	}
	result, err := entry.inst.ExecuteOperation(ctx, req.Method, req.Args)
	if err != nil {
		return nil, err
	}
	return encode(invokeReply{Result: result})
}

// HandleEvent implements agentService.
func (s *AgentServer) HandleEvent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req eventRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	entry, err := s.lookup(req.Instance)
	if err != nil {
		return nil, err
	}
	if err := entry.inst.HandleEvent(ctx, req.Event); err != nil {
		return nil, err
	}
	return encode(empty{})
}

// Dispose implements agentService.
func (s *AgentServer) Dispose(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req disposeRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	entry, ok := s.instances[req.Instance]
	delete(s.instances, req.Instance)
	s.mu.Unlock()
	if !ok {
		return encode(empty{})
	}

	err := entry.inst.Dispose()
	if entry.conn != nil {
		if cerr := entry.conn.Close(); cerr != nil {
			s.logger.Debug("failed to close host connection", "instance", req.Instance, "error", cerr)
		}
	}
	if err != nil {
		return nil, err
	}
	return encode(empty{})
}

// remoteHost is the agent.Context an out-of-process agent sees. Calls are
// forwarded to the host's callback server, where capabilities are checked.
type remoteHost struct {
	id     string
	config agent.Config
	logger *slog.Logger
	cc     grpc.ClientConnInterface
}

func (h *remoteHost) AgentID() string      { return h.id }
func (h *remoteHost) Logger() *slog.Logger { return h.logger }
func (h *remoteHost) Config() agent.Config { return h.config }

func (h *remoteHost) conn() (grpc.ClientConnInterface, error) {
	if h.cc == nil {
		return nil, oops.In("goplugin").With("agent", h.id).Errorf("host connection not available")
	}
	return h.cc, nil
}

func (h *remoteHost) Publish(ctx context.Context, event agent.Event) error {
	cc, err := h.conn()
	if err != nil {
		return err
	}
	return invoke(ctx, cc, hostServiceName, "Publish", eventRequest{Event: event}, nil)
}

func (h *remoteHost) Request(ctx context.Context, event agent.Event, timeout time.Duration) (agent.Event, error) {
	cc, err := h.conn()
	if err != nil {
		return agent.Event{}, err
	}
	var reply eventReply
	req := eventRequest{Event: event, TimeoutMS: timeout.Milliseconds()}
	if err := invoke(ctx, cc, hostServiceName, "Request", req, &reply); err != nil {
		return agent.Event{}, err
	}
	return reply.Event, nil
}

func (h *remoteHost) Agent(_ context.Context, id string) (agent.Ref, error) {
	cc, err := h.conn()
	if err != nil {
		return nil, err
	}
	return &remoteRef{id: id, cc: cc}, nil
}

// remoteRef addresses another agent through the host. Lookup failures
// surface on the first call.
type remoteRef struct {
	id string
	cc grpc.ClientConnInterface
}

func (r *remoteRef) ID() string { return r.id }

func (r *remoteRef) Execute(ctx context.Context, operation string, args ...any) (any, error) {
	var reply invokeReply
	req := executeRequest{Agent: r.id, Operation: operation, Args: args}
	if err := invoke(ctx, r.cc, hostServiceName, "Execute", req, &reply); err != nil {
		return nil, err
	}
	return reply.Result, nil
}

func (r *remoteRef) Send(ctx context.Context, event agent.Event) error {
	return invoke(ctx, r.cc, hostServiceName, "Send", eventRequest{Agent: r.id, Event: event}, nil)
}
