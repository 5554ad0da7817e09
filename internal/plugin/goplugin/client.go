// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package goplugin

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/holomush/agenthost/pkg/agent"
)

// agentClient is the host's stub for the Agent service of one process.
type agentClient struct {
	cc     grpc.ClientConnInterface
	broker serverBroker
}

func newAgentClient(cc grpc.ClientConnInterface, broker serverBroker) *agentClient {
	return &agentClient{cc: cc, broker: broker}
}

func (c *agentClient) call(ctx context.Context, method string, in, out any) error {
	return invoke(ctx, c.cc, agentServiceName, method, in, out)
}

// Types lists the agent types the process serves.
func (c *agentClient) Types(ctx context.Context) ([]string, error) {
	var reply typesReply
	if err := c.call(ctx, "Types", empty{}, &reply); err != nil {
		return nil, err
	}
	return reply.Types, nil
}

// Create makes a new instance of typeName in the process.
func (c *agentClient) Create(ctx context.Context, typeName string) (createReply, error) {
	var reply createReply
	err := c.call(ctx, "Create", createRequest{Type: typeName}, &reply)
	return reply, err
}

// Initialize starts a callback server bound to host and initializes the
// instance against it. The returned stop function shuts the callback
// server down.
func (c *agentClient) Initialize(ctx context.Context, instance string, host agent.Context) (stop func(), err error) {
	id := c.broker.NextId()
	servers := make(chan *grpc.Server, 1)
	go c.broker.AcceptAndServe(id, func(opts []grpc.ServerOption) *grpc.Server {
		s := grpc.NewServer(opts...)
		registerHostService(s, &hostServer{host: host})
		servers <- s
		return s
	})
	stop = func() {
		select {
		case s := <-servers:
			s.Stop()
		default:
		}
	}

	req := initializeRequest{
		Instance: instance,
		Broker:   id,
		AgentID:  host.AgentID(),
		Config:   host.Config().Map(),
	}
	if err := c.call(ctx, "Initialize", req, nil); err != nil {
		stop()
		return nil, err
	}
	return stop, nil
}

// Invoke calls a method of instance.
func (c *agentClient) Invoke(ctx context.Context, instance, method string, args []any) (any, error) {
	var reply invokeReply
	if err := c.call(ctx, "Invoke", invokeRequest{Instance: instance, Method: method, Args: args}, &reply); err != nil {
		return nil, err
	}
	return reply.Result, nil
}

// HandleEvent delivers event to instance.
func (c *agentClient) HandleEvent(ctx context.Context, instance string, event agent.Event) error {
	return c.call(ctx, "HandleEvent", eventRequest{Instance: instance, Event: event}, nil)
}

// Dispose releases instance in the process.
func (c *agentClient) Dispose(ctx context.Context, instance string) error {
	return c.call(ctx, "Dispose", disposeRequest{Instance: instance}, nil)
}

// hostServer serves one agent's calls back into the host.
type hostServer struct {
	host agent.Context
}

var _ hostService = (*hostServer)(nil)

func (s *hostServer) Publish(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req eventRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := s.host.Publish(ctx, req.Event); err != nil {
		return nil, err
	}
	return encode(empty{})
}

func (s *hostServer) Request(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req eventRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	reply, err := s.host.Request(ctx, req.Event, time.Duration(req.TimeoutMS)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	return encode(eventReply{Event: reply})
}

func (s *hostServer) Execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req executeRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	ref, err := s.host.Agent(ctx, req.Agent)
	if err != nil {
		return nil, err
	}
	result, err := ref.Execute(ctx, req.Operation, req.Args...)
	if err != nil {
		return nil, err
	}
	return encode(invokeReply{Result: result})
}

func (s *hostServer) Send(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req eventRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	ref, err := s.host.Agent(ctx, req.Agent)
	if err != nil {
		return nil, err
	}
	if err := ref.Send(ctx, req.Event); err != nil {
		return nil, err
	}
	return encode(empty{})
}
