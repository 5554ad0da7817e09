// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package goplugin

import (
	"context"
	"encoding/json"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/holomush/agenthost/pkg/agent"
)

// Service names on the wire.
const (
	agentServiceName = "agenthost.agent.v1.Agent"
	hostServiceName  = "agenthost.agent.v1.Host"
)

// agentService is served by the agent process.
type agentService interface {
	Types(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Create(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Initialize(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Invoke(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	HandleEvent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Dispose(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// hostService is served by the host on the broker for one agent.
type hostService interface {
	Publish(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Request(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Send(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var agentServiceDesc = grpc.ServiceDesc{
	ServiceName: agentServiceName,
	HandlerType: (*agentService)(nil),
	Methods: []grpc.MethodDesc{
		unary(agentServiceName, "Types", agentService.Types),
		unary(agentServiceName, "Create", agentService.Create),
		unary(agentServiceName, "Initialize", agentService.Initialize),
		unary(agentServiceName, "Invoke", agentService.Invoke),
		unary(agentServiceName, "HandleEvent", agentService.HandleEvent),
		unary(agentServiceName, "Dispose", agentService.Dispose),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agenthost/agent/v1/agent.proto",
}

var hostServiceDesc = grpc.ServiceDesc{
	ServiceName: hostServiceName,
	HandlerType: (*hostService)(nil),
	Methods: []grpc.MethodDesc{
		unary(hostServiceName, "Publish", hostService.Publish),
		unary(hostServiceName, "Request", hostService.Request),
		unary(hostServiceName, "Execute", hostService.Execute),
		unary(hostServiceName, "Send", hostService.Send),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agenthost/agent/v1/agent.proto",
}

func registerAgentService(s grpc.ServiceRegistrar, srv agentService) {
	s.RegisterService(&agentServiceDesc, srv)
}

func registerHostService(s grpc.ServiceRegistrar, srv hostService) {
	s.RegisterService(&hostServiceDesc, srv)
}

// unary builds the method descriptor for one Struct-to-Struct method.
func unary[S any](service, method string, fn func(S, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			impl := srv.(S) //nolint:forcetypeassert // RegisterService checks HandlerType
			if interceptor == nil {
				return fn(impl, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(impl, ctx, req.(*structpb.Struct)) //nolint:forcetypeassert // decoded above
			})
		},
	}
}

// invoke calls method on service and decodes the reply into out, which
// may be nil.
func invoke(ctx context.Context, cc grpc.ClientConnInterface, service, method string, in, out any) error {
	req, err := encode(in)
	if err != nil {
		return err
	}
	reply := new(structpb.Struct)
	if err := cc.Invoke(ctx, "/"+service+"/"+method, req, reply); err != nil {
		return remoteError(method, err)
	}
	if out == nil {
		return nil
	}
	return decode(reply, out)
}

// encode converts a JSON-shaped value into a Struct.
func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, oops.In("goplugin").Hint("value is not JSON-encodable").Wrap(err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, oops.In("goplugin").Wrap(err)
	}
	return s, nil
}

// decode converts a Struct into out using its JSON tags.
func decode(s *structpb.Struct, out any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return oops.In("goplugin").Wrap(err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return oops.In("goplugin").Wrap(err)
	}
	return nil
}

// remoteError recovers the message of an error returned across the wire.
func remoteError(method string, err error) error {
	if st, ok := status.FromError(err); ok {
		return oops.In("goplugin").With("method", method).With("grpc_code", st.Code().String()).
			Errorf("%s", st.Message())
	}
	return oops.In("goplugin").With("method", method).Wrap(err)
}

// empty is the reply of methods without results.
type empty struct{}

type typesReply struct {
	Types []string `json:"types"`
}

type createRequest struct {
	Type string `json:"type"`
}

type createReply struct {
	Instance    string            `json:"instance"`
	Declaration agent.Declaration `json:"declaration"`
}

type initializeRequest struct {
	Instance string            `json:"instance"`
	Broker   uint32            `json:"broker"`
	AgentID  string            `json:"agent_id"`
	Config   map[string]string `json:"config,omitempty"`
}

type invokeRequest struct {
	Instance string `json:"instance"`
	Method   string `json:"method"`
	Args     []any  `json:"args,omitempty"`
}

type invokeReply struct {
	Result any `json:"result,omitempty"`
}

type eventRequest struct {
	Instance string      `json:"instance,omitempty"`
	Agent    string      `json:"agent,omitempty"`
	Event    agent.Event `json:"event"`
	// TimeoutMS bounds Request calls.
	TimeoutMS int64 `json:"timeout_ms,omitempty"`
}

type eventReply struct {
	Event agent.Event `json:"event"`
}

type disposeRequest struct {
	Instance string `json:"instance"`
}

type executeRequest struct {
	Agent     string `json:"agent"`
	Operation string `json:"operation"`
	Args      []any  `json:"args,omitempty"`
}
