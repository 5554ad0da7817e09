// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package goplugin runs binary agents as separate processes using
// HashiCorp's go-plugin system over gRPC.
//
// The agent process serves the Agent service. When an agent is
// initialized the host opens a Host service on the go-plugin broker so the
// agent can publish events and call other agents. Messages on both
// services are google.protobuf.Struct values holding JSON-shaped
// requests.
package goplugin

import (
	"context"
	"errors"

	hashiplug "github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
)

// PluginName is the name the agent plugin is dispensed under.
const PluginName = "agent"

// HandshakeConfig must match between host and agent processes.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "AGENTHOST_PLUGIN",
	MagicCookieValue: "agenthost-agent-v1",
}

// PluginMap is the map of plugins the host can dispense.
var PluginMap = map[string]hashiplug.Plugin{
	PluginName: &GRPCPlugin{},
}

// GRPCPlugin implements go-plugin's Plugin interface for gRPC.
type GRPCPlugin struct {
	hashiplug.NetRPCUnsupportedPlugin
	// Impl is used by the agent process (not used by host).
	Impl *AgentServer
}

// GRPCServer registers the agent server (called by agent process).
func (p *GRPCPlugin) GRPCServer(broker *hashiplug.GRPCBroker, s *grpc.Server) error {
	if p.Impl == nil {
		return errors.New("goplugin: agent server is nil")
	}
	p.Impl.broker = broker
	registerAgentService(s, p.Impl)
	return nil
}

// GRPCClient returns an agent client (called by host process).
func (p *GRPCPlugin) GRPCClient(_ context.Context, broker *hashiplug.GRPCBroker, c *grpc.ClientConn) (interface{}, error) {
	return newAgentClient(c, broker), nil
}

// serverBroker starts servers for callbacks. *hashiplug.GRPCBroker
// implements it.
type serverBroker interface {
	NextId() uint32 //nolint:revive // matches go-plugin's method name
	AcceptAndServe(id uint32, newServer func([]grpc.ServerOption) *grpc.Server)
}

// dialBroker connects to callback servers. *hashiplug.GRPCBroker
// implements it.
type dialBroker interface {
	Dial(id uint32) (*grpc.ClientConn, error)
}
