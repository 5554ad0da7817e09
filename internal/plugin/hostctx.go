// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/agenthost/internal/plugin/capability"
	"github.com/holomush/agenthost/pkg/agent"
)

// agentDirectory is the part of Manager a host context needs.
type agentDirectory interface {
	Lookup(id string) (*Instance, bool)
	Execute(ctx context.Context, id, operation string, args []any) (any, error)
	Dispatch(ctx context.Context, id string, event agent.Event) error
}

// hostContext is the agent.Context handed to an instance at Initialize.
type hostContext struct {
	id       string
	logger   *slog.Logger
	config   agent.Config
	bus      *Bus
	agents   agentDirectory
	enforcer *capability.Enforcer
}

var _ agent.Context = (*hostContext)(nil)

// DetachedContext returns a context for an agent loaded outside a Manager.
// It carries a logger and empty configuration; publishing and peer lookup
// fail.
func DetachedContext(id string, logger *slog.Logger) agent.Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &hostContext{
		id:     id,
		logger: logger.With("agent", id),
		config: agent.NewConfig(nil),
	}
}

func (h *hostContext) AgentID() string      { return h.id }
func (h *hostContext) Logger() *slog.Logger { return h.logger }
func (h *hostContext) Config() agent.Config { return h.config }

func (h *hostContext) require(capName string) error {
	if h.enforcer == nil || !h.enforcer.Check(h.id, capName) {
		return ErrCapabilityDenied(h.id, capName)
	}
	return nil
}

func (h *hostContext) stamp(event agent.Event) agent.Event {
	event = event.From(h.id)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return event
}

func (h *hostContext) Publish(ctx context.Context, event agent.Event) error {
	if h.bus == nil {
		return oops.In("host").With("agent", h.id).Errorf("agent %s has no event bus", h.id)
	}
	if err := h.require(capability.EventsPublish); err != nil {
		return err
	}
	if event.CorrelationID == "" {
		event.CorrelationID = agent.NewID()
	}
	return h.bus.Publish(ctx, h.stamp(event))
}

func (h *hostContext) Request(ctx context.Context, event agent.Event, timeout time.Duration) (agent.Event, error) {
	if h.bus == nil {
		return agent.Event{}, oops.In("host").With("agent", h.id).Errorf("agent %s has no event bus", h.id)
	}
	if err := h.require(capability.EventsRequest); err != nil {
		return agent.Event{}, err
	}
	return h.bus.Request(ctx, h.stamp(event), timeout)
}

func (h *hostContext) Agent(_ context.Context, id string) (agent.Ref, error) {
	if h.agents == nil {
		return nil, ErrAgentNotFound(id)
	}
	if err := h.require(capability.AgentsLookup); err != nil {
		return nil, err
	}
	if _, ok := h.agents.Lookup(id); !ok {
		return nil, ErrAgentNotFound(id)
	}
	return &agentRef{id: id, from: h.id, agents: h.agents}, nil
}

// agentRef addresses another agent by id. The binding is resolved on
// every call, so a reference survives reloads of its target.
type agentRef struct {
	id     string
	from   string
	agents agentDirectory
}

func (r *agentRef) ID() string { return r.id }

func (r *agentRef) Execute(ctx context.Context, operation string, args ...any) (any, error) {
	return r.agents.Execute(ctx, r.id, operation, args)
}

func (r *agentRef) Send(ctx context.Context, event agent.Event) error {
	event = event.From(r.from)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return r.agents.Dispatch(ctx, r.id, event)
}
