// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/agenthost/pkg/agent"
)

// Router delivers events to the handler registered for their type.
type Router struct {
	logger *slog.Logger
}

// NewRouter creates a router. A nil logger uses slog.Default.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{logger: logger}
}

// Dispatch routes event to the specific handler for its type, then to the
// wildcard handler, then to fallback. A nil fallback logs a warning and
// succeeds.
func (r *Router) Dispatch(ctx context.Context, ix *Index, agentName string, fallback agent.UnhandledEventHandler, event agent.Event) (err error) {
	ctx, span := tracer.Start(ctx, "plugin.dispatch",
		trace.WithAttributes(
			attribute.String("agent.name", agentName),
			attribute.String("event.type", event.Type),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	route := RouteSpecific
	d, ok := ix.Handler(event.Type)
	if !ok {
		route = RouteWildcard
		d, ok = ix.Handler(agent.WildcardEventType)
	}
	if !ok {
		route = RouteUnhandled
	}
	span.SetAttributes(attribute.String("event.route", route))
	RecordDispatch(event.Type, route)

	if !ok {
		if fallback == nil {
			r.logger.WarnContext(ctx, "no handler for event",
				"agent_type", agentName,
				"event_type", event.Type)
			return nil
		}
		err = fallback.OnUnhandledEvent(ctx, event)
	} else {
		_, err = invoke(ctx, d.fn, d.args(event))
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && isCancellation(err) {
		return ErrCancelled("dispatch "+event.Type, err)
	}
	r.logger.WarnContext(ctx, "event handler failed",
		"agent_type", agentName,
		"event_type", event.Type,
		"error", err)
	return ErrEventHandlerExecution(event.Type, err)
}
