// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("agenthost/plugin")

// Executor invokes indexed operations and normalizes their outcome.
type Executor struct {
	logger *slog.Logger
}

// NewExecutor creates an executor. A nil logger uses slog.Default.
func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger}
}

// Execute looks up name in ix, invokes it with args and awaits asynchronous
// results. Failures raised by the plugin are logged and returned as
// OPERATION_EXECUTION errors wrapping the cause.
func (e *Executor) Execute(ctx context.Context, ix *Index, agentName, name string, args []any) (result any, err error) {
	ctx, span := tracer.Start(ctx, "plugin.execute",
		trace.WithAttributes(
			attribute.String("agent.name", agentName),
			attribute.String("operation.name", name),
			attribute.Int("operation.args", len(args)),
		),
	)
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		RecordOperation(name, statusFor(err), time.Since(start))
	}()

	d, ok := ix.Operation(name)
	if !ok {
		return nil, ErrOperationNotFound(name)
	}
	span.SetAttributes(
		attribute.String("operation.method", d.UnderlyingName),
		attribute.Bool("operation.read_only", d.IsReadOnly),
	)

	result, err = invoke(ctx, d.fn, args)
	if err != nil {
		if ctx.Err() != nil && isCancellation(err) {
			return nil, ErrCancelled(name, err)
		}
		e.logger.WarnContext(ctx, "operation failed",
			"agent_type", agentName,
			"operation", name,
			"error", err)
		return nil, ErrOperationExecution(name, err)
	}
	return result, nil
}

// invoke calls fn and waits for pending results.
func invoke(ctx context.Context, fn callable, args []any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := fn.call(ctx, args)
	if err != nil {
		return nil, err
	}
	if !isPending(v) {
		return v, nil
	}
	return Await(ctx, v)
}
