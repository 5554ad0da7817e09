// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ReloadStep names a stage of a hot reload.
type ReloadStep string

// Reload stages in execution order.
const (
	StepCaptureState ReloadStep = "capture_state"
	StepLoad         ReloadStep = "load"
	StepRestoreState ReloadStep = "restore_state"
	StepSwap         ReloadStep = "swap"
)

// ReloadError reports the stage at which a reload failed. The previously
// live instance remains bound when a ReloadError is returned.
type ReloadError struct {
	AgentID string
	Step    ReloadStep
	Err     error
}

func (e *ReloadError) Error() string {
	return fmt.Sprintf("reload %s failed at %s: %v", e.AgentID, e.Step, e.Err)
}

func (e *ReloadError) Unwrap() error { return e.Err }

func reloadFailed(id string, step ReloadStep, cause error) error {
	return coded(CodeReloadFailed, &ReloadError{
		AgentID: id,
		Step:    step,
		Err: oops.In("plugin").Code(CodeReloadFailed).
			With("agent", id).
			With("step", string(step)).
			Wrap(cause),
	})
}

// Coordinator replaces live instances while carrying their state across.
type Coordinator struct {
	loader *Loader
	dir    *Directory
	logger *slog.Logger
}

// NewCoordinator creates a coordinator over loader and dir.
func NewCoordinator(loader *Loader, dir *Directory, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{loader: loader, dir: dir, logger: logger}
}

// Reload loads typeName from unit as the successor of the instance bound
// to id, hands it the old state and publishes it. If loading or restoring
// state fails, the old instance stays bound and is not disposed. A failure
// disposing the old instance after the swap is logged only.
func (c *Coordinator) Reload(ctx context.Context, id string, unit CodeUnit, typeName string, opts ...LoadOption) (next *Instance, err error) {
	ctx, span := tracer.Start(ctx, "plugin.reload",
		trace.WithAttributes(
			attribute.String("agent.id", id),
			attribute.String("plugin.artifact", unit.Name()),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			RecordReload(StatusError)
		} else {
			RecordReload(StatusSuccess)
		}
		span.End()
	}()

	old, ok := c.dir.Lookup(id)
	if !ok {
		return nil, ErrAgentNotFound(id)
	}
	if typeName == "" {
		typeName = old.TypeName()
	}

	state, err := old.GetState(ctx)
	if err != nil {
		return nil, reloadFailed(id, StepCaptureState, err)
	}

	opts = append(opts, Replacing(old))
	next, _, err = c.loader.Load(ctx, unit, typeName, opts...)
	if err != nil {
		return nil, reloadFailed(id, StepLoad, err)
	}

	rollback := func(failure error) error {
		if derr := next.Dispose(); derr != nil {
			c.logger.WarnContext(ctx, "dispose rejected successor", "agent", id, "error", derr)
		}
		c.loader.Release(next)
		c.loader.Restore(old)
		c.loader.Status().Record(LoadStatus{
			Artifact: unit.Name(),
			Source:   unit.Source(),
			TypeName: typeName,
			Outcome:  Error,
			Reason:   failure.Error(),
		})
		return failure
	}

	if err := next.SetState(ctx, state); err != nil {
		return nil, rollback(reloadFailed(id, StepRestoreState, err))
	}

	if !c.dir.Swap(id, old, next) {
		return nil, rollback(reloadFailed(id, StepSwap, oops.Errorf("binding for %s changed during reload", id)))
	}
	c.loader.Supersede(old, next)

	if derr := old.Dispose(); derr != nil {
		c.logger.WarnContext(ctx, "dispose replaced instance",
			"agent", id,
			"instance", old.ID(),
			"error", derr)
	}

	c.logger.InfoContext(ctx, "agent reloaded",
		"agent", id,
		"previous", old.ID(),
		"instance", next.ID(),
		"artifact", unit.Name())
	return next, nil
}
