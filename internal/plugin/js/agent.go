// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package js

import (
	"context"
	"log/slog"
	"time"

	"github.com/dop251/goja"
	"github.com/samber/oops"

	"github.com/holomush/agenthost/pkg/agent"
)

// Hook methods an agent object may define.
const (
	hookInit      = "init"
	hookDispose   = "dispose"
	hookUnhandled = "onUnhandled"
)

// Compile-time interface checks.
var (
	_ agent.Describer             = (*jsAgent)(nil)
	_ agent.Invoker               = (*jsAgent)(nil)
	_ agent.Initializer           = (*jsAgent)(nil)
	_ agent.Disposer              = (*jsAgent)(nil)
	_ agent.StateAware            = (*jsAgent)(nil)
	_ agent.UnhandledEventHandler = (*jsAgent)(nil)
)

// jsAgent is one instance of a JavaScript agent type: an object whose
// prototype is the type object.
type jsAgent struct {
	typeName string
	vm       *vm
	self     *goja.Object
	decl     agent.Declaration
	state    *agent.State
	logger   *slog.Logger
	release  func()

	// ctx is the context of the call in progress, guarded by vm.mu.
	ctx context.Context
}

func (a *jsAgent) current() context.Context {
	if a.ctx != nil {
		return a.ctx
	}
	return context.Background()
}

func (a *jsAgent) Describe() agent.Declaration { return a.decl }

func (a *jsAgent) UseState(state *agent.State) { a.state = state }

// OnInitialize installs the host module as this.agent and runs init.
func (a *jsAgent) OnInitialize(ctx context.Context, host agent.Context) error {
	a.vm.mu.Lock()
	defer a.vm.mu.Unlock()

	a.logger = host.Logger()
	if err := a.self.Set("agent", newModule(a.vm.rt, host, a.state, a.current)); err != nil {
		return oops.In("js").With("type", a.typeName).Wrap(err)
	}
	_, _, err := a.callHook(ctx, hookInit)
	return err
}

// OnDispose runs dispose and releases the VM.
func (a *jsAgent) OnDispose() error {
	defer a.release()

	a.vm.mu.Lock()
	defer a.vm.mu.Unlock()
	_, _, err := a.callHook(context.Background(), hookDispose)
	return err
}

// OnUnhandledEvent runs onUnhandled if the type defines it.
func (a *jsAgent) OnUnhandledEvent(ctx context.Context, event agent.Event) error {
	a.vm.mu.Lock()
	defer a.vm.mu.Unlock()

	_, found, err := a.callHook(ctx, hookUnhandled, event)
	if !found {
		a.logger.WarnContext(ctx, "no handler for event",
			"event_type", event.Type,
			"type", a.typeName)
	}
	return err
}

// Invoke calls method with the instance as this. A returned promise is
// unwrapped into an agent.Future.
func (a *jsAgent) Invoke(ctx context.Context, method string, args []any) (any, error) {
	a.vm.mu.Lock()
	defer a.vm.mu.Unlock()

	fn, ok := goja.AssertFunction(a.self.Get(method))
	if !ok {
		return nil, oops.In("js").With("type", a.typeName).With("method", method).
			Errorf("method %q is not a function", method)
	}
	return a.call(ctx, method, fn, args)
}

func (a *jsAgent) callHook(ctx context.Context, name string, args ...any) (result any, found bool, err error) {
	fn, ok := goja.AssertFunction(a.self.Get(name))
	if !ok {
		return nil, false, nil
	}
	result, err = a.call(ctx, name, fn, args)
	if err != nil {
		return nil, true, err
	}
	result, err = settle(ctx, result)
	return result, true, err
}

// call runs fn with the VM lock held. Cancelling ctx interrupts the
// script.
func (a *jsAgent) call(ctx context.Context, method string, fn goja.Callable, args []any) (any, error) {
	rt := a.vm.rt
	a.ctx = ctx
	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		rt.Interrupt(ctx.Err())
		close(interrupted)
	})
	defer func() {
		if !stop() {
			<-interrupted
		}
		rt.ClearInterrupt()
		a.ctx = nil
	}()

	params := make([]goja.Value, len(args))
	for i, arg := range args {
		params[i] = rt.ToValue(toJS(arg))
	}

	ret, err := fn(a.self, params...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr //nolint:wrapcheck // cancellation is classified by the executor
		}
		return nil, oops.In("js").With("type", a.typeName).With("method", method).Wrap(err)
	}
	if p, ok := ret.Export().(*goja.Promise); ok {
		return promiseFuture(p), nil
	}
	return ret.Export(), nil
}

// promiseFuture converts a settled promise. Promises settle when the job
// queue drains at the end of the call; a pending one never will.
func promiseFuture(p *goja.Promise) agent.Future {
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return agent.Resolved(p.Result().Export())
	case goja.PromiseStateRejected:
		return agent.Rejected(oops.In("js").Errorf("promise rejected: %v", p.Result().Export()))
	default:
		return agent.Rejected(oops.In("js").Errorf("promise did not settle"))
	}
}

// settle awaits hook results that came back as futures.
func settle(ctx context.Context, v any) (any, error) {
	if f, ok := v.(agent.Future); ok {
		return f.Await(ctx)
	}
	return v, nil
}

// toJS converts host values to shapes goja exposes naturally.
func toJS(v any) any {
	switch val := v.(type) {
	case agent.Event:
		return eventObject(val)
	case *agent.Event:
		if val == nil {
			return nil
		}
		return eventObject(*val)
	}
	return v
}

func eventObject(e agent.Event) map[string]any {
	return map[string]any{
		"type":            e.Type,
		"timestamp":       e.Timestamp.Format(time.RFC3339Nano),
		"data":            e.Data,
		"correlation_id":  e.CorrelationID,
		"source_agent_id": e.SourceAgentID,
	}
}
