// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/holomush/agenthost/pkg/agent"
)

// OperationDescriptor describes one invocable operation of an instance.
// Descriptors are built once during indexing and never mutated.
type OperationDescriptor struct {
	PublicName       string
	UnderlyingName   string
	IsReadOnly       bool
	AlwaysInterleave bool
	OneWay           bool

	fn callable
}

// HandlerDescriptor describes the handler registered for one event type.
type HandlerDescriptor struct {
	EventType string
	Method    string

	pass handlerArg
	fn   callable
}

// handlerArg selects what a handler receives from the event.
type handlerArg int

const (
	passData handlerArg = iota
	passEvent
	passEventPtr
	passNothing
)

func handlerArgFor(shape *methodShape) handlerArg {
	switch {
	case shape == nil:
		return passEvent
	case shape.takesEvent() && shape.params[0] == eventPtrType:
		return passEventPtr
	case shape.takesEvent():
		return passEvent
	case len(shape.params) == 0 && !shape.variadic:
		return passNothing
	default:
		return passData
	}
}

func (d *HandlerDescriptor) args(event agent.Event) []any {
	switch d.pass {
	case passEvent:
		return []any{event}
	case passEventPtr:
		return []any{&event}
	case passNothing:
		return nil
	default:
		return []any{event.Data}
	}
}

// Index is the immutable operation and handler lookup table of one instance.
type Index struct {
	metadata   agent.Metadata
	operations map[string]*OperationDescriptor
	handlers   map[string]*HandlerDescriptor
	methods    map[string]callable
	ordered    []*OperationDescriptor
}

// typePlan is the reflective analysis of one concrete plugin type.
type typePlan struct {
	decl   agent.Declaration
	shapes map[string]*methodShape
}

// planCache holds one typePlan per concrete reflect.Type.
var planCache sync.Map

// describe returns the declaration and method shapes for impl. Plans of
// types that dispatch through agent.Invoker are per instance, since a
// single Go type hosts many script-defined declarations.
func describe(impl any) *typePlan {
	if _, dynamic := impl.(agent.Invoker); dynamic {
		return newTypePlan(impl)
	}
	t := reflect.TypeOf(impl)
	if cached, ok := planCache.Load(t); ok {
		return cached.(*typePlan) //nolint:forcetypeassert // planCache only stores *typePlan
	}
	plan, _ := planCache.LoadOrStore(t, newTypePlan(impl))
	return plan.(*typePlan) //nolint:forcetypeassert // planCache only stores *typePlan
}

func newTypePlan(impl any) *typePlan {
	plan := &typePlan{shapes: make(map[string]*methodShape)}
	if d, ok := impl.(agent.Describer); ok {
		plan.decl = d.Describe()
	}
	t := reflect.TypeOf(impl)
	for i := range t.NumMethod() {
		m := t.Method(i)
		plan.shapes[m.Name] = newMethodShape(m)
	}
	return plan
}

// DescribeType returns the metadata impl declares, with defaults applied.
func DescribeType(impl any) agent.Metadata {
	return describe(impl).decl.ResolveMetadata()
}

// BuildIndex resolves impl's declaration against its method set. Declared
// methods missing from the method set are dispatched through agent.Invoker
// when impl implements it, and skipped with a warning otherwise. When two
// declarations claim the same key the later one wins.
func BuildIndex(impl any, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	plan := describe(impl)
	ix := &Index{
		metadata:   plan.decl.ResolveMetadata(),
		operations: make(map[string]*OperationDescriptor),
		handlers:   make(map[string]*HandlerDescriptor),
		methods:    make(map[string]callable),
	}
	rv := reflect.ValueOf(impl)
	invoker, _ := impl.(agent.Invoker)

	bind := func(method string) (callable, *methodShape, bool) {
		if fn, ok := ix.methods[method]; ok {
			return fn, plan.shapes[method], true
		}
		if shape, ok := plan.shapes[method]; ok {
			fn := &reflectCall{fn: rv.Method(shape.index), shape: shape}
			ix.methods[method] = fn
			return fn, shape, true
		}
		if invoker != nil {
			fn := &dynamicCall{invoker: invoker, method: method}
			ix.methods[method] = fn
			return fn, nil, true
		}
		return nil, nil, false
	}

	for _, op := range plan.decl.Operations {
		fn, _, ok := bind(op.Method)
		if !ok {
			logger.Warn("declared operation has no method",
				"agent", ix.metadata.Name,
				"method", op.Method)
			continue
		}
		d := &OperationDescriptor{
			PublicName:       op.PublicName(),
			UnderlyingName:   op.Method,
			IsReadOnly:       op.ReadOnly,
			AlwaysInterleave: op.AlwaysInterleave,
			OneWay:           op.OneWay,
			fn:               fn,
		}
		ix.registerOperation(d.PublicName, d, logger)
		if d.UnderlyingName != d.PublicName {
			ix.registerOperation(d.UnderlyingName, d, logger)
		}
		ix.ordered = append(ix.ordered, d)
	}

	for _, h := range plan.decl.Handlers {
		fn, shape, ok := bind(h.Method)
		if !ok {
			logger.Warn("declared event handler has no method",
				"agent", ix.metadata.Name,
				"method", h.Method)
			continue
		}
		key := h.Key()
		d := &HandlerDescriptor{
			EventType: key,
			Method:    h.Method,
			pass:      handlerArgFor(shape),
			fn:        fn,
		}
		if prev, exists := ix.handlers[key]; exists {
			logger.Warn("event handler overwritten",
				"agent", ix.metadata.Name,
				"event_type", key,
				"previous", prev.Method,
				"method", h.Method)
		}
		ix.handlers[key] = d
	}

	return ix
}

func (ix *Index) registerOperation(key string, d *OperationDescriptor, logger *slog.Logger) {
	if prev, exists := ix.operations[key]; exists && prev != d {
		logger.Warn("operation key overwritten",
			"agent", ix.metadata.Name,
			"operation", key,
			"previous", prev.UnderlyingName,
			"method", d.UnderlyingName)
	}
	ix.operations[key] = d
}

// Metadata returns the resolved metadata.
func (ix *Index) Metadata() agent.Metadata {
	return ix.metadata.Clone()
}

// Operation looks up an operation by alias or underlying name.
func (ix *Index) Operation(name string) (*OperationDescriptor, bool) {
	d, ok := ix.operations[name]
	return d, ok
}

// Handler looks up the handler registered for an exact event-type key.
func (ix *Index) Handler(key string) (*HandlerDescriptor, bool) {
	d, ok := ix.handlers[key]
	return d, ok
}

// Operations returns the distinct operation descriptors that are still
// reachable, in declaration order.
func (ix *Index) Operations() []OperationDescriptor {
	out := make([]OperationDescriptor, 0, len(ix.ordered))
	for _, d := range ix.ordered {
		if ix.operations[d.PublicName] != d && ix.operations[d.UnderlyingName] != d {
			continue
		}
		out = append(out, *d)
	}
	return out
}

// Handlers returns the handler descriptors sorted by event type.
func (ix *Index) Handlers() []HandlerDescriptor {
	out := make([]HandlerDescriptor, 0, len(ix.handlers))
	for _, d := range ix.handlers {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out
}

// Call invokes a declared method by its underlying name and awaits the
// result. It is used where callers address methods directly, such as the
// plugin side of an out-of-process agent.
func (ix *Index) Call(ctx context.Context, method string, args []any) (any, error) {
	fn, ok := ix.methods[method]
	if !ok {
		return nil, ErrOperationNotFound(method)
	}
	v, err := fn.call(ctx, args)
	if err != nil {
		return nil, err
	}
	return Await(ctx, v)
}
