// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/holomush/agenthost/pkg/agent"
)

var (
	contextType    = reflect.TypeFor[context.Context]()
	errorType      = reflect.TypeFor[error]()
	eventType      = reflect.TypeFor[agent.Event]()
	eventPtrType   = reflect.TypeFor[*agent.Event]()
	futureType     = reflect.TypeFor[agent.Future]()
	resultChanElem = reflect.TypeFor[agent.Result]()
)

// callable invokes one plugin method with positional arguments. The
// returned value may still be pending; see Await.
type callable interface {
	call(ctx context.Context, args []any) (any, error)
}

// methodShape is the cached signature analysis of one reflected method.
type methodShape struct {
	index    int
	name     string
	takesCtx bool
	params   []reflect.Type // excluding a leading context.Context
	variadic bool
	results  []reflect.Type
}

// takesEvent reports whether the method's single parameter is the event envelope.
func (s *methodShape) takesEvent() bool {
	return len(s.params) == 1 && !s.variadic && (s.params[0] == eventType || s.params[0] == eventPtrType)
}

// newMethodShape analyses m, a method taken from a concrete type's method
// set (its first input is the receiver).
func newMethodShape(m reflect.Method) *methodShape {
	ft := m.Type
	s := &methodShape{
		index:    m.Index,
		name:     m.Name,
		variadic: ft.IsVariadic(),
	}
	start := 1
	if ft.NumIn() > 1 && ft.In(1) == contextType {
		s.takesCtx = true
		start = 2
	}
	for i := start; i < ft.NumIn(); i++ {
		s.params = append(s.params, ft.In(i))
	}
	for i := range ft.NumOut() {
		s.results = append(s.results, ft.Out(i))
	}
	return s
}

// reflectCall invokes a method bound to a receiver through reflection.
type reflectCall struct {
	fn    reflect.Value
	shape *methodShape
}

func (c *reflectCall) call(ctx context.Context, args []any) (result any, err error) {
	in, err := c.bind(ctx, args)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("panic in %s: %v", c.shape.name, r)
		}
	}()

	return c.unpack(c.fn.Call(in))
}

// bind converts positional arguments to the method's parameter types.
func (c *reflectCall) bind(ctx context.Context, args []any) ([]reflect.Value, error) {
	params := c.shape.params
	n := len(params)
	if c.shape.variadic {
		if len(args) < n-1 {
			return nil, fmt.Errorf("%s expects at least %d arguments, got %d", c.shape.name, n-1, len(args))
		}
	} else if len(args) != n {
		return nil, fmt.Errorf("%s expects %d arguments, got %d", c.shape.name, n, len(args))
	}

	in := make([]reflect.Value, 0, len(args)+1)
	if c.shape.takesCtx {
		in = append(in, reflect.ValueOf(ctx))
	}
	for i, arg := range args {
		var target reflect.Type
		if c.shape.variadic && i >= n-1 {
			target = params[n-1].Elem()
		} else {
			target = params[i]
		}
		v, err := coerce(arg, target)
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", c.shape.name, i, err)
		}
		in = append(in, v)
	}
	return in, nil
}

// unpack normalizes the supported result shapes: (), (T), (error), (T, error).
// Any other shape is returned as a []any of its values.
func (c *reflectCall) unpack(out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if c.shape.results[0] == errorType {
			return nil, asError(out[0])
		}
		return asValue(out[0]), nil
	case 2:
		if c.shape.results[1] == errorType {
			return asValue(out[0]), asError(out[1])
		}
	}
	values := make([]any, len(out))
	for i, v := range out {
		values[i] = asValue(v)
	}
	return values, nil
}

func asValue(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		if v.IsNil() {
			return nil
		}
	}
	return v.Interface()
}

func asError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	err, _ := v.Interface().(error)
	return err
}

// dynamicCall forwards to a plugin's own Invoke method.
type dynamicCall struct {
	invoker agent.Invoker
	method  string
}

func (c *dynamicCall) call(ctx context.Context, args []any) (any, error) {
	return c.invoker.Invoke(ctx, c.method, args)
}

// coerce converts arg to a value assignable to t. Values that are not
// directly assignable (JSON-decoded maps, float64 numbers, RFC 3339
// strings) are decoded with mapstructure.
func coerce(arg any, t reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(t), nil
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	if isNumeric(v.Kind()) && isNumeric(t.Kind()) {
		return v.Convert(t), nil
	}
	if v.Kind() == reflect.String && t.Kind() == reflect.String {
		return v.Convert(t), nil
	}

	out := reflect.New(t)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out.Interface(),
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return reflect.Value{}, fmt.Errorf("build decoder for %s: %w", t, err)
	}
	if err := dec.Decode(arg); err != nil {
		return reflect.Value{}, fmt.Errorf("cannot use %T as %s: %w", arg, t, err)
	}
	return out.Elem(), nil
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// Await resolves v if it is asynchronous: an agent.Future or a channel of
// agent.Result. Other values are returned unchanged. Cancellation of ctx
// abandons the wait.
func Await(ctx context.Context, v any) (any, error) {
	for {
		switch p := v.(type) {
		case nil:
			return nil, nil
		case agent.Future:
			next, err := p.Await(ctx)
			if err != nil {
				return nil, err
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			v = next
			continue
		case <-chan agent.Result:
			v = agent.ChanFuture(p)
			continue
		case chan agent.Result:
			v = agent.ChanFuture(p)
			continue
		}
		return v, nil
	}
}

// isPending reports whether v is a value Await would wait on.
func isPending(v any) bool {
	if v == nil {
		return false
	}
	t := reflect.TypeOf(v)
	if t.Implements(futureType) {
		return true
	}
	return t.Kind() == reflect.Chan && t.Elem() == resultChanElem && t.ChanDir()&reflect.RecvDir != 0
}
