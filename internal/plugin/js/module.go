// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package js

import (
	"context"
	"errors"
	"time"

	"github.com/dop251/goja"

	"github.com/holomush/agenthost/pkg/agent"
)

// DefaultRequestTimeout applies to agent.request calls without a timeout.
const DefaultRequestTimeout = 5 * time.Second

// errStateUnavailable is thrown by stateSet on agents without a state slot.
var errStateUnavailable = errors.New("state not available")

// errNoCorrelationID is thrown by reply when the event cannot be answered.
var errNoCorrelationID = errors.New("event has no correlation_id")

// newModule builds the this.agent object. Go functions returning an error
// throw it into the script. current yields the context of the call that
// entered the script.
func newModule(rt *goja.Runtime, host agent.Context, state *agent.State, current func() context.Context) *goja.Object {
	mod := rt.NewObject()
	set := func(name string, v any) {
		_ = mod.Set(name, v)
	}

	set("id", host.AgentID())
	set("log", func(level, message string, fields map[string]any) {
		attrs := make([]any, 0, len(fields)*2)
		for k, v := range fields {
			attrs = append(attrs, k, v)
		}
		logger := host.Logger()
		switch level {
		case "debug":
			logger.Debug(message, attrs...)
		case "warn":
			logger.Warn(message, attrs...)
		case "error":
			logger.Error(message, attrs...)
		default:
			logger.Info(message, attrs...)
		}
	})
	set("config", func(call goja.FunctionCall) goja.Value {
		if v, ok := host.Config().Lookup(call.Argument(0).String()); ok {
			return rt.ToValue(v)
		}
		if len(call.Arguments) > 1 {
			return call.Argument(1)
		}
		return goja.Undefined()
	})
	set("newId", agent.NewID)
	set("publish", func(eventType string, data any) (string, error) {
		event := agent.NewEvent(eventType, data)
		if err := host.Publish(current(), event); err != nil {
			return "", err
		}
		return event.CorrelationID, nil
	})
	set("request", func(eventType string, data any, timeoutMS int64) (map[string]any, error) {
		timeout := DefaultRequestTimeout
		if timeoutMS > 0 {
			timeout = time.Duration(timeoutMS) * time.Millisecond
		}
		reply, err := host.Request(current(), agent.NewEvent(eventType, data), timeout)
		if err != nil {
			return nil, err
		}
		return eventObject(reply), nil
	})
	set("reply", func(request map[string]any, eventType string, data any) (string, error) {
		correlationID, _ := request["correlation_id"].(string)
		if correlationID == "" {
			return "", errNoCorrelationID
		}
		event := agent.Event{CorrelationID: correlationID}.Reply(eventType, data)
		if err := host.Publish(current(), event); err != nil {
			return "", err
		}
		return correlationID, nil
	})
	set("call", func(id, operation string, args ...any) (any, error) {
		ctx := current()
		ref, err := host.Agent(ctx, id)
		if err != nil {
			return nil, err
		}
		result, err := ref.Execute(ctx, operation, args...)
		if err != nil {
			return nil, err
		}
		return toJS(result), nil
	})
	set("send", func(id, eventType string, data any) error {
		ctx := current()
		ref, err := host.Agent(ctx, id)
		if err != nil {
			return err
		}
		return ref.Send(ctx, agent.NewEvent(eventType, data))
	})
	set("stateGet", func() any {
		if state == nil {
			return nil
		}
		return state.Get()
	})
	set("stateSet", func(v any) error {
		if state == nil {
			return errStateUnavailable
		}
		state.Set(v)
		return nil
	})
	return mod
}
