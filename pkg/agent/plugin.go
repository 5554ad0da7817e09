// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package agent defines the contract between agent plugins and the host
// that loads them.
//
// Plugin authors write an ordinary Go type and describe it with a
// Declaration: which methods are callable operations, which handle
// events, and the plugin's metadata. The engine wraps that value in an
// instance implementing Plugin, builds an index from the declaration and
// dispatches calls through it.
//
// Example:
//
//	type Weather struct {
//		location string
//	}
//
//	func (w *Weather) Describe() agent.Declaration {
//		return agent.Declaration{
//			Metadata: &agent.Metadata{Name: "WeatherAgent", Version: "1.0.0"},
//			Operations: []agent.Operation{
//				{Method: "GetCurrentWeather", ReadOnly: true},
//				{Method: "UpdateLocation", Alias: "SetLocation"},
//			},
//			Handlers: []agent.Handler{
//				{Method: "OnAlert", EventType: "weather.alert"},
//			},
//		}
//	}
//
//	func (w *Weather) GetCurrentWeather() string { return "Sunny in " + w.location }
//	func (w *Weather) UpdateLocation(loc string)  { w.location = loc }
//	func (w *Weather) OnAlert(ctx context.Context, e agent.Event) error { ... }
package agent

import (
	"context"
)

// Plugin is the capability set every loaded agent exposes to the host.
type Plugin interface {
	// Metadata returns the plugin's descriptive record.
	Metadata() Metadata

	// Initialize binds the plugin to its host context and builds the
	// operation and event indexes. Calls made before Initialize returns
	// are rejected.
	Initialize(ctx context.Context, host Context) error

	// ExecuteOperation invokes the operation registered under name.
	ExecuteOperation(ctx context.Context, name string, args []any) (any, error)

	// HandleEvent routes an event to the matching handler.
	HandleEvent(ctx context.Context, event Event) error

	// GetState returns the last state set, or nil.
	GetState(ctx context.Context) (any, error)

	// SetState replaces the opaque state slot.
	SetState(ctx context.Context, state any) error

	// Dispose releases the plugin. The instance is unusable afterwards.
	Dispose() error
}

// Describer is implemented by plugin types to declare their metadata,
// operations and event handlers.
type Describer interface {
	Describe() Declaration
}

// Initializer is an optional hook run during Initialize, before the
// index is built.
type Initializer interface {
	OnInitialize(ctx context.Context, host Context) error
}

// Disposer is an optional hook run when the instance is disposed.
type Disposer interface {
	OnDispose() error
}

// UnhandledEventHandler is an optional hook for events that match neither
// a specific nor a wildcard handler. Without it the event is logged and
// dropped.
type UnhandledEventHandler interface {
	OnUnhandledEvent(ctx context.Context, event Event) error
}

// StateAware plugins receive the instance's state slot before
// OnInitialize runs, so they can read and write it directly.
type StateAware interface {
	UseState(state *State)
}

// Invoker lets a plugin dispatch declared methods itself instead of
// through reflection. Script and out-of-process runtimes implement it,
// since their methods do not exist in the Go method set.
type Invoker interface {
	Invoke(ctx context.Context, method string, args []any) (any, error)
}
