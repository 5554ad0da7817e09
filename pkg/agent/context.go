// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package agent

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"
)

// Context is the host environment handed to a plugin at Initialize.
type Context interface {
	// AgentID identifies the hosting agent.
	AgentID() string

	// Logger returns a logger scoped to the agent.
	Logger() *slog.Logger

	// Config returns the agent's read-only configuration.
	Config() Config

	// Publish sends an event without waiting for a response.
	Publish(ctx context.Context, event Event) error

	// Request sends an event and waits up to timeout for a reply carrying
	// the same correlation ID.
	Request(ctx context.Context, event Event, timeout time.Duration) (Event, error)

	// Agent returns a reference to another agent by ID.
	Agent(ctx context.Context, id string) (Ref, error)
}

// Ref addresses another agent through the host.
type Ref interface {
	ID() string
	Execute(ctx context.Context, operation string, args ...any) (any, error)
	Send(ctx context.Context, event Event) error
}

// Config is a read-only view over configuration key/value pairs.
// The zero value is an empty configuration.
type Config struct {
	values map[string]string
}

// NewConfig copies values into a Config.
func NewConfig(values map[string]string) Config {
	return Config{values: maps.Clone(values)}
}

// Lookup returns the value for key and whether it was present.
func (c Config) Lookup(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Get returns the value for key, or def if absent.
func (c Config) Get(key, def string) string {
	if v, ok := c.values[key]; ok {
		return v
	}
	return def
}

// Keys returns the configuration keys in sorted order.
func (c Config) Keys() []string {
	return slices.Sorted(maps.Keys(c.values))
}

// Map returns a copy of the configuration.
func (c Config) Map() map[string]string {
	return maps.Clone(c.values)
}

// Len returns the number of configuration entries.
func (c Config) Len() int {
	return len(c.values)
}
