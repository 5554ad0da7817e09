// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package capability gates the host operations an agent may perform.
//
// Grants are glob patterns matched with '.' as the segment separator:
//   - '*' matches a single segment (does not cross '.')
//   - '**' matches zero or more segments
//
// "events.*" grants "events.publish" and "events.request" but not
// "events.publish.audit"; "**" grants everything.
package capability

import (
	"maps"
	"slices"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Capabilities checked by the host context.
const (
	EventsPublish = "events.publish"
	EventsRequest = "events.request"
	AgentsLookup  = "agents.lookup"
)

type grant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer holds the capability grants of every agent. The zero value is
// ready to use.
type Enforcer struct {
	mu     sync.RWMutex
	grants map[string][]grant
}

// NewEnforcer creates an enforcer with no grants.
func NewEnforcer() *Enforcer {
	return &Enforcer{grants: make(map[string][]grant)}
}

// SetGrants replaces the grants of agentID. Patterns are compiled before
// any state changes, so an invalid pattern leaves earlier grants intact.
func (e *Enforcer) SetGrants(agentID string, patterns []string) error {
	if agentID == "" {
		return oops.In("capability").Errorf("agent id cannot be empty")
	}
	compiled := make([]grant, len(patterns))
	for i, p := range patterns {
		if p == "" {
			return oops.In("capability").With("agent", agentID).With("index", i).
				Errorf("empty capability pattern")
		}
		g, err := glob.Compile(p, '.')
		if err != nil {
			return oops.In("capability").With("agent", agentID).With("pattern", p).
				Wrapf(err, "compile capability %q", p)
		}
		compiled[i] = grant{pattern: p, glob: g}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants == nil {
		e.grants = make(map[string][]grant)
	}
	e.grants[agentID] = compiled
	return nil
}

// RemoveGrants forgets agentID.
func (e *Enforcer) RemoveGrants(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, agentID)
}

// Grants returns a copy of the patterns granted to agentID, or nil.
func (e *Enforcer) Grants(agentID string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	gs, ok := e.grants[agentID]
	if !ok {
		return nil
	}
	out := make([]string, len(gs))
	for i, g := range gs {
		out[i] = g.pattern
	}
	return out
}

// Agents lists the agents that have grants, sorted.
func (e *Enforcer) Agents() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Sorted(maps.Keys(e.grants))
}

// Check reports whether agentID holds capability. Unknown agents and empty
// capabilities are denied.
func (e *Enforcer) Check(agentID, capability string) bool {
	if capability == "" {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, g := range e.grants[agentID] {
		if g.glob.Match(capability) {
			return true
		}
	}
	return false
}
