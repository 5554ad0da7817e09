// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"maps"
	"sync"
	"time"
)

// LoadOutcome is the result of one load attempt.
type LoadOutcome int

// Load outcomes.
const (
	Unloaded             LoadOutcome = -1
	Success              LoadOutcome = 0
	DuplicateDeclaration LoadOutcome = 1
	AlreadyLoaded        LoadOutcome = 2
	Error                LoadOutcome = 3
)

func (o LoadOutcome) String() string {
	switch o {
	case Unloaded:
		return "unloaded"
	case Success:
		return "success"
	case DuplicateDeclaration:
		return "duplicate_declaration"
	case AlreadyLoaded:
		return "already_loaded"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// LoadStatus is the recorded outcome for one artifact.
type LoadStatus struct {
	Artifact string
	Source   string
	TypeName string
	Outcome  LoadOutcome
	Reason   string
	At       time.Time
}

// StatusRegistry records the latest load outcome per artifact.
type StatusRegistry struct {
	mu      sync.RWMutex
	entries map[string]LoadStatus
	now     func() time.Time
}

// NewStatusRegistry creates an empty registry.
func NewStatusRegistry() *StatusRegistry {
	return &StatusRegistry{
		entries: make(map[string]LoadStatus),
		now:     time.Now,
	}
}

// Record stores status under its artifact name, replacing any earlier entry.
func (r *StatusRegistry) Record(status LoadStatus) {
	if status.At.IsZero() {
		status.At = r.now()
	}
	r.mu.Lock()
	r.entries[status.Artifact] = status
	r.mu.Unlock()
}

// MarkUnloaded sets the outcome of artifact to Unloaded, keeping its other
// fields.
func (r *StatusRegistry) MarkUnloaded(artifact string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.entries[artifact]
	if !ok {
		return
	}
	st.Outcome = Unloaded
	st.Reason = ""
	st.At = r.now()
	r.entries[artifact] = st
}

// Get returns the status recorded for artifact.
func (r *StatusRegistry) Get(artifact string) (LoadStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.entries[artifact]
	return st, ok
}

// Query returns the statuses recorded for source, keyed by artifact name.
// An empty source returns every entry.
func (r *StatusRegistry) Query(source string) map[string]LoadStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if source == "" {
		return maps.Clone(r.entries)
	}
	out := make(map[string]LoadStatus)
	for k, st := range r.entries {
		if st.Source == source {
			out[k] = st
		}
	}
	return out
}
