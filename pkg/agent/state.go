// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package agent

import "sync/atomic"

// State is an opaque, atomically replaced value slot. The zero value holds
// nil and is ready to use.
type State struct {
	v atomic.Pointer[stateBox]
}

type stateBox struct {
	value any
}

// Get returns the last value passed to Set, or nil.
func (s *State) Get() any {
	b := s.v.Load()
	if b == nil {
		return nil
	}
	return b.value
}

// Set replaces the stored value.
func (s *State) Set(value any) {
	s.v.Store(&stateBox{value: value})
}
