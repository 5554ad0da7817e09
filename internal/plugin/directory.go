// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
)

// Directory binds stable agent ids to their live instance. Each binding is
// an atomic pointer, so lookups never observe a half-finished reload.
type Directory struct {
	mu    sync.RWMutex
	slots map[string]*atomic.Pointer[Instance]
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{slots: make(map[string]*atomic.Pointer[Instance])}
}

func (d *Directory) slot(id string) *atomic.Pointer[Instance] {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.slots[id]
}

// Bind sets the instance for id and returns the one it replaced, if any.
func (d *Directory) Bind(id string, inst *Instance) *Instance {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.slots[id]
	if !ok {
		s = &atomic.Pointer[Instance]{}
		d.slots[id] = s
	}
	return s.Swap(inst)
}

// Lookup returns the live instance for id.
func (d *Directory) Lookup(id string) (*Instance, bool) {
	s := d.slot(id)
	if s == nil {
		return nil, false
	}
	inst := s.Load()
	return inst, inst != nil
}

// Swap publishes next for id only if old is still the live instance.
func (d *Directory) Swap(id string, old, next *Instance) bool {
	s := d.slot(id)
	if s == nil {
		return false
	}
	return s.CompareAndSwap(old, next)
}

// Unbind removes id if inst is still its live instance.
func (d *Directory) Unbind(id string, inst *Instance) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.slots[id]
	if !ok || !s.CompareAndSwap(inst, nil) {
		return false
	}
	delete(d.slots, id)
	return true
}

// IDs returns the bound ids in sorted order.
func (d *Directory) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Sorted(maps.Keys(d.slots))
}
