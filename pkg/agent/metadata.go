// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package agent

import "maps"

// Default metadata values for plugins that declare none.
const (
	DefaultName        = "Unknown"
	DefaultVersion     = "1.0.0"
	DefaultDescription = "Agent Plugin"
)

// Metadata describes a plugin. It is produced once at initialization and
// treated as read-only afterwards.
type Metadata struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// DefaultMetadata returns the metadata used when a plugin declares none.
func DefaultMetadata() Metadata {
	return Metadata{
		Name:        DefaultName,
		Version:     DefaultVersion,
		Description: DefaultDescription,
	}
}

// Clone returns a copy that shares no maps with m.
func (m Metadata) Clone() Metadata {
	out := m
	if m.Properties != nil {
		out.Properties = maps.Clone(m.Properties)
	}
	return out
}

// withDefaults fills empty fields from DefaultMetadata.
func (m Metadata) withDefaults() Metadata {
	d := DefaultMetadata()
	if m.Name == "" {
		m.Name = d.Name
	}
	if m.Version == "" {
		m.Version = d.Version
	}
	if m.Description == "" {
		m.Description = d.Description
	}
	return m
}

// ResolveMetadata returns the declared metadata with defaults applied, or
// DefaultMetadata if none is declared.
func (d Declaration) ResolveMetadata() Metadata {
	if d.Metadata == nil {
		return DefaultMetadata()
	}
	return d.Metadata.Clone().withDefaults()
}
