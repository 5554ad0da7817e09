// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin loads agent plugins, indexes their operations and event
// handlers, executes calls against them and swaps live instances on reload.
package plugin

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Type identifies the agent runtime.
type Type string

// Agent runtimes supported by the host.
const (
	TypeLua    Type = "lua"
	TypeJS     Type = "js"
	TypeBinary Type = "binary"
	TypeNative Type = "native"
)

// ManifestFile is the manifest file name inside an agent directory.
const ManifestFile = "agent.yaml"

// Manifest represents an agent.yaml file.
type Manifest struct {
	Name         string            `yaml:"name" json:"name" jsonschema:"pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$,maxLength=64"`
	Version      string            `yaml:"version" json:"version"`
	Description  string            `yaml:"description,omitempty" json:"description,omitempty"`
	Type         Type              `yaml:"type" json:"type" jsonschema:"enum=lua,enum=js,enum=binary,enum=native"`
	Entry        string            `yaml:"entry" json:"entry" jsonschema:"minLength=1"`
	AgentType    string            `yaml:"agent-type" json:"agent-type" jsonschema:"minLength=1"`
	Source       string            `yaml:"source,omitempty" json:"source,omitempty"`
	Capabilities []string          `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Config       map[string]string `yaml:"config,omitempty" json:"config,omitempty"`
}

// maxNameLength is the maximum allowed length for agent names.
const maxNameLength = 64

// namePattern validates agent names: must start with lowercase letter,
// followed by lowercase letters, digits, or hyphens. Cannot end with a hyphen.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ParseManifest parses and validates an agent.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return fmt.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return fmt.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q is not valid semver: %w", m.Version, err)
	}

	switch m.Type {
	case TypeLua, TypeJS, TypeBinary, TypeNative:
	default:
		return fmt.Errorf("type must be one of lua, js, binary, native; got %q", m.Type)
	}

	if m.Entry == "" {
		return fmt.Errorf("entry is required")
	}
	if filepath.IsAbs(m.Entry) || strings.HasPrefix(filepath.Clean(m.Entry), "..") {
		return fmt.Errorf("entry %q must be a path inside the agent directory", m.Entry)
	}
	if m.AgentType == "" {
		return fmt.Errorf("agent-type is required")
	}

	for i, c := range m.Capabilities {
		if c == "" {
			return fmt.Errorf("capabilities[%d] is empty", i)
		}
	}

	return nil
}

// SourceKey returns the logical source used for load-status queries,
// defaulting to the agent name.
func (m *Manifest) SourceKey() string {
	if m.Source != "" {
		return m.Source
	}
	return m.Name
}
