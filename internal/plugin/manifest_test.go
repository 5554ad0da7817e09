// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/agenthost/internal/plugin"
)

func TestParseManifest_LuaAgent(t *testing.T) {
	yaml := `
name: weather
version: 1.0.0
description: Reports the weather
type: lua
entry: main.lua
agent-type: WeatherAgent
capabilities:
  - events.publish
config:
  units: metric
`
	m, err := plugin.ParseManifest([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, "weather", m.Name)
	assert.Equal(t, "1.0.0", m.Version)
	assert.Equal(t, plugin.TypeLua, m.Type)
	assert.Equal(t, "main.lua", m.Entry)
	assert.Equal(t, "WeatherAgent", m.AgentType)
	assert.Equal(t, []string{"events.publish"}, m.Capabilities)
	assert.Equal(t, map[string]string{"units": "metric"}, m.Config)
}

func TestParseManifest_BinaryAgent(t *testing.T) {
	yaml := `
name: echo
version: 0.2.1
type: binary
entry: bin/echo
agent-type: Echo
source: builtin
`
	m, err := plugin.ParseManifest([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, plugin.TypeBinary, m.Type)
	assert.Equal(t, "bin/echo", m.Entry)
	assert.Equal(t, "builtin", m.SourceKey())
}

func TestManifest_SourceKeyDefaultsToName(t *testing.T) {
	m := &plugin.Manifest{Name: "weather"}
	assert.Equal(t, "weather", m.SourceKey())
}

func TestParseManifest_InvalidName(t *testing.T) {
	tests := []struct {
		name      string
		agentName string
	}{
		{"uppercase not allowed", "Weather"},
		{"underscore not allowed", "weather_bot"},
		{"starts with number", "1weather"},
		{"starts with dash", "-weather"},
		{"trailing hyphen", "weather-"},
		{"empty name", `""`},
		{"too long", "a" + strings.Repeat("b", 64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yaml := "name: " + tt.agentName + `
version: 1.0.0
type: lua
entry: main.lua
agent-type: T
`
			_, err := plugin.ParseManifest([]byte(yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "name")
		})
	}
}

func TestParseManifest_ValidNames(t *testing.T) {
	for _, name := range []string{"a", "weather", "weather-bot", "bot2", "a1-b2-c3", strings.Repeat("x", 64)} {
		t.Run(name, func(t *testing.T) {
			yaml := "name: " + name + `
version: 1.0.0
type: js
entry: main.js
agent-type: T
`
			m, err := plugin.ParseManifest([]byte(yaml))
			require.NoError(t, err)
			assert.Equal(t, name, m.Name)
		})
	}
}

func TestParseManifest_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing version",
			yaml:    "name: w\ntype: lua\nentry: main.lua\nagent-type: T\n",
			wantErr: "version",
		},
		{
			name:    "missing type",
			yaml:    "name: w\nversion: 1.0.0\nentry: main.lua\nagent-type: T\n",
			wantErr: "type",
		},
		{
			name:    "unknown type",
			yaml:    "name: w\nversion: 1.0.0\ntype: wasm\nentry: main.lua\nagent-type: T\n",
			wantErr: "type",
		},
		{
			name:    "missing entry",
			yaml:    "name: w\nversion: 1.0.0\ntype: lua\nagent-type: T\n",
			wantErr: "entry",
		},
		{
			name:    "missing agent type",
			yaml:    "name: w\nversion: 1.0.0\ntype: lua\nentry: main.lua\n",
			wantErr: "agent-type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := plugin.ParseManifest([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseManifest_EntryMustStayInsideDirectory(t *testing.T) {
	for _, entry := range []string{"../escape.lua", "/abs/main.lua", "a/../../b.lua"} {
		t.Run(entry, func(t *testing.T) {
			yaml := "name: w\nversion: 1.0.0\ntype: lua\nentry: " + entry + "\nagent-type: T\n"
			_, err := plugin.ParseManifest([]byte(yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "inside the agent directory")
		})
	}
}

func TestParseManifest_InvalidVersion(t *testing.T) {
	for _, v := range []string{"1", "1.0", "v1.0.0", "latest"} {
		t.Run(v, func(t *testing.T) {
			yaml := "name: w\nversion: \"" + v + "\"\ntype: lua\nentry: main.lua\nagent-type: T\n"
			_, err := plugin.ParseManifest([]byte(yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "semver")
		})
	}
}

func TestParseManifest_ValidVersion(t *testing.T) {
	for _, v := range []string{"0.0.1", "1.2.3", "1.0.0-alpha.1", "2.0.0+build.5"} {
		t.Run(v, func(t *testing.T) {
			yaml := "name: w\nversion: " + v + "\ntype: lua\nentry: main.lua\nagent-type: T\n"
			m, err := plugin.ParseManifest([]byte(yaml))
			require.NoError(t, err)
			assert.Equal(t, v, m.Version)
		})
	}
}

func TestParseManifest_EmptyCapability(t *testing.T) {
	yaml := `
name: w
version: 1.0.0
type: lua
entry: main.lua
agent-type: T
capabilities:
  - events.publish
  - ""
`
	_, err := plugin.ParseManifest([]byte(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capabilities[1]")
}

func TestParseManifest_EmptyInput(t *testing.T) {
	_, err := plugin.ParseManifest(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestParseManifest_InvalidYAML(t *testing.T) {
	_, err := plugin.ParseManifest([]byte("name: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid YAML")
}
