// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/agenthost/internal/plugin"
)

const validLuaManifest = `
name: weather
version: 1.0.0
type: lua
entry: main.lua
agent-type: WeatherAgent
capabilities:
  - events.*
config:
  units: metric
`

func TestValidateSchema_ValidManifest(t *testing.T) {
	require.NoError(t, plugin.ValidateSchema([]byte(validLuaManifest)))
}

func TestValidateSchema_NameTooLong(t *testing.T) {
	yaml := strings.Replace(validLuaManifest, "name: weather", "name: "+strings.Repeat("a", 65), 1)
	err := plugin.ValidateSchema([]byte(yaml))
	require.Error(t, err)
}

func TestValidateSchema_NameExactlyMaxLength(t *testing.T) {
	yaml := strings.Replace(validLuaManifest, "name: weather", "name: "+strings.Repeat("a", 64), 1)
	require.NoError(t, plugin.ValidateSchema([]byte(yaml)))
}

func TestValidateSchema_MissingRequiredFields(t *testing.T) {
	for _, field := range []string{"name", "version", "type", "entry", "agent-type"} {
		t.Run(field, func(t *testing.T) {
			var lines []string
			for _, line := range strings.Split(validLuaManifest, "\n") {
				if strings.HasPrefix(line, field+":") {
					continue
				}
				lines = append(lines, line)
			}
			err := plugin.ValidateSchema([]byte(strings.Join(lines, "\n")))
			require.Error(t, err)
			assert.Contains(t, plugin.FormatSchemaError(err), field)
		})
	}
}

func TestValidateSchema_InvalidNamePattern(t *testing.T) {
	for _, name := range []string{"Weather", "weather_bot", "9lives", "weather-"} {
		t.Run(name, func(t *testing.T) {
			yaml := strings.Replace(validLuaManifest, "name: weather", "name: "+name, 1)
			assert.Error(t, plugin.ValidateSchema([]byte(yaml)))
		})
	}
}

func TestValidateSchema_InvalidType(t *testing.T) {
	yaml := strings.Replace(validLuaManifest, "type: lua", "type: wasm", 1)
	assert.Error(t, plugin.ValidateSchema([]byte(yaml)))
}

func TestValidateSchema_UnknownField(t *testing.T) {
	yaml := validLuaManifest + "events:\n  - say\n"
	assert.Error(t, plugin.ValidateSchema([]byte(yaml)))
}

func TestValidateSchema_ConfigValuesMustBeStrings(t *testing.T) {
	yaml := strings.Replace(validLuaManifest, "units: metric", "retries: 3", 1)
	assert.Error(t, plugin.ValidateSchema([]byte(yaml)))
}

func TestValidateSchema_EmptyInput(t *testing.T) {
	err := plugin.ValidateSchema(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestValidateSchema_InvalidYAML(t *testing.T) {
	err := plugin.ValidateSchema([]byte("name: test\ntype: [invalid"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid YAML")
}

func TestGenerateSchema(t *testing.T) {
	data, err := plugin.GenerateSchema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, plugin.SchemaID, doc["$id"])
	assert.Equal(t, "Agent Manifest", doc["title"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"name", "version", "type", "entry", "agent-type", "capabilities", "config"} {
		assert.Contains(t, props, key)
	}
}

func TestLoadManifest_ValidatesThenParses(t *testing.T) {
	m, err := plugin.LoadManifest([]byte(validLuaManifest))
	require.NoError(t, err)
	assert.Equal(t, "WeatherAgent", m.AgentType)

	// passes the schema but fails semver validation
	_, err = plugin.LoadManifest([]byte(strings.Replace(validLuaManifest, "1.0.0", "latest", 1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "semver")
}

func TestFormatSchemaError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil error", err: nil, want: ""},
		{name: "simple error", err: fmt.Errorf("test error"), want: "test error"},
		{
			name: "schema validation error",
			err:  fmt.Errorf("schema validation failed: missing required field"),
			want: "missing required field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, plugin.FormatSchemaError(tt.err))
		})
	}
}
