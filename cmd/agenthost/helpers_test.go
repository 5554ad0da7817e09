// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const weatherManifest = `name: weather
version: 1.0.0
type: lua
entry: main.lua
agent-type: WeatherAgent
source: local
config:
  city: Lisbon
`

const weatherScript = `
WeatherAgent = {
  metadata = { name = "WeatherAgent", version = "1.0.0" },
  operations = {
    { method = "report", read_only = true },
    { method = "fail" },
  },
}

function WeatherAgent:init()
  self.city = self.agent.config("city", "Porto")
end

function WeatherAgent:report(sky) return sky .. " in " .. self.city end
function WeatherAgent:fail() error("no forecast") end
`

// pluginsDir creates a plugins directory holding the weather agent and
// isolates XDG lookups to the test.
func pluginsDir(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir(t))

	root := t.TempDir()
	dir := filepath.Join(root, "weather")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent.yaml"), []byte(weatherManifest), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte(weatherScript), 0o600))
	return root
}

// runtimeDir returns a short temporary directory; unix socket paths are
// limited to about 100 bytes.
func runtimeDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "ah")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configFile = ""

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}
