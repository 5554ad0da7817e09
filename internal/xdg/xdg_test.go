// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package xdg

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// clearEnv unsets every variable the resolvers read, then applies env.
func clearEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for _, key := range []string{"HOME", "XDG_CONFIG_HOME", "XDG_DATA_HOME", "XDG_STATE_HOME", "XDG_RUNTIME_DIR"} {
		t.Setenv(key, env[key])
	}
}

func TestResolvers(t *testing.T) {
	home := map[string]string{"HOME": "/home/ops"}

	tests := []struct {
		name    string
		resolve func() (string, error)
		env     map[string]string
		want    string
	}{
		{"config from env", ConfigDir, map[string]string{"XDG_CONFIG_HOME": "/etc/xdg"}, "/etc/xdg/agenthost"},
		{"config from home", ConfigDir, home, "/home/ops/.config/agenthost"},
		{"data from env", DataDir, map[string]string{"XDG_DATA_HOME": "/srv/data"}, "/srv/data/agenthost"},
		{"data from home", DataDir, home, "/home/ops/.local/share/agenthost"},
		{"state from env", StateDir, map[string]string{"XDG_STATE_HOME": "/var/lib"}, "/var/lib/agenthost"},
		{"state from home", StateDir, home, "/home/ops/.local/state/agenthost"},
		{"runtime from env", RuntimeDir, map[string]string{"XDG_RUNTIME_DIR": "/run/user/1000"}, "/run/user/1000/agenthost"},
		{"runtime falls back to state", RuntimeDir, home, "/home/ops/.local/state/agenthost/run"},
		{"plugins under data", PluginsDir, map[string]string{"XDG_DATA_HOME": "/srv/data"}, "/srv/data/agenthost/plugins"},
		{"config file", ConfigFile, home, "/home/ops/.config/agenthost/config.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t, tt.env)
			got, err := tt.resolve()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolvers_NoHome(t *testing.T) {
	for name, resolve := range map[string]func() (string, error){
		"config":  ConfigDir,
		"data":    DataDir,
		"state":   StateDir,
		"runtime": RuntimeDir,
		"plugins": PluginsDir,
		"file":    ConfigFile,
	} {
		t.Run(name, func(t *testing.T) {
			clearEnv(t, nil)
			_, err := resolve()
			if !errors.Is(err, errNoHome) {
				t.Errorf("expected errNoHome, got %v", err)
			}
		})
	}
}

func TestEnsureDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "agenthost")

	for range 2 {
		if err := EnsureDir(path); err != nil {
			t.Fatalf("EnsureDir() error = %v", err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !info.IsDir() {
		t.Fatal("expected a directory")
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("permissions = %o, want 700", perm)
	}
}

func TestEnsureDir_FileInTheWay(t *testing.T) {
	file := filepath.Join(t.TempDir(), "socket")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := EnsureDir(filepath.Join(file, "sub")); err == nil {
		t.Error("expected error when a file blocks the path")
	}
}
