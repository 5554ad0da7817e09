// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads agenthost configuration from a YAML file and
// command-line flags. Flags that were set override the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/holomush/agenthost/internal/control"
	"github.com/holomush/agenthost/internal/logging"
	plugins "github.com/holomush/agenthost/internal/plugin"
	"github.com/holomush/agenthost/internal/plugin/watch"
	"github.com/holomush/agenthost/internal/xdg"
)

// Default values.
const (
	DefaultLogFormat       = "json"
	DefaultLogLevel        = "info"
	DefaultMetricsAddr     = "127.0.0.1:9100"
	DefaultLoadTimeout     = 30 * time.Second
	DefaultDeliveryTimeout = 5 * time.Second
)

// Config is the host configuration.
type Config struct {
	PluginsDir      string        `koanf:"plugins_dir"`
	HotReload       bool          `koanf:"hot_reload"`
	Isolation       bool          `koanf:"isolation"`
	LoadTimeout     time.Duration `koanf:"load_timeout"`
	DeliveryTimeout time.Duration `koanf:"delivery_timeout"`
	WatchDebounce   time.Duration `koanf:"watch_debounce"`
	LogFormat       string        `koanf:"log_format"`
	LogLevel        string        `koanf:"log_level"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	ControlSocket   string        `koanf:"control_socket"`
}

// Default returns the built-in configuration. The plugins directory
// defaults to the XDG data directory, or ./plugins when HOME is unset.
// The control socket is disabled when no runtime directory is known.
func Default() Config {
	dir, err := xdg.PluginsDir()
	if err != nil {
		dir = "plugins"
	}
	socket, err := control.DefaultSocketPath()
	if err != nil {
		socket = ""
	}
	return Config{
		PluginsDir:      dir,
		LoadTimeout:     DefaultLoadTimeout,
		DeliveryTimeout: DefaultDeliveryTimeout,
		WatchDebounce:   watch.DefaultDebounce,
		LogFormat:       DefaultLogFormat,
		LogLevel:        DefaultLogLevel,
		MetricsAddr:     DefaultMetricsAddr,
		ControlSocket:   socket,
	}
}

// RegisterFlags adds the configuration flags to flags. Flag names are the
// configuration keys with hyphens instead of underscores.
func RegisterFlags(flags *pflag.FlagSet) {
	def := Default()
	flags.String("plugins-dir", def.PluginsDir, "directory containing agent directories")
	flags.Bool("hot-reload", def.HotReload, "reload agents when their files change")
	flags.Bool("isolation", def.Isolation, "give every agent instance private runtime state")
	flags.Duration("load-timeout", def.LoadTimeout, "maximum time for an agent to initialize")
	flags.Duration("delivery-timeout", def.DeliveryTimeout, "maximum time to deliver a published event")
	flags.Duration("watch-debounce", def.WatchDebounce, "quiet period before a changed agent is reloaded")
	flags.String("log-format", def.LogFormat, "log format (json or text)")
	flags.String("log-level", def.LogLevel, "log level (debug, info, warn, error)")
	flags.String("metrics-addr", def.MetricsAddr, "observability server address (empty to disable)")
	flags.String("control-socket", def.ControlSocket, "control socket path (empty to disable)")
}

// Load reads path, then applies the flags that were set. An empty path
// reads the default XDG config file if it exists. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = defaultConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("failed to apply flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// defaultConfigFile returns the XDG config file if it exists.
func defaultConfigFile() string {
	path, err := xdg.ConfigFile()
	if err != nil {
		return ""
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return ""
	}
	return path
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.PluginsDir == "" {
		return fmt.Errorf("plugins_dir is required")
	}
	if c.LoadTimeout <= 0 {
		return fmt.Errorf("load_timeout must be positive, got %s", c.LoadTimeout)
	}
	if c.DeliveryTimeout <= 0 {
		return fmt.Errorf("delivery_timeout must be positive, got %s", c.DeliveryTimeout)
	}
	if c.HotReload && c.WatchDebounce <= 0 {
		return fmt.Errorf("watch_debounce must be positive when hot_reload is enabled, got %s", c.WatchDebounce)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// Level returns the parsed log level. Validate rejects invalid levels.
func (c *Config) Level() slog.Level {
	level, _ := logging.ParseLevel(c.LogLevel)
	return level
}

// PluginOptions returns the engine options for c.
func (c *Config) PluginOptions() plugins.Options {
	return plugins.Options{
		HotReload:   c.HotReload,
		Isolation:   c.Isolation,
		LoadTimeout: c.LoadTimeout,
	}
}

// EnsurePluginsDir creates the plugins directory if it is missing.
func (c *Config) EnsurePluginsDir() error {
	if _, err := os.Stat(c.PluginsDir); err == nil {
		return nil
	}
	return xdg.EnsureDir(c.PluginsDir)
}
