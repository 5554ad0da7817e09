// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package agentsdk provides the SDK for building binary agents.
//
// A binary agent is an executable serving one or more agent types to the
// host over HashiCorp go-plugin. Agent types are ordinary Go types that
// describe themselves with agent.Declaration, exactly like agents
// compiled into the host.
//
// Example usage:
//
//	package main
//
//	import (
//		"github.com/holomush/agenthost/pkg/agent"
//		"github.com/holomush/agenthost/pkg/agentsdk"
//	)
//
//	type Echo struct{}
//
//	func (e *Echo) Describe() agent.Declaration {
//		return agent.Declaration{
//			Metadata:   &agent.Metadata{Name: "Echo", Version: "1.0.0"},
//			Operations: []agent.Operation{{Method: "Echo", ReadOnly: true}},
//		}
//	}
//
//	func (e *Echo) Echo(s string) string { return s }
//
//	func main() {
//		agentsdk.Serve(&agentsdk.ServeConfig{
//			Types: map[string]func() any{"Echo": func() any { return &Echo{} }},
//		})
//	}
package agentsdk

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	hashiplug "github.com/hashicorp/go-plugin"

	"github.com/holomush/agenthost/internal/plugin/goplugin"
)

// HandshakeConfig is the go-plugin handshake configuration.
// Both host and agents must use the same values.
var HandshakeConfig = goplugin.HandshakeConfig

// ServeConfig configures the agent server.
type ServeConfig struct {
	// Types maps agent type names to constructors.
	// Required; Serve will panic if empty.
	Types map[string]func() any

	// Level sets the minimum log level. Defaults to info.
	Level slog.Level
}

// Serve starts the agent server. This should be called from main().
// It blocks and never returns under normal operation.
func Serve(config *ServeConfig) {
	if config == nil {
		panic("agentsdk: config cannot be nil")
	}
	if len(config.Types) == 0 {
		panic("agentsdk: config.Types cannot be empty")
	}

	logger := NewLogger(os.Stderr, config.Level)
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]hashiplug.Plugin{
			goplugin.PluginName: &goplugin.GRPCPlugin{Impl: goplugin.NewAgentServer(config.Types, logger)},
		},
		GRPCServer: hashiplug.DefaultGRPCServer,
		Logger: hclog.New(&hclog.LoggerOptions{
			Output:     os.Stderr,
			Level:      hclog.LevelFromString(config.Level.String()),
			JSONFormat: true,
		}),
	})
}

// NewLogger returns a logger whose JSON lines the host's go-plugin client
// recognises, so agent logs are re-emitted at their level by the host.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				a.Key = "@timestamp"
			case slog.LevelKey:
				a.Key = "@level"
				a.Value = slog.StringValue(strings.ToLower(a.Value.String()))
			case slog.MessageKey:
				a.Key = "@message"
			}
			return a
		},
	}))
}
