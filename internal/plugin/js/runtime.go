// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package js runs agents written in JavaScript on the goja engine.
//
// An entry script defines one global object per agent type. Its metadata,
// operations and handlers properties form the declaration; its functions
// are the methods, called with the instance as this:
//
//	var Greeter = {
//	  metadata: { name: "Greeter", version: "1.0.0" },
//	  operations: [{ method: "greet", read_only: true }],
//	  handlers: [{ method: "onJoin", event_type: "join" }],
//	  greet: function (name) { return "hello " + name; },
//	  onJoin: function (event) { this.agent.log("info", "joined"); },
//	};
//
// Optional init() and dispose() methods run on initialize and dispose;
// onUnhandled(event) receives events no handler matches. this.agent is the
// host module. Methods may return promises; a promise must settle before
// the method returns control to the host.
package js

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dop251/goja"
	"github.com/samber/oops"

	plugins "github.com/holomush/agenthost/internal/plugin"
)

// Compile-time interface check.
var _ plugins.Runtime = (*Runtime)(nil)

// Runtime opens JavaScript agents.
type Runtime struct {
	logger *slog.Logger
}

// NewRuntime creates a JavaScript runtime.
func NewRuntime(logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{logger: logger}
}

// Type implements plugins.Runtime.
func (r *Runtime) Type() plugins.Type { return plugins.TypeJS }

// Open compiles the entry script and runs it once in a scratch VM to
// reject scripts that fail at load time.
func (r *Runtime) Open(_ context.Context, manifest *plugins.Manifest, dir string) (plugins.CodeUnit, error) {
	entryPath := filepath.Join(dir, manifest.Entry)
	code, err := os.ReadFile(filepath.Clean(entryPath))
	if err != nil {
		return nil, oops.In("js").With("agent", manifest.Name).With("operation", "open").With("path", entryPath).
			Hint("failed to read entry file").Wrap(err)
	}

	program, err := goja.Compile(manifest.Entry, string(code), false)
	if err != nil {
		return nil, oops.In("js").With("agent", manifest.Name).With("operation", "open").With("entry", manifest.Entry).
			Hint("syntax error").Wrap(err)
	}

	if _, err := newVM(program); err != nil {
		return nil, oops.In("js").With("agent", manifest.Name).With("operation", "open").With("entry", manifest.Entry).
			Hint("script failed to load").Wrap(err)
	}

	return &Unit{
		name:    manifest.Name,
		source:  manifest.SourceKey(),
		program: program,
		logger:  r.logger.With("artifact", manifest.Name),
	}, nil
}

// newVM creates a VM and runs program in it.
func newVM(program *goja.Program) (*goja.Runtime, error) {
	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if _, err := rt.RunProgram(program); err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller with agent context
	}
	return rt, nil
}
