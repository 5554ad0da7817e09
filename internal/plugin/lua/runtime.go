// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	plugins "github.com/holomush/agenthost/internal/plugin"
	"github.com/holomush/agenthost/internal/plugin/hostfunc"
)

// Compile-time interface check.
var _ plugins.Runtime = (*Runtime)(nil)

// Runtime opens lua agents.
type Runtime struct {
	factory   *StateFactory
	hostFuncs *hostfunc.Functions
	logger    *slog.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithStateFactory replaces the default sandbox factory.
func WithStateFactory(f *StateFactory) RuntimeOption {
	return func(r *Runtime) { r.factory = f }
}

// WithHostFunctions replaces the default host functions.
func WithHostFunctions(hf *hostfunc.Functions) RuntimeOption {
	return func(r *Runtime) { r.hostFuncs = hf }
}

// WithLogger sets the runtime logger.
func WithLogger(logger *slog.Logger) RuntimeOption {
	return func(r *Runtime) { r.logger = logger }
}

// NewRuntime creates a Lua runtime.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		factory:   NewStateFactory(),
		hostFuncs: hostfunc.New(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Type implements plugins.Runtime.
func (r *Runtime) Type() plugins.Type { return plugins.TypeLua }

// Open reads and compiles the entry script, then runs it once in a
// throwaway state to reject scripts that fail at load time.
func (r *Runtime) Open(ctx context.Context, manifest *plugins.Manifest, dir string) (plugins.CodeUnit, error) {
	entryPath := filepath.Join(dir, manifest.Entry)
	code, err := os.ReadFile(filepath.Clean(entryPath))
	if err != nil {
		return nil, oops.In("lua").With("agent", manifest.Name).With("operation", "open").With("path", entryPath).
			Hint("failed to read entry file").Wrap(err)
	}

	proto, err := Compile(code, manifest.Entry)
	if err != nil {
		return nil, oops.In("lua").With("agent", manifest.Name).With("operation", "open").With("entry", manifest.Entry).
			Hint("syntax error").Wrap(err)
	}

	L, err := r.factory.NewState(ctx)
	if err != nil {
		return nil, oops.In("lua").With("agent", manifest.Name).With("operation", "open").
			Hint("failed to create validation state").Wrap(err)
	}
	defer L.Close()
	if err := run(L, proto); err != nil {
		return nil, oops.In("lua").With("agent", manifest.Name).With("operation", "open").With("entry", manifest.Entry).
			Hint("script failed to load").Wrap(err)
	}

	return &Unit{
		name:      manifest.Name,
		source:    manifest.SourceKey(),
		proto:     proto,
		factory:   r.factory,
		hostFuncs: r.hostFuncs,
		logger:    r.logger.With("artifact", manifest.Name),
	}, nil
}

// Compile parses and compiles Lua source once so every state can run it
// without reparsing.
func Compile(code []byte, name string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(bufio.NewReader(bytes.NewReader(code)), name)
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller with agent context
	}
	return lua.Compile(chunk, name) //nolint:wrapcheck // wrapped by caller with agent context
}

// run executes a compiled chunk in L.
func run(L *lua.LState, proto *lua.FunctionProto) error {
	L.Push(L.NewFunctionFromProto(proto))
	return L.PCall(0, lua.MultRet, nil) //nolint:wrapcheck // wrapped by caller with agent context
}
