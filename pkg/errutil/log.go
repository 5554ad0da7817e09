// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package errutil bridges oops errors to structured logs and tests.
package errutil

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"

	"github.com/samber/oops"
)

// LogError logs err with its oops code, domain, hint and context as
// attributes. attrs are logged first. Errors caused by context
// cancellation or deadline are logged at warn level.
func LogError(ctx context.Context, logger *slog.Logger, msg string, err error, attrs ...any) {
	level := slog.LevelError
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, msg, append(attrs, Attrs(err)...)...)
}

// Attrs returns the log attributes describing err.
func Attrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}

	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != nil {
		attrs = append(attrs, "code", code)
	}
	if domain := oopsErr.Domain(); domain != "" {
		attrs = append(attrs, "domain", domain)
	}
	if hint := oopsErr.Hint(); hint != "" {
		attrs = append(attrs, "hint", hint)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		fields := make([]any, 0, 2*len(ctx))
		for _, k := range slices.Sorted(maps.Keys(ctx)) {
			fields = append(fields, k, ctx[k])
		}
		attrs = append(attrs, slog.Group("context", fields...))
	}
	return attrs
}
