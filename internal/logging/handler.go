// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package logging builds the host's slog loggers. Records carry the
// service, the OpenTelemetry trace context and any attributes attached to
// the context with WithAttrs, such as the agent an operation runs on.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/trace"
)

type ctxAttrsKey struct{}

// WithAttrs returns a context whose log records carry attrs in addition to
// any attributes already attached to ctx.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}
	prev := Attrs(ctx)
	merged := make([]slog.Attr, 0, len(prev)+len(attrs))
	merged = append(merged, prev...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, ctxAttrsKey{}, merged)
}

// Attrs returns the attributes attached to ctx.
func Attrs(ctx context.Context) []slog.Attr {
	attrs, _ := ctx.Value(ctxAttrsKey{}).([]slog.Attr)
	return attrs
}

// hostHandler decorates records with the service identity, context
// attributes and trace ids.
type hostHandler struct {
	next    slog.Handler
	service slog.Attr
	version slog.Attr
}

func (h *hostHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(h.service, h.version)
	r.AddAttrs(Attrs(ctx)...)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.next.Handle(ctx, r)
}

func (h *hostHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *hostHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &hostHandler{next: h.next.WithAttrs(attrs), service: h.service, version: h.version}
}

func (h *hostHandler) WithGroup(name string) slog.Handler {
	return &hostHandler{next: h.next.WithGroup(name), service: h.service, version: h.version}
}

// Setup creates a logger writing format ("json", the default, or "text")
// to w, or to os.Stderr when w is nil.
func Setup(service, version, format string, level slog.Level, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	var baseHandler slog.Handler
	opts := &slog.HandlerOptions{
		Level: level,
	}

	if format == "text" {
		baseHandler = slog.NewTextHandler(w, opts)
	} else {
		baseHandler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(&hostHandler{
		next:    baseHandler,
		service: slog.String("service", service),
		version: slog.String("version", version),
	})
}

// SetDefault sets up the default logger and returns it.
func SetDefault(service, version, format string, level slog.Level) *slog.Logger {
	logger := Setup(service, version, format, level, nil)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// PluginLogger adapts logger for go-plugin clients, so the output of agent
// processes ends up in the host log.
func PluginLogger(logger *slog.Logger) hclog.Logger {
	level := slog.LevelInfo
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		level = slog.LevelDebug
	}
	std := slog.NewLogLogger(logger.Handler(), level)
	return hclog.FromStandardLogger(std, &hclog.LoggerOptions{
		Name:  "agent",
		Level: hclog.LevelFromString(level.String()),
	})
}
