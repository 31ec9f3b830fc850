// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package logging provides structured logging with OpenTelemetry trace context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/trace"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
	FormatTint = "tint"
)

// Redacted replaces the value of secret attributes.
const Redacted = "[REDACTED]"

// secretKeys are attribute keys whose values never reach the output.
var secretKeys = map[string]struct{}{
	"password":         {},
	"password_confirm": {},
	"passwordConfirm":  {},
	"credential_hash":  {},
	"token":            {},
}

// Options configures Setup.
type Options struct {
	Service string
	Version string
	Format  string // json (default), text or tint
	Level   string // debug, info (default), warn or error
	NoColor bool   // tint only
}

// traceHandler wraps a slog.Handler to add trace context.
type traceHandler struct {
	handler slog.Handler
	service string
	version string
}

// Handle adds trace context to the log record.
func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(
		slog.String("service", h.service),
		slog.String("version", h.version),
	)

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", spanCtx.TraceID().String()))
	}
	if spanCtx.HasSpanID() {
		r.AddAttrs(slog.String("span_id", spanCtx.SpanID().String()))
	}

	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.handler.Handle(ctx, r)
}

// Enabled returns true if the level is enabled.
func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// WithAttrs returns a new handler with the given attributes.
func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{
		handler: h.handler.WithAttrs(attrs),
		service: h.service,
		version: h.version,
	}
}

// WithGroup returns a new handler with the given group.
func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{
		handler: h.handler.WithGroup(name),
		service: h.service,
		version: h.version,
	}
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	if name == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return 0, oops.Code("INVALID_LOG_LEVEL").With("level", name).Wrap(err)
	}
	return level, nil
}

// ValidFormat reports whether format is a known output format. Empty is valid.
func ValidFormat(format string) bool {
	switch format {
	case "", FormatJSON, FormatText, FormatTint:
		return true
	default:
		return false
	}
}

// redact blanks secret attributes wherever they appear.
func redact(_ []string, a slog.Attr) slog.Attr {
	if _, secret := secretKeys[a.Key]; secret {
		return slog.String(a.Key, Redacted)
	}
	return a
}

// Setup creates a configured slog.Logger.
// If w is nil, writes to os.Stderr.
func Setup(opts Options, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	handlerOpts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	}

	var baseHandler slog.Handler
	switch opts.Format {
	case "", FormatJSON:
		baseHandler = slog.NewJSONHandler(w, handlerOpts)
	case FormatText:
		baseHandler = slog.NewTextHandler(w, handlerOpts)
	case FormatTint:
		baseHandler = tint.NewHandler(w, &tint.Options{
			Level:       level,
			ReplaceAttr: redact,
			TimeFormat:  time.Kitchen,
			NoColor:     opts.NoColor,
		})
	default:
		return nil, oops.Code("INVALID_LOG_FORMAT").
			With("format", opts.Format).
			Errorf("log format must be one of json, text, tint")
	}

	handler := &traceHandler{
		handler: baseHandler,
		service: opts.Service,
		version: opts.Version,
	}

	return slog.New(handler), nil
}

// SetDefault sets up and installs the default logger.
func SetDefault(opts Options) (*slog.Logger, error) {
	logger, err := Setup(opts, nil)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}
