// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/holomush/identity/internal/identity")

// Operation outcomes reported to a Recorder.
const (
	OutcomeOK       = "ok"
	OutcomeInvalid  = "invalid"
	OutcomeConflict = "conflict"
	OutcomeNotFound = "not_found"
	OutcomeExpired  = "expired"
	OutcomeMismatch = "mismatch"
	OutcomeError    = "error"
)

// Recorder receives operation telemetry. observability.Metrics implements it.
type Recorder interface {
	RecordOperation(operation, outcome string)
	ObserveHashDuration(d time.Duration)
	RecordTokensPurged(p Purpose, n int64)
}

type nopRecorder struct{}

func (nopRecorder) RecordOperation(string, string)    {}
func (nopRecorder) ObserveHashDuration(time.Duration) {}
func (nopRecorder) RecordTokensPurged(Purpose, int64) {}

// outcomeOf classifies err for metrics.
func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if _, ok := FieldErrorsOf(err); ok {
		return OutcomeInvalid
	}
	switch {
	case errors.Is(err, ErrUniqueConstraint):
		return OutcomeConflict
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrTokenExpired):
		return OutcomeExpired
	default:
		return OutcomeError
	}
}

func startSpan(ctx context.Context, name string, attrs ...trace.SpanStartOption) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, attrs...) //nolint:spancheck // ended by callers
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
