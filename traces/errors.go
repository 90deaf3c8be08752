// Package traces provides utilities for working with OpenTelemetry traces.
package traces

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Fail records err on span and marks the span as failed. A nil err is ignored.
func Fail(span trace.Span, err error, options ...trace.EventOption) {
	if err == nil {
		return
	}
	span.RecordError(err, options...)
	span.SetStatus(codes.Error, err.Error())
}
