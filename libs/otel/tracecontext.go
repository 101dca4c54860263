package otelx

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var ErrInvalidTraceparent = errors.New("invalid traceparent")

// W3C format is used regardless of the global propagator so dead letters and
// CLI flags stay readable when tracing is disabled.
var w3c = propagation.TraceContext{}

// TraceContext is a W3C trace context carried inside a payload, such as a
// dead letter, that has no header slot of its own.
type TraceContext struct {
	Traceparent string `json:"traceparent,omitempty"`
	Tracestate  string `json:"tracestate,omitempty"`
}

// CaptureTrace returns the trace context of the span in ctx, or the zero
// value when there is none.
func CaptureTrace(ctx context.Context) TraceContext {
	carrier := propagation.MapCarrier{}
	w3c.Inject(ctx, carrier)
	return TraceContext{Traceparent: carrier["traceparent"], Tracestate: carrier["tracestate"]}
}

func (tc TraceContext) IsZero() bool {
	return tc.Traceparent == "" && tc.Tracestate == ""
}

// Attach returns ctx continuing tc's trace. A zero tc returns ctx unchanged.
func (tc TraceContext) Attach(ctx context.Context) (context.Context, error) {
	if tc.IsZero() {
		return ctx, nil
	}
	out := w3c.Extract(ctx, propagation.MapCarrier{
		"traceparent": tc.Traceparent,
		"tracestate":  tc.Tracestate,
	})
	if !trace.SpanContextFromContext(out).IsValid() {
		return ctx, ErrInvalidTraceparent
	}
	return out, nil
}
