package observer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nevindra/comprice"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AttrErrorKind classifies the error recorded on a failed span.
const AttrErrorKind = attribute.Key("error.kind")

// runTracer bridges the agent loop's Tracer interface onto OTEL spans.
type runTracer struct {
	tracer trace.Tracer
}

// NewTracer returns a comprice.Tracer backed by the global OTEL
// TracerProvider. Call Init first; until then spans go to a no-op backend.
func NewTracer() comprice.Tracer {
	return NewTracerFrom(otel.GetTracerProvider())
}

// NewTracerFrom returns a comprice.Tracer that records spans on tp.
func NewTracerFrom(tp trace.TracerProvider) comprice.Tracer {
	return &runTracer{tracer: tp.Tracer(scopeName)}
}

func (t *runTracer) Start(ctx context.Context, name string, attrs ...comprice.SpanAttr) (context.Context, comprice.Span) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(otelAttrs(attrs)...))
	return ctx, runSpan{span}
}

type runSpan struct {
	span trace.Span
}

func (s runSpan) SetAttr(attrs ...comprice.SpanAttr) { s.span.SetAttributes(otelAttrs(attrs)...) }

func (s runSpan) Event(name string, attrs ...comprice.SpanAttr) {
	s.span.AddEvent(name, trace.WithAttributes(otelAttrs(attrs)...))
}

// Error marks the span failed and tags it with the error's category so
// limit exhaustion, timeouts and provider outages can be told apart in
// queries without parsing messages.
func (s runSpan) Error(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
	s.span.SetAttributes(AttrErrorKind.String(errorKind(err)))
}

func (s runSpan) End() { s.span.End() }

func errorKind(err error) string {
	switch {
	case errors.Is(err, comprice.ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, comprice.ErrModelTimeout):
		return "model_timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return string(comprice.ErrorResult("", err).Kind)
}

func otelAttrs(attrs []comprice.SpanAttr) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		out[i] = toOTELAttr(a)
	}
	return out
}

// toOTELAttr maps a span attribute onto the closest OTEL value type.
// Durations are recorded in milliseconds.
func toOTELAttr(a comprice.SpanAttr) attribute.KeyValue {
	switch v := a.Value.(type) {
	case string:
		return attribute.String(a.Key, v)
	case int:
		return attribute.Int(a.Key, v)
	case int64:
		return attribute.Int64(a.Key, v)
	case float64:
		return attribute.Float64(a.Key, v)
	case bool:
		return attribute.Bool(a.Key, v)
	case []string:
		return attribute.StringSlice(a.Key, v)
	case time.Duration:
		return attribute.Float64(a.Key, float64(v)/float64(time.Millisecond))
	case fmt.Stringer:
		return attribute.String(a.Key, v.String())
	default:
		return attribute.String(a.Key, fmt.Sprint(v))
	}
}

var (
	_ comprice.Tracer = (*runTracer)(nil)
	_ comprice.Span   = runSpan{}
)
