package observer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nevindra/comprice"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedTool wraps a comprice.Tool with OTEL instrumentation.
type ObservedTool struct {
	inner comprice.Tool
	inst  *Instruments
}

// WrapTool returns an instrumented tool.
func WrapTool(inner comprice.Tool, inst *Instruments) *ObservedTool {
	return &ObservedTool{inner: inner, inst: inst}
}

// WrapTools instruments every tool in tools.
func WrapTools(tools []comprice.Tool, inst *Instruments) []comprice.Tool {
	out := make([]comprice.Tool, len(tools))
	for i, t := range tools {
		out[i] = WrapTool(t, inst)
	}
	return out
}

var _ comprice.Tool = (*ObservedTool)(nil)

func (o *ObservedTool) Describe() comprice.ToolDefinition {
	return o.inner.Describe()
}

func (o *ObservedTool) Invoke(ctx context.Context, args json.RawMessage) (comprice.ToolResult, error) {
	name := o.inner.Describe().Name
	ctx, span := o.inst.Tracer.Start(ctx, "tool.invoke", trace.WithAttributes(
		AttrToolName.String(name),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Invoke(ctx, args)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	kind := result.Kind
	switch {
	case err != nil:
		status = "error"
		kind = comprice.ErrorResult(name, err).Kind
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case kind == comprice.KindEmpty:
		status = "empty"
	case !result.Succeeded:
		status = "tool_error"
	}

	span.SetAttributes(
		AttrToolStatus.String(status),
		AttrToolErrorKind.String(string(kind)),
		AttrToolResultLength.Int(len(result.Output)),
	)

	o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(name),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrToolName.String(name),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("tool invoked"))
	rec.AddAttributes(
		otellog.String("tool.name", name),
		otellog.String("tool.status", status),
		otellog.String("tool.error_kind", string(kind)),
		otellog.Int("tool.result_length", len(result.Output)),
		otellog.Float64("tool.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return result, err
}
