package observer

import (
	"context"
	"time"

	"github.com/nevindra/comprice"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Runner answers a question with a single terminal Outcome.
// *comprice.Agent satisfies it.
type Runner interface {
	Run(ctx context.Context, question string) comprice.Outcome
}

// ObservedAgent wraps a Runner to emit run-level spans, metrics and logs.
// The wrapper creates a parent span for each Run call that contains all inner
// operations (LLM calls, tool invocations) as child spans via context propagation.
type ObservedAgent struct {
	inner Runner
	name  string
	inst  *Instruments
}

// WrapAgent returns an instrumented Runner that emits run telemetry.
func WrapAgent(inner Runner, name string, inst *Instruments) *ObservedAgent {
	return &ObservedAgent{inner: inner, name: name, inst: inst}
}

var _ Runner = (*ObservedAgent)(nil)

// Run wraps the inner Run, emitting an agent.execute span that serves as the
// parent for all inner operations.
func (o *ObservedAgent) Run(ctx context.Context, question string) comprice.Outcome {
	ctx, span := o.inst.Tracer.Start(ctx, "agent.execute", trace.WithAttributes(
		AttrAgentName.String(o.name),
	))
	defer span.End()
	start := time.Now()

	span.AddEvent("agent.started")

	out := o.inner.Run(ctx, question)

	durationMs := float64(time.Since(start).Milliseconds())
	status := string(out.Kind)

	switch {
	case out.Reason == comprice.ReasonCancelled:
		status = "cancelled"
		span.AddEvent("agent.cancelled")
		span.SetStatus(codes.Error, "cancelled")
	case !out.Answered():
		span.AddEvent("agent.failed", trace.WithAttributes(
			attribute.String("reason", out.Reason),
		))
		if out.Err != nil {
			span.RecordError(out.Err)
		}
		span.SetStatus(codes.Error, out.Reason)
	default:
		span.AddEvent("agent.completed")
	}

	span.SetAttributes(
		AttrAgentOutcome.String(string(out.Kind)),
		AttrAgentReason.String(out.Reason),
		AttrAgentSteps.Int(out.Steps),
		AttrAgentMalformed.Int(out.Malformed),
		AttrAgentToolCalls.Int(out.ToolCalls),
		AttrTokensInput.Int(out.Usage.InputTokens),
		AttrTokensOutput.Int(out.Usage.OutputTokens),
	)

	// Metrics
	o.inst.AgentRuns.Add(ctx, 1, metric.WithAttributes(
		AttrAgentName.String(o.name),
		attribute.String("status", status),
		AttrAgentReason.String(out.Reason),
	))
	o.inst.AgentDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrAgentName.String(o.name),
	))
	o.inst.AgentSteps.Record(ctx, int64(out.Steps), metric.WithAttributes(
		AttrAgentName.String(o.name),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("agent run completed"))
	rec.AddAttributes(
		otellog.String("agent.name", o.name),
		otellog.String("agent.outcome", string(out.Kind)),
		otellog.String("agent.reason", out.Reason),
		otellog.Int("agent.steps", out.Steps),
		otellog.Int("agent.tool_calls", out.ToolCalls),
		otellog.Int("tokens.input", out.Usage.InputTokens),
		otellog.Int("tokens.output", out.Usage.OutputTokens),
		otellog.Float64("duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return out
}
