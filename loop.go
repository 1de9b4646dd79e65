package comprice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// correctiveTurn is appended after an unparseable model response.
const correctiveTurn = "Respond with either a tool call or a final answer."

// run is the mutable state of a single Agent.Run call.
type run struct {
	id        string
	conv      Conversation
	steps     int
	malformed int
	toolCalls int
	usage     Usage
	trace     []StepTrace
	logger    *slog.Logger
}

// Run answers question. It always returns a well-formed Outcome: tool and
// parse failures are fed back to the model as observations, and only budget
// exhaustion, model failures and cancellation end a run as a failure.
//
// The loop makes at most MaxSteps model calls. Tool requests in one
// response are dispatched sequentially in the order the model listed them.
func (a *Agent) Run(ctx context.Context, question string) Outcome {
	r := &run{id: NewID()}
	r.logger = a.cfg.logger.With("run_id", r.id)
	r.conv.Append(Turn{Role: RoleUser, Content: question})

	var span Span
	if a.cfg.tracer != nil {
		ctx, span = a.cfg.tracer.Start(ctx, "agent.run",
			StringAttr("run.id", r.id),
			StringAttr("provider", a.provider.Name()),
			IntAttr("agent.max_steps", a.cfg.maxSteps),
			IntAttr("agent.max_malformed", a.cfg.maxMalformed))
	}

	r.logger.Info("run started", "tools", len(a.registry.order), "max_steps", a.cfg.maxSteps)
	out := a.loop(ctx, r)
	r.logger.Info("run finished",
		"outcome", out.Kind,
		"reason", out.Reason,
		"steps", out.Steps,
		"malformed", out.Malformed,
		"tool_calls", out.ToolCalls)

	if span != nil {
		span.SetAttr(
			StringAttr("outcome", string(out.Kind)),
			StringAttr("outcome.reason", out.Reason),
			IntAttr("steps", out.Steps),
			IntAttr("malformed", out.Malformed),
			IntAttr("tool_calls", out.ToolCalls),
			IntAttr("tokens.input", out.Usage.InputTokens),
			IntAttr("tokens.output", out.Usage.OutputTokens))
		if out.Err != nil {
			span.Error(out.Err)
		}
		span.End()
	}
	return out
}

func (a *Agent) loop(ctx context.Context, r *run) Outcome {
	for {
		if err := ctx.Err(); err != nil {
			return r.cancelled(err)
		}
		if r.steps >= a.cfg.maxSteps {
			r.logger.Warn("step limit reached without a final answer", "max_steps", a.cfg.maxSteps)
			return r.fail(ReasonStepLimit, &LimitError{Limit: "steps", Max: a.cfg.maxSteps})
		}
		r.steps++

		stepCtx := ctx
		var span Span
		if a.cfg.tracer != nil {
			stepCtx, span = a.cfg.tracer.Start(ctx, "agent.step", IntAttr("step", r.steps))
		}
		out, done := a.step(stepCtx, ctx, r, span)
		if span != nil {
			span.End()
		}
		if done {
			return out
		}
	}
}

// step performs one model call and handles its classified response. It
// reports done when the run has reached a terminal outcome.
func (a *Agent) step(ctx, parent context.Context, r *run, span Span) (Outcome, bool) {
	r.logger.Debug("calling model", "step", r.steps, "turns", r.conv.Len())
	resp, err := a.callModel(ctx, r.conv.Turns())
	if err != nil {
		if span != nil {
			span.Error(err)
		}
		return a.modelFailure(parent, r, err), true
	}
	r.usage.InputTokens += resp.Usage.InputTokens
	r.usage.OutputTokens += resp.Usage.OutputTokens

	d := ParseResponse(resp)
	if span != nil {
		span.SetAttr(StringAttr("decision", d.Kind.String()))
	}

	switch d.Kind {
	case DecisionFinal:
		r.conv.Append(Turn{Role: RoleAssistant, Content: d.Answer})
		return r.answer(d.Answer), true

	case DecisionUnparseable:
		r.malformed++
		r.logger.Warn("unparseable model response",
			"step", r.steps,
			"malformed", r.malformed,
			"reason", d.Err.Reason)
		if r.malformed > a.cfg.maxMalformed {
			return r.fail(ReasonStepLimit, &LimitError{Limit: "malformed responses", Max: a.cfg.maxMalformed}), true
		}
		r.conv.Append(Turn{Role: RoleSystem, Content: correctiveTurn})
		return Outcome{}, false
	}

	r.conv.Append(Turn{Role: RoleAssistant, Content: resp.Content, ToolCalls: d.Requests})
	for _, req := range d.Requests {
		a.dispatch(ctx, r, req)
	}
	return Outcome{}, false
}

// callModel invokes the provider under the per-call timeout. The call runs
// in its own goroutine so a provider that ignores its context cannot hold
// the run past the deadline.
func (a *Agent) callModel(ctx context.Context, turns []Turn) (ChatResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.callTimeout)
	defer cancel()

	req := ChatRequest{
		Messages: buildMessages(a.cfg.systemPrompt, turns),
		Tools:    a.registry.Definitions(),
	}
	type result struct {
		resp ChatResponse
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- result{err: fmt.Errorf("provider panicked: %v", p)}
			}
		}()
		resp, err := a.provider.Chat(callCtx, req)
		ch <- result{resp, err}
	}()

	select {
	case res := <-ch:
		return res.resp, res.err
	case <-callCtx.Done():
		return ChatResponse{}, callCtx.Err()
	}
}

// modelFailure maps a model call error to a terminal outcome.
func (a *Agent) modelFailure(parent context.Context, r *run, err error) Outcome {
	if perr := parent.Err(); perr != nil {
		return r.cancelled(perr)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrModelTimeout) {
		r.logger.Error("model call timed out", "step", r.steps, "timeout", a.cfg.callTimeout)
		return r.fail(ReasonModelTimeout, fmt.Errorf("%w after %s: %w", ErrModelTimeout, a.cfg.callTimeout, err))
	}
	r.logger.Error("model call failed", "step", r.steps, "error", err)
	var pe *ProviderError
	if !errors.As(err, &pe) {
		err = &ProviderError{Provider: a.provider.Name(), Message: err.Error(), Err: err}
	}
	return r.fail(ReasonModelUnavailable, err)
}

// dispatch invokes one tool request under the per-call timeout and appends
// its observation. Unknown tools are answered by the registry without
// reaching any store.
func (a *Agent) dispatch(ctx context.Context, r *run, req ToolRequest) {
	r.toolCalls++
	var span Span
	if a.cfg.tracer != nil {
		ctx, span = a.cfg.tracer.Start(ctx, "agent.tool",
			StringAttr("tool.name", req.Name),
			StringAttr("tool.call_id", req.ID))
	}

	start := time.Now()
	res := a.invoke(ctx, req)
	elapsed := time.Since(start)
	obs := res.Observation()

	r.conv.Append(Turn{
		Role:      RoleTool,
		Content:   obs,
		ToolName:  req.Name,
		ToolInput: req.Args,
		CallID:    req.ID,
	})
	r.trace = append(r.trace, StepTrace{
		Tool:      req.Name,
		Input:     string(req.Args),
		Output:    obs,
		Succeeded: res.Succeeded,
		Duration:  elapsed,
	})

	if res.Succeeded {
		r.logger.Debug("tool succeeded", "tool", req.Name, "duration", elapsed)
	} else {
		r.logger.Info("tool failed", "tool", req.Name, "kind", res.Kind, "duration", elapsed, "output", truncateStr(obs, 200))
	}
	if span != nil {
		span.SetAttr(BoolAttr("tool.succeeded", res.Succeeded), StringAttr("tool.error_kind", string(res.Kind)))
		if res.Err != nil {
			span.Error(res.Err)
		}
		span.End()
	}
}

func (a *Agent) invoke(ctx context.Context, req ToolRequest) ToolResult {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.callTimeout)
	defer cancel()

	ch := make(chan ToolResult, 1)
	go func() { ch <- a.registry.Invoke(callCtx, req) }()

	select {
	case res := <-ch:
		return res
	case <-callCtx.Done():
		msg := fmt.Sprintf("tool %s timed out after %s", req.Name, a.cfg.callTimeout)
		if ctx.Err() != nil {
			msg = fmt.Sprintf("tool %s cancelled", req.Name)
		}
		return ToolResult{ToolName: req.Name, Output: msg, Kind: KindStore, Err: callCtx.Err()}
	}
}

// buildMessages renders the conversation for a provider request.
func buildMessages(systemPrompt string, turns []Turn) []ChatMessage {
	msgs := make([]ChatMessage, 0, len(turns)+1)
	if systemPrompt != "" {
		msgs = append(msgs, SystemMessage(systemPrompt))
	}
	for _, t := range turns {
		switch t.Role {
		case RoleUser:
			msgs = append(msgs, UserMessage(t.Content))
		case RoleSystem:
			msgs = append(msgs, SystemMessage(t.Content))
		case RoleTool:
			msgs = append(msgs, ToolResultMessage(t.CallID, t.ToolName, t.Content))
		case RoleAssistant:
			m := AssistantMessage(t.Content)
			for _, req := range t.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, ToolCall{ID: req.ID, Name: req.Name, Args: req.Args})
			}
			msgs = append(msgs, m)
		}
	}
	return msgs
}

func (r *run) outcome(kind OutcomeKind) Outcome {
	return Outcome{
		Kind:         kind,
		Steps:        r.steps,
		Malformed:    r.malformed,
		ToolCalls:    r.toolCalls,
		Usage:        r.usage,
		Trace:        r.trace,
		Conversation: r.conv.Turns(),
	}
}

func (r *run) answer(text string) Outcome {
	o := r.outcome(OutcomeAnswer)
	o.Text = text
	return o
}

func (r *run) fail(reason string, err error) Outcome {
	o := r.outcome(OutcomeFailure)
	o.Reason = reason
	o.Err = err
	return o
}

// cancelled drops the conversation; a cancelled run exposes no partial state.
func (r *run) cancelled(err error) Outcome {
	r.logger.Info("run cancelled", "step", r.steps, "error", err)
	o := r.fail(ReasonCancelled, err)
	o.Conversation = nil
	o.Trace = nil
	return o
}

// truncateStr returns s truncated to n runes with "..." appended if truncated.
func truncateStr(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
