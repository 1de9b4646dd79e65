package comprice

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// scriptedProvider replays a fixed sequence of responses. When the script
// runs out, fallback (if set) answers every further call.
type scriptedProvider struct {
	mu       sync.Mutex
	script   []scriptStep
	fallback func(ctx context.Context, req ChatRequest) (ChatResponse, error)
	requests []ChatRequest
}

type scriptStep struct {
	resp  ChatResponse
	err   error
	delay time.Duration // honoured unless ctx is done first
	block bool          // sleep for delay ignoring ctx
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	p.mu.Lock()
	i := len(p.requests)
	p.requests = append(p.requests, req)
	var step *scriptStep
	if i < len(p.script) {
		step = &p.script[i]
	}
	fallback := p.fallback
	p.mu.Unlock()

	if step == nil {
		if fallback != nil {
			return fallback(ctx, req)
		}
		return ChatResponse{Content: "Final Answer: script exhausted"}, nil
	}
	if step.block {
		time.Sleep(step.delay)
		return step.resp, step.err
	}
	if step.delay > 0 {
		select {
		case <-time.After(step.delay):
		case <-ctx.Done():
			return ChatResponse{}, ctx.Err()
		}
	}
	return step.resp, step.err
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(i int) ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

var _ Provider = (*scriptedProvider)(nil)

func textResp(s string) scriptStep { return scriptStep{resp: ChatResponse{Content: s}} }

func callResp(calls ...ToolCall) scriptStep {
	return scriptStep{resp: ChatResponse{ToolCalls: calls}}
}

func call(id, name, args string) ToolCall {
	return ToolCall{ID: id, Name: name, Args: json.RawMessage(args)}
}

// recordingTool is a Tool that records every invocation and answers from
// a handler.
type recordingTool struct {
	mu      sync.Mutex
	def     ToolDefinition
	handler func(ctx context.Context, n int, args map[string]any) (ToolResult, error)
	args    []json.RawMessage
}

func newRecordingTool(name string, schema *Schema, handler func(ctx context.Context, n int, args map[string]any) (ToolResult, error)) *recordingTool {
	return &recordingTool{
		def:     ToolDefinition{Name: name, Description: "test tool " + name, Schema: schema},
		handler: handler,
	}
}

func (t *recordingTool) Describe() ToolDefinition { return t.def }

func (t *recordingTool) Invoke(ctx context.Context, raw json.RawMessage) (ToolResult, error) {
	t.mu.Lock()
	t.args = append(t.args, raw)
	n := len(t.args)
	t.mu.Unlock()
	args, err := ValidateArgs(t.def.Name, t.def.Schema, raw)
	if err != nil {
		return ToolResult{}, err
	}
	return t.handler(ctx, n, args)
}

func (t *recordingTool) invocations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.args)
}

func okResult(name, out string) ToolResult {
	return ToolResult{ToolName: name, Output: out, Succeeded: true}
}

var queryDevicesSchema = &Schema{
	Type: "object",
	Properties: map[string]*Schema{
		"filters": {Type: "object"},
		"columns": {Type: "array", Items: &Schema{Type: "string"}},
		"limit":   {Type: "integer", Minimum: Bound(1), Maximum: Bound(100)},
	},
}

var searchSchema = &Schema{
	Type:     "object",
	Required: []string{"query"},
	Properties: map[string]*Schema{
		"query": {Type: "string"},
		"top_k": {Type: "integer", Minimum: Bound(1), Maximum: Bound(20)},
	},
}

// recordingTracer collects span names in start order.
type recordingTracer struct {
	mu    sync.Mutex
	spans []*recordingSpan
}

type recordingSpan struct {
	name  string
	attrs map[string]any
	err   error
	ended bool
}

func (t *recordingTracer) Start(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span) {
	s := &recordingSpan{name: name, attrs: map[string]any{}}
	s.SetAttr(attrs...)
	t.mu.Lock()
	t.spans = append(t.spans, s)
	t.mu.Unlock()
	return ctx, s
}

func (t *recordingTracer) names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, s := range t.spans {
		out = append(out, s.name)
	}
	return out
}

func (s *recordingSpan) SetAttr(attrs ...SpanAttr) {
	for _, a := range attrs {
		s.attrs[a.Key] = a.Value
	}
}
func (s *recordingSpan) Event(string, ...SpanAttr) {}
func (s *recordingSpan) Error(err error)          { s.err = err }
func (s *recordingSpan) End()                     { s.ended = true }
