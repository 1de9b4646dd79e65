package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nevindra/comprice"
)

// Provider implements comprice.Provider for any OpenAI-compatible API.
//
// Works with OpenAI, Ollama, vLLM, LM Studio, OpenRouter, Groq, Together,
// DeepSeek, Mistral and any other provider that implements the OpenAI chat
// completions API.
type Provider struct {
	apiKey    string
	model     string
	baseURL   string
	client    *http.Client
	name      string
	opts      []Option
	textTools bool
	logger    *slog.Logger
}

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "http://localhost:11434/v1"). The /chat/completions path is appended
// automatically.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		name:    "openai",
		logger:  nopLogger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var nopLogger = slog.New(slog.DiscardHandler)

// Name returns the provider name (default "openai", configurable via WithName).
func (p *Provider) Name() string { return p.name }

// Chat sends a chat request and returns the complete response.
// When req.Tools is non-empty, the response may contain ToolCalls.
func (p *Provider) Chat(ctx context.Context, req comprice.ChatRequest) (comprice.ChatResponse, error) {
	msgs, tools := req.Messages, req.Tools
	if p.textTools {
		msgs, tools = FlattenToolTurns(msgs), nil
	}
	body := BuildBody(msgs, tools, p.model, p.opts...)

	start := time.Now()
	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		return comprice.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return comprice.ChatResponse{}, p.httpErr(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return comprice.ChatResponse{}, &comprice.ProviderError{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	out := ParseResponse(chatResp)
	p.logger.Debug("openaicompat: chat ok",
		"provider", p.name, "model", p.model,
		"messages", len(body.Messages), "tool_calls", len(out.ToolCalls),
		"input_tokens", out.Usage.InputTokens, "output_tokens", out.Usage.OutputTokens,
		"duration", time.Since(start))
	return out, nil
}

// sendHTTP marshals the request body and sends it to the chat completions endpoint.
func (p *Provider) sendHTTP(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &comprice.ProviderError{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &comprice.ProviderError{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		// Keep the context error visible so the loop can tell a timeout
		// from an unreachable server.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &comprice.ProviderError{Provider: p.name, Message: "send request: " + err.Error(), Err: err}
	}
	return resp, nil
}

// httpErr reads the response body and returns an ErrHTTP for retry middleware.
// Parses the Retry-After header when present (429/503 responses).
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := string(body)
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error.Message != "" {
		msg = eb.Error.Message
	}
	return &comprice.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       msg,
		RetryAfter: comprice.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// Compile-time interface check.
var _ comprice.Provider = (*Provider)(nil)
