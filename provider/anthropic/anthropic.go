// Package anthropic implements comprice.Provider on the Anthropic Messages
// API using the official SDK.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nevindra/comprice"
)

const (
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 1024
)

// Provider sends chat requests to Anthropic.
type Provider struct {
	client      sdk.Client
	model       string
	maxTokens   int64
	temperature *float64
}

// Option configures a Provider.
type Option func(*providerConfig)

type providerConfig struct {
	model       string
	baseURL     string
	maxTokens   int64
	temperature *float64
	httpClient  *http.Client
}

// WithModel sets the model (default "claude-sonnet-4-5").
func WithModel(m string) Option {
	return func(c *providerConfig) { c.model = m }
}

// WithBaseURL points the client at a different endpoint, e.g. a proxy or a
// test server.
func WithBaseURL(u string) Option {
	return func(c *providerConfig) { c.baseURL = u }
}

// WithMaxTokens caps output tokens per response (default 1024).
func WithMaxTokens(n int) Option {
	return func(c *providerConfig) { c.maxTokens = int64(n) }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *providerConfig) { c.temperature = &t }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *providerConfig) { c.httpClient = hc }
}

// New creates an Anthropic provider. SDK-level retries are disabled; wrap
// the provider with comprice.WithRetry instead so every provider retries
// the same way.
func New(apiKey string, opts ...Option) *Provider {
	cfg := providerConfig{model: defaultModel, maxTokens: defaultMaxTokens}
	for _, o := range opts {
		o(&cfg)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}
	return &Provider{
		client:      sdk.NewClient(reqOpts...),
		model:       cfg.model,
		maxTokens:   cfg.maxTokens,
		temperature: cfg.temperature,
	}
}

var _ comprice.Provider = (*Provider)(nil)

// Name implements comprice.Provider.
func (p *Provider) Name() string { return "anthropic" }

// Chat implements comprice.Provider.
func (p *Provider) Chat(ctx context.Context, req comprice.ChatRequest) (comprice.ChatResponse, error) {
	system, messages, err := convertMessages(req.Messages)
	if err != nil {
		return comprice.ChatResponse{}, &comprice.ProviderError{Provider: "anthropic", Message: err.Error(), Err: err}
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if p.temperature != nil {
		params.Temperature = sdk.Float(*p.temperature)
	}
	tools, err := convertTools(req.Tools)
	if err != nil {
		return comprice.ChatResponse{}, &comprice.ProviderError{Provider: "anthropic", Message: err.Error(), Err: err}
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return comprice.ChatResponse{}, classifyError(ctx, err)
	}
	return convertResponse(resp), nil
}

// convertMessages splits leading system messages into the system prompt.
// Anthropic has no system role inside the conversation, so later system
// messages are sent as user text. Consecutive messages with the same role
// are merged, which keeps parallel tool results in one user message.
func convertMessages(msgs []comprice.ChatMessage) ([]sdk.TextBlockParam, []sdk.MessageParam, error) {
	var system []sdk.TextBlockParam
	i := 0
	for ; i < len(msgs) && msgs[i].Role == "system"; i++ {
		system = append(system, sdk.TextBlockParam{Text: msgs[i].Content})
	}

	var out []sdk.MessageParam
	add := func(role sdk.MessageParamRole, blocks ...sdk.ContentBlockParamUnion) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, sdk.MessageParam{Role: role, Content: blocks})
	}

	for _, m := range msgs[i:] {
		switch m.Role {
		case "assistant":
			var blocks []sdk.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input := map[string]any{}
				if len(tc.Args) > 0 {
					if err := json.Unmarshal(tc.Args, &input); err != nil {
						return nil, nil, fmt.Errorf("tool call %s arguments: %w", tc.ID, err)
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				add(sdk.MessageParamRoleAssistant, blocks...)
			}
		case "tool":
			add(sdk.MessageParamRoleUser, sdk.NewToolResultBlock(m.ToolCallID, m.Content, false))
		default:
			add(sdk.MessageParamRoleUser, sdk.NewTextBlock(m.Content))
		}
	}
	return system, out, nil
}

func convertTools(tools []comprice.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]sdk.ToolUnionParam, len(tools))
	for i, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = t.Schema.JSON()
		}
		var schema sdk.ToolInputSchemaParam
		if err := json.Unmarshal(params, &schema); err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", t.Name, err)
		}
		out[i] = sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        t.Name,
				Description: sdk.String(t.Description),
				InputSchema: schema,
			},
		}
	}
	return out, nil
}

func convertResponse(resp *sdk.Message) comprice.ChatResponse {
	out := comprice.ChatResponse{
		Usage: comprice.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case sdk.TextBlock:
			out.Content += b.Text
		case sdk.ToolUseBlock:
			args, _ := json.Marshal(b.Input)
			out.ToolCalls = append(out.ToolCalls, comprice.ToolCall{ID: b.ID, Name: b.Name, Args: args})
		}
	}
	return out
}

// classifyError maps SDK errors onto comprice errors: HTTP failures become
// *comprice.ErrHTTP so WithRetry can see the status, and context errors are
// returned bare so the loop can recognise a timeout.
func classifyError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		h := &comprice.ErrHTTP{Status: apiErr.StatusCode, Body: apiErr.Error()}
		if apiErr.Response != nil {
			h.RetryAfter = comprice.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		return h
	}
	return &comprice.ProviderError{Provider: "anthropic", Message: err.Error(), Err: err}
}
