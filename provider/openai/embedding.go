// Package openai implements comprice.EmbeddingProvider on the OpenAI
// embeddings API using the official SDK. Any server exposing
// /v1/embeddings (Ollama, vLLM, LM Studio) works via WithBaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/nevindra/comprice"
)

const defaultModel = "text-embedding-3-small"

// Embedding produces vectors for text.
type Embedding struct {
	client     sdk.Client
	model      string
	dimensions int
	name       string
}

// Option configures an Embedding.
type Option func(*embeddingConfig)

type embeddingConfig struct {
	model      string
	baseURL    string
	dimensions int
	name       string
	httpClient *http.Client
}

// WithModel sets the embedding model (default "text-embedding-3-small").
func WithModel(m string) Option {
	return func(c *embeddingConfig) { c.model = m }
}

// WithBaseURL points the client at an OpenAI-compatible server,
// e.g. "http://localhost:11434/v1" for Ollama.
func WithBaseURL(u string) Option {
	return func(c *embeddingConfig) { c.baseURL = u }
}

// WithDimensions sets the vector size. It is sent to the API only for
// models that accept a dimensions parameter (text-embedding-3-*).
func WithDimensions(n int) Option {
	return func(c *embeddingConfig) { c.dimensions = n }
}

// WithName sets the name reported by Name() (default "openai").
func WithName(n string) Option {
	return func(c *embeddingConfig) { c.name = n }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *embeddingConfig) { c.httpClient = hc }
}

// NewEmbedding creates an embedding provider. SDK retries are disabled in
// favour of comprice.WithEmbeddingRetry.
func NewEmbedding(apiKey string, opts ...Option) *Embedding {
	cfg := embeddingConfig{model: defaultModel, name: "openai"}
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
	return &Embedding{
		client:     sdk.NewClient(reqOpts...),
		model:      cfg.model,
		dimensions: cfg.dimensions,
		name:       cfg.name,
	}
}

var _ comprice.EmbeddingProvider = (*Embedding)(nil)

// Name implements comprice.EmbeddingProvider.
func (e *Embedding) Name() string { return e.name }

// Dimensions implements comprice.EmbeddingProvider. Zero means the model's
// native size, learned from the first response.
func (e *Embedding) Dimensions() int { return e.dimensions }

// Embed implements comprice.EmbeddingProvider. Vectors are returned in the
// order of texts regardless of the order the API lists them in.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	params := sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModel(e.model),
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if e.dimensions > 0 && supportsDimensions(e.model) {
		params.Dimensions = sdk.Int(int64(e.dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, classifyError(ctx, e.name, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, &comprice.ProviderError{Provider: e.name, Message: fmt.Sprintf("embed: got %d vectors for %d inputs", len(resp.Data), len(texts))}
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, &comprice.ProviderError{Provider: e.name, Message: fmt.Sprintf("embed: vector index %d out of range", d.Index)}
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

func supportsDimensions(model string) bool {
	return model == "text-embedding-3-small" || model == "text-embedding-3-large"
}

func classifyError(ctx context.Context, name string, err error) error {
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
	return &comprice.ProviderError{Provider: name, Message: err.Error(), Err: err}
}
