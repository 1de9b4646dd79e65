package comprice

import "context"

// Provider abstracts the language model backend. Chat receives the full
// conversation and the available tools; the response is raw model output
// with no format guarantee. ParseResponse is responsible for making sense
// of it.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider name (e.g. "ollama", "anthropic").
	Name() string
}

// EmbeddingProvider abstracts text embedding.
type EmbeddingProvider interface {
	// Embed returns one vector per input text, each of length Dimensions().
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}
