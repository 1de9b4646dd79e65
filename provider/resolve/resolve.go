// Package resolve builds chat and embedding providers from provider-agnostic
// configuration, so callers can switch backends by name.
package resolve

import (
	"fmt"

	"github.com/nevindra/comprice"
	"github.com/nevindra/comprice/provider/anthropic"
	"github.com/nevindra/comprice/provider/openai"
	"github.com/nevindra/comprice/provider/openaicompat"
)

// Config holds provider-agnostic configuration for creating a chat Provider.
type Config struct {
	Provider string // "anthropic", "openai", "groq", "deepseek", "together", "mistral", "ollama"
	APIKey   string
	Model    string
	BaseURL  string // auto-filled for known providers

	// Common cross-provider options (nil = use provider default).
	Temperature *float64
	TopP        *float64
	MaxTokens   int
	// TextTools disables native function calling for OpenAI-compatible
	// providers; tools are described only in the system prompt.
	TextTools bool
}

// EmbeddingConfig holds provider-agnostic configuration for creating an EmbeddingProvider.
type EmbeddingConfig struct {
	Provider   string // "openai" or any OpenAI-compatible name such as "ollama"
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
}

// Provider creates a comprice.Provider from a provider-agnostic Config.
func Provider(cfg Config) (comprice.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropicProvider(cfg), nil
	case "openai", "groq", "deepseek", "together", "mistral", "ollama":
		return openaiCompatProvider(cfg), nil
	default:
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}
}

// EmbeddingProvider creates a comprice.EmbeddingProvider from a provider-agnostic EmbeddingConfig.
func EmbeddingProvider(cfg EmbeddingConfig) (comprice.EmbeddingProvider, error) {
	switch cfg.Provider {
	case "openai", "ollama", "together", "mistral":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL(cfg.Provider)
		}
		opts := []openai.Option{openai.WithName(cfg.Provider), openai.WithBaseURL(baseURL)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.Dimensions > 0 {
			opts = append(opts, openai.WithDimensions(cfg.Dimensions))
		}
		return openai.NewEmbedding(cfg.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("resolve: embedding provider %q not supported", cfg.Provider)
	}
}

func anthropicProvider(cfg Config) comprice.Provider {
	var opts []anthropic.Option
	if cfg.Model != "" {
		opts = append(opts, anthropic.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Temperature != nil {
		opts = append(opts, anthropic.WithTemperature(*cfg.Temperature))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, anthropic.WithMaxTokens(cfg.MaxTokens))
	}
	return anthropic.New(cfg.APIKey, opts...)
}

func openaiCompatProvider(cfg Config) comprice.Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Provider)
	}
	provOpts := []openaicompat.ProviderOption{openaicompat.WithName(cfg.Provider)}
	if cfg.TextTools {
		provOpts = append(provOpts, openaicompat.WithTextTools())
	}

	var reqOpts []openaicompat.Option
	if cfg.Temperature != nil {
		reqOpts = append(reqOpts, openaicompat.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		reqOpts = append(reqOpts, openaicompat.WithTopP(*cfg.TopP))
	}
	if cfg.MaxTokens > 0 {
		reqOpts = append(reqOpts, openaicompat.WithMaxTokens(cfg.MaxTokens))
	}
	if len(reqOpts) > 0 {
		provOpts = append(provOpts, openaicompat.WithOptions(reqOpts...))
	}
	return openaicompat.NewProvider(cfg.APIKey, cfg.Model, baseURL, provOpts...)
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
