package comprice

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

// RetryOption configures WithRetry and WithEmbeddingRetry.
type RetryOption func(*retryConfig)

type retryConfig struct {
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(c *retryConfig) { c.maxAttempts = n }
}

// RetryBaseDelay sets the initial backoff delay (default: 1s). Each
// subsequent delay doubles.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(c *retryConfig) { c.baseDelay = d }
}

// RetryLogger sets the logger for retry events. Retries log at WARN and
// exhaustion at ERROR.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(c *retryConfig) { c.logger = l }
}

func newRetryConfig(opts []RetryOption) retryConfig {
	c := retryConfig{maxAttempts: 3, baseDelay: time.Second}
	for _, opt := range opts {
		opt(&c)
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}
	if c.logger == nil {
		c.logger = nopLogger
	}
	return c
}

// retryProvider wraps a Provider and retries transient HTTP errors.
type retryProvider struct {
	inner Provider
	cfg   retryConfig
}

// WithRetry wraps p with automatic retry on transient HTTP errors (429,
// 502, 503). Retries use exponential backoff with jitter and honour
// Retry-After. The agent's per-call timeout bounds the whole sequence:
//
//	llm := comprice.WithRetry(openaicompat.NewProvider("", "llama3.1", baseURL))
//	agent := comprice.NewAgent(llm, comprice.WithCallTimeout(30*time.Second))
func WithRetry(p Provider, opts ...RetryOption) Provider {
	return &retryProvider{inner: p, cfg: newRetryConfig(opts)}
}

func (r *retryProvider) Name() string { return r.inner.Name() }

func (r *retryProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return retryCall(ctx, r.cfg, r.inner.Name(), func() (ChatResponse, error) {
		return r.inner.Chat(ctx, req)
	})
}

// retryEmbeddingProvider wraps an EmbeddingProvider and retries transient
// HTTP errors.
type retryEmbeddingProvider struct {
	inner EmbeddingProvider
	cfg   retryConfig
}

// WithEmbeddingRetry is WithRetry for embedding providers.
func WithEmbeddingRetry(p EmbeddingProvider, opts ...RetryOption) EmbeddingProvider {
	return &retryEmbeddingProvider{inner: p, cfg: newRetryConfig(opts)}
}

func (r *retryEmbeddingProvider) Name() string    { return r.inner.Name() }
func (r *retryEmbeddingProvider) Dimensions() int { return r.inner.Dimensions() }

func (r *retryEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return retryCall(ctx, r.cfg, r.inner.Name(), func() ([][]float32, error) {
		return r.inner.Embed(ctx, texts)
	})
}

// statusOverloaded is Anthropic's non-standard "overloaded" status.
const statusOverloaded = 529

// isTransient reports whether err is a retryable HTTP error.
func isTransient(err error) bool {
	var e *ErrHTTP
	if !errors.As(err, &e) {
		return false
	}
	switch e.Status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, statusOverloaded:
		return true
	}
	return false
}

// statusOf extracts the HTTP status code from an ErrHTTP, or 0.
func statusOf(err error) int {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// retryDelay is max(backoff, Retry-After).
func retryDelay(base time.Duration, i int, err error) time.Duration {
	backoff := retryBackoff(base, i)
	var e *ErrHTTP
	if errors.As(err, &e) && e.RetryAfter > backoff {
		return e.RetryAfter
	}
	return backoff
}

// retryCall calls fn up to cfg.maxAttempts times, sleeping between
// transient failures.
func retryCall[T any](ctx context.Context, cfg retryConfig, name string, fn func() (T, error)) (T, error) {
	var zero T
	var last error
	for i := 0; i < cfg.maxAttempts; i++ {
		result, err := fn()
		if err == nil || !isTransient(err) {
			return result, err
		}
		last = err
		cfg.logger.Warn("retrying transient error",
			"provider", name,
			"status", statusOf(err),
			"attempt", i+1,
			"max_attempts", cfg.maxAttempts)
		if i < cfg.maxAttempts-1 {
			timer := time.NewTimer(retryDelay(cfg.baseDelay, i, err))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
	cfg.logger.Error("all retry attempts exhausted",
		"provider", name,
		"attempts", cfg.maxAttempts,
		"error", last)
	return zero, last
}

// retryBackoff returns base * 2^i plus up to 50% random jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}

var (
	_ Provider          = (*retryProvider)(nil)
	_ EmbeddingProvider = (*retryEmbeddingProvider)(nil)
)
