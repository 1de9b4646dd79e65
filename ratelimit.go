package comprice

import (
	"context"
	"sync"
	"time"
)

// RateLimitOption configures WithRateLimit.
type RateLimitOption func(*rateLimitProvider)

// RPM caps requests per minute.
func RPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.rpm = n }
}

// TPM caps tokens per minute, counted from ChatResponse.Usage. The request
// that crosses the budget still completes; later ones wait for the window
// to slide.
func TPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.tpm = n }
}

// rateLimitProvider blocks calls until a one-minute sliding window has room.
type rateLimitProvider struct {
	inner Provider
	rpm   int
	tpm   int
	now   func() time.Time

	mu       sync.Mutex
	requests []time.Time
	tokens   []tokenMark
}

type tokenMark struct {
	at time.Time
	n  int
}

// WithRateLimit wraps p so that local models and hosted free tiers are not
// flooded by a chatty agent loop. Compose it outside WithRetry so retried
// attempts count against the budget:
//
//	llm := comprice.WithRateLimit(comprice.WithRetry(p), comprice.RPM(30))
func WithRateLimit(p Provider, opts ...RateLimitOption) Provider {
	r := &rateLimitProvider{inner: p, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	if r.rpm <= 0 && r.tpm <= 0 {
		return p
	}
	return r
}

var _ Provider = (*rateLimitProvider)(nil)

func (r *rateLimitProvider) Name() string { return r.inner.Name() }

func (r *rateLimitProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := r.acquire(ctx); err != nil {
		return ChatResponse{}, err
	}
	resp, err := r.inner.Chat(ctx, req)
	if err == nil {
		r.record(resp.Usage)
	}
	return resp, err
}

// acquire waits until both budgets allow another request, or ctx ends.
func (r *rateLimitProvider) acquire(ctx context.Context) error {
	for {
		wait := r.reserve()
		if wait == 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve records a request and returns 0 when the budget allows it,
// otherwise the time until the oldest blocking entry leaves the window.
func (r *rateLimitProvider) reserve() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-time.Minute)
	for len(r.requests) > 0 && r.requests[0].Before(cutoff) {
		r.requests = r.requests[1:]
	}
	for len(r.tokens) > 0 && r.tokens[0].at.Before(cutoff) {
		r.tokens = r.tokens[1:]
	}

	rpmFull := r.rpm > 0 && len(r.requests) >= r.rpm
	tpmFull := false
	if r.tpm > 0 {
		used := 0
		for _, m := range r.tokens {
			used += m.n
		}
		tpmFull = used >= r.tpm
	}
	if !rpmFull && !tpmFull {
		if r.rpm > 0 {
			r.requests = append(r.requests, now)
		}
		return 0
	}

	var wait time.Duration
	if rpmFull {
		wait = r.requests[0].Add(time.Minute).Sub(now)
	}
	if tpmFull {
		if w := r.tokens[0].at.Add(time.Minute).Sub(now); wait <= 0 || w < wait {
			wait = w
		}
	}
	if wait <= 0 {
		wait = 10 * time.Millisecond
	}
	return wait
}

func (r *rateLimitProvider) record(u Usage) {
	n := u.InputTokens + u.OutputTokens
	if r.tpm <= 0 || n <= 0 {
		return
	}
	r.mu.Lock()
	r.tokens = append(r.tokens, tokenMark{at: r.now(), n: n})
	r.mu.Unlock()
}
