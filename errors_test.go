package comprice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestValidationErrorMessage(t *testing.T) {
	tests := []struct {
		err  *ValidationError
		want string
	}{
		{&ValidationError{Tool: "query_devices", Field: "limit", Message: "must be <= 100"}, `query_devices: invalid argument "limit": must be <= 100`},
		{&ValidationError{Tool: "search_device_docs", Message: "arguments must be a JSON object"}, "search_device_docs: invalid arguments: arguments must be a JSON object"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestStoreErrorTimeout(t *testing.T) {
	timeout := &StoreError{Store: "postgres", Op: "query devices", Err: fmt.Errorf("acquire: %w", context.DeadlineExceeded)}
	if !timeout.Timeout() {
		t.Error("deadline exceeded should report Timeout")
	}
	broken := &StoreError{Store: "postgres", Op: "query devices", Err: errors.New("connection refused")}
	if broken.Timeout() {
		t.Error("connection refused should not report Timeout")
	}
	if !errors.Is(timeout, context.DeadlineExceeded) {
		t.Error("StoreError should unwrap to its cause")
	}
}

func TestLimitErrorIsLimitExceeded(t *testing.T) {
	err := &LimitError{Limit: "steps", Max: 10}
	if !errors.Is(err, ErrLimitExceeded) {
		t.Error("LimitError should match ErrLimitExceeded")
	}
	if got, want := err.Error(), "limit exceeded: steps (max 10)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := &ErrHTTP{Status: 500, Body: "boom"}
	err := &ProviderError{Provider: "ollama", Message: "chat failed", Err: cause}
	var h *ErrHTTP
	if !errors.As(err, &h) || h.Status != 500 {
		t.Errorf("errors.As did not find ErrHTTP in %v", err)
	}
	if got, want := err.Error(), "ollama: chat failed"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrHTTPError(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   string
	}{
		{429, "too many requests", "http 429: too many requests"},
		{500, "internal server error", "http 500: internal server error"},
	}
	for _, tt := range tests {
		e := &ErrHTTP{Status: tt.status, Body: tt.body}
		if got := e.Error(); got != tt.want {
			t.Errorf("ErrHTTP{%d, %q}.Error() = %q, want %q", tt.status, tt.body, got, tt.want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := ParseRetryAfter("7"); got != 7*time.Second {
		t.Errorf("seconds: got %v", got)
	}
	for _, v := range []string{"", "-3", "soon"} {
		if got := ParseRetryAfter(v); got != 0 {
			t.Errorf("ParseRetryAfter(%q) = %v, want 0", v, got)
		}
	}
	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	if got := ParseRetryAfter(future); got <= 0 || got > 91*time.Second {
		t.Errorf("http date: got %v", got)
	}
}
