package comprice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrLimitExceeded is wrapped by LimitError when a run exhausts its
	// step or malformed-response budget.
	ErrLimitExceeded = errors.New("limit exceeded")
	// ErrModelTimeout is returned when a model call exceeds the per-call timeout.
	ErrModelTimeout = errors.New("model timeout")
)

// ValidationError reports tool arguments that do not satisfy the tool schema.
type ValidationError struct {
	Tool    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: invalid arguments: %s", e.Tool, e.Message)
	}
	return fmt.Sprintf("%s: invalid argument %q: %s", e.Tool, e.Field, e.Message)
}

// SchemaError reports a column or filter outside the published allow-list.
type SchemaError struct {
	Column  string
	Message string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: column %q: %s", e.Column, e.Message)
}

// ProviderError reports an unreachable or failing model/embedding backend.
type ProviderError struct {
	Provider string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StoreError reports a failed vector or structured store operation.
type StoreError struct {
	Store string
	Op    string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Store, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Timeout reports whether the store call failed because its deadline passed.
func (e *StoreError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// ParseError describes why a model response could not be classified.
// It never leaves the loop; it is logged and counted.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "unparseable response: " + e.Reason }

// LimitError reports which budget a run exhausted.
type LimitError struct {
	Limit string
	Max   int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s (max %d)", ErrLimitExceeded, e.Limit, e.Max)
}

func (e *LimitError) Unwrap() error { return ErrLimitExceeded }

// ErrHTTP is returned by HTTP-backed providers for non-2xx responses.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses a Retry-After header value given either as
// delay-seconds or an HTTP date. Returns 0 when absent or malformed.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
