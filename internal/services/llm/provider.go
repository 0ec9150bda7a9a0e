package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Request is one completion call.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Completion is the text and token usage of one call.
type Completion struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Provider performs a single completion call without retries.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (Completion, error)
}

// StatusError is a non-2xx response from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s request: http %d: %s", e.Provider, e.StatusCode, strings.TrimSpace(e.Body))
}

// ErrEmptyResponse means the provider answered without any text content.
var ErrEmptyResponse = errors.New("empty response content")

func isRetryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError
}
