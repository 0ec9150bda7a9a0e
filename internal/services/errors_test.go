package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"kometaai/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "radarr", "list movies", "request failed", base)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"radarr", "list movies", "request failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want services.Category
	}{
		{"nil", nil, services.CategoryUnknown},
		{"critical marker", services.Wrap(services.ErrCritical, "llm", "call", "auth", nil), services.CategoryCritical},
		{"config marker", services.Wrap(services.ErrConfiguration, "config", "load", "", nil), services.CategoryConfiguration},
		{"resource marker", services.Wrap(services.ErrResource, "", "", "", nil), services.CategoryResource},
		{"not found", services.Wrap(services.ErrNotFound, "radarr", "get", "", nil), services.CategoryValidation},
		{"net error", timeoutErr{}, services.CategoryTransient},
		{"unauthorized text", errors.New("401 Unauthorized"), services.CategoryCritical},
		{"quota text", errors.New("quota exceeded"), services.CategoryResource},
		{"rate limit text", errors.New("rate limit reached"), services.CategoryTransient},
		{"parse text", errors.New("could not parse body"), services.CategoryValidation},
		{"other", errors.New("something odd"), services.CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.Categorize(tt.err); got != tt.want {
				t.Fatalf("Categorize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCategoryFlags(t *testing.T) {
	if !services.CategoryTransient.IsRetryable() || !services.CategoryResource.IsRetryable() {
		t.Fatal("expected transient and resource to be retryable")
	}
	if services.CategoryValidation.IsRetryable() {
		t.Fatal("validation should not be retryable by default")
	}
	if !services.CategoryCritical.IsFatal() || !services.CategoryConfiguration.IsFatal() {
		t.Fatal("expected critical and configuration to be fatal")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := services.RunIDFromContext(ctx); ok {
		t.Fatal("expected no run id")
	}
	ctx = services.WithRunID(ctx, "run-1")
	ctx = services.WithCollection(ctx, "Film Noir")
	ctx = services.WithBatch(ctx, 2)
	if id, _ := services.RunIDFromContext(ctx); id != "run-1" {
		t.Fatalf("run id = %q", id)
	}
	if name, _ := services.CollectionFromContext(ctx); name != "Film Noir" {
		t.Fatalf("collection = %q", name)
	}
	if batch, _ := services.BatchFromContext(ctx); batch != 2 {
		t.Fatalf("batch = %d", batch)
	}
	if services.WithCollection(ctx, "") != ctx {
		t.Fatal("empty collection should not change context")
	}
}

func TestCancellation(t *testing.T) {
	var nilToken *services.Cancellation
	if nilToken.Cancelled() {
		t.Fatal("nil token should never be cancelled")
	}
	token := services.NewCancellation()
	if token.Cancelled() {
		t.Fatal("new token should not be cancelled")
	}
	token.Cancel()
	token.Cancel()
	if !token.Cancelled() {
		t.Fatal("expected cancelled token")
	}
	select {
	case <-token.Done():
	default:
		t.Fatal("expected done channel to be closed")
	}
}
