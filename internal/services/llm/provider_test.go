package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kometaai/internal/services"
)

func TestOpenRouterComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Title"); got != "Kometa AI" {
			t.Errorf("X-Title = %q", got)
		}
		var payload chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if payload.Model != "demo-model" || payload.MaxTokens != 4000 || len(payload.Messages) != 2 {
			t.Errorf("unexpected payload %+v", payload)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": `{"ok":true}`}}},
			"usage":   map[string]any{"prompt_tokens": 12, "completion_tokens": 3},
		})
	}))
	defer server.Close()

	provider := NewOpenRouter(OpenRouterConfig{APIKey: "test-key", BaseURL: server.URL, Model: "demo-model", Title: "Kometa AI"}, nil)
	completion, err := provider.Complete(context.Background(), Request{System: "s", User: "u", MaxTokens: 4000, Temperature: 0.1})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completion.Text != `{"ok":true}` || completion.InputTokens != 12 || completion.OutputTokens != 3 {
		t.Fatalf("unexpected completion %+v", completion)
	}
}

func TestOpenRouterStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer server.Close()

	provider := NewOpenRouter(OpenRouterConfig{APIKey: "k", BaseURL: server.URL}, nil)
	_, err := provider.Complete(context.Background(), Request{System: "s", User: "u"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests || statusErr.RetryAfter != 7*time.Second {
		t.Fatalf("unexpected status error %+v", statusErr)
	}
	if !errors.Is(classifyError("openrouter", err, 10), services.ErrTransient) {
		t.Fatal("429 should be transient")
	}
}

func TestOpenRouterEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": ""}, "finish_reason": "length"}},
		})
	}))
	defer server.Close()

	provider := NewOpenRouter(OpenRouterConfig{APIKey: "k", BaseURL: server.URL}, nil)
	_, err := provider.Complete(context.Background(), Request{System: "s", User: "u"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
	if !strings.Contains(err.Error(), `finish_reason="length"`) {
		t.Fatalf("error should carry finish reason: %v", err)
	}
}

func TestOpenRouterRequiresAPIKey(t *testing.T) {
	provider := NewOpenRouter(OpenRouterConfig{}, nil)
	if _, err := provider.Complete(context.Background(), Request{}); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestAnthropicComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "sk-test" {
			t.Errorf("X-Api-Key = %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["model"] != "claude-test" || body["max_tokens"] != float64(2000) {
			t.Errorf("unexpected body %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",` +
			`"content":[{"type":"text","text":"{\"ok\":true}"}],"stop_reason":"end_turn",` +
			`"usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer server.Close()

	provider := NewAnthropic(AnthropicConfig{APIKey: "sk-test", BaseURL: server.URL + "/", Model: "claude-test"}, server.Client())
	completion, err := provider.Complete(context.Background(), Request{System: "s", User: "u", MaxTokens: 2000, Temperature: 0.1})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completion.Text != `{"ok":true}` || completion.InputTokens != 10 || completion.OutputTokens != 5 {
		t.Fatalf("unexpected completion %+v", completion)
	}
}

func TestAnthropicAuthFailure(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer server.Close()

	provider := NewAnthropic(AnthropicConfig{APIKey: "bad", BaseURL: server.URL + "/", Model: "claude-test"}, server.Client())
	gw := New(provider, WithSleeper(func(context.Context, time.Duration) error { return nil }))
	_, err := gw.ClassifyBatch(context.Background(), sampleBatch())
	if !errors.Is(err, services.ErrCritical) {
		t.Fatalf("expected critical error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("auth failure should not be retried, got %d calls", calls)
	}
}
