package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig captures the settings for the Anthropic provider.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Anthropic calls the Messages API through the official SDK.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic constructs the provider. SDK-level retries are disabled so the
// Gateway's retry policy is the only one in effect.
func NewAnthropic(cfg AnthropicConfig, httpClient *http.Client) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		model:  strings.TrimSpace(cfg.Model),
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

// Complete issues one Messages request and returns the first text block.
func (a *Anthropic) Complete(ctx context.Context, req Request) (Completion, error) {
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(req.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: req.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return Completion{}, &StatusError{
				Provider:   a.Name(),
				StatusCode: apiErr.StatusCode,
				Body:       apiErr.Error(),
			}
		}
		return Completion{}, fmt.Errorf("anthropic request: %w", err)
	}

	completion := Completion{
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}
	for _, block := range message.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			completion.Text = block.Text
			return completion, nil
		}
	}
	return completion, fmt.Errorf("anthropic: %w (stop_reason=%q)", ErrEmptyResponse, message.StopReason)
}
