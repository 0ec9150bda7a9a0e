package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"kometaai/internal/catalog"
	"kometaai/internal/config"
	"kometaai/internal/logging"
	"kometaai/internal/recovery"
	"kometaai/internal/services"
)

const (
	defaultMaxAttempts     = 5
	defaultMaxTokens       = 4000
	defaultRefineMaxTokens = 2000
	defaultTemperature     = 0.1
	retryBaseDelay         = time.Second
	retryMaxDelay          = 30 * time.Second
)

// ErrMalformedResponse marks model text from which no valid payload could be
// recovered. It is retried with a fresh model call.
var ErrMalformedResponse = errors.New("malformed model response")

// BatchRequest is one batch classification call.
type BatchRequest struct {
	CollectionName string
	Criteria       string
	Threshold      float64
	Items          []catalog.Summary
}

// BatchResult carries the recovered decisions and the usage of this call,
// including failed attempts.
type BatchResult struct {
	CollectionName string
	Decisions      []recovery.Decision
	Strategy       string
	Attempts       int
	Usage          UsageStats
}

// RefineRequest is a single-item refinement call.
type RefineRequest struct {
	CollectionName string
	Criteria       string
	Threshold      float64
	Item           catalog.Summary
	Prior          recovery.Decision
}

// Refinement is the detailed verdict for one item.
type Refinement struct {
	MovieTitle       string
	CollectionName   string
	DetailedAnalysis string
	Include          bool
	Confidence       float64
	Reasoning        string
	Usage            UsageStats
}

// Gateway wraps a Provider with prompts, retries, response recovery and
// usage accounting.
type Gateway struct {
	provider        Provider
	logger          *slog.Logger
	rates           Rates
	maxTokens       int
	refineMaxTokens int
	temperature     float64
	maxAttempts     int
	sleep           func(context.Context, time.Duration) error
	freeMemory      func()

	mu    sync.Mutex
	usage UsageStats
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logging.NewComponentLogger(logger, "llm")
	}
}

// WithRates sets per-million-token prices.
func WithRates(rates Rates) Option {
	return func(g *Gateway) { g.rates = rates }
}

// WithMaxTokens sets the reply budgets for batch and refinement calls.
func WithMaxTokens(batch, refine int) Option {
	return func(g *Gateway) {
		if batch > 0 {
			g.maxTokens = batch
		}
		if refine > 0 {
			g.refineMaxTokens = refine
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(g *Gateway) { g.temperature = t }
}

// WithMaxAttempts overrides the retry budget.
func WithMaxAttempts(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithSleeper overrides how retry sleeps are performed.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(g *Gateway) {
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

// New constructs a Gateway around provider.
func New(provider Provider, opts ...Option) *Gateway {
	g := &Gateway{
		provider:        provider,
		logger:          logging.NewComponentLogger(nil, "llm"),
		rates:           Rates{InputPerMillion: 3, OutputPerMillion: 15},
		maxTokens:       defaultMaxTokens,
		refineMaxTokens: defaultRefineMaxTokens,
		temperature:     defaultTemperature,
		maxAttempts:     defaultMaxAttempts,
		sleep:           services.SleepContext,
		freeMemory:      debug.FreeOSMemory,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewFromConfig selects the provider named by cfg.LLM.Provider.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "llm", "init", "config is nil", nil)
	}
	httpClient := &http.Client{Timeout: cfg.LLMTimeout()}
	var provider Provider
	switch cfg.LLM.Provider {
	case config.ProviderAnthropic:
		provider = NewAnthropic(AnthropicConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
		}, httpClient)
	case config.ProviderOpenRouter:
		provider = NewOpenRouter(OpenRouterConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Referer: cfg.LLM.Referer,
			Title:   cfg.LLM.Title,
			Timeout: cfg.LLMTimeout(),
		}, httpClient)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "llm", "init",
			fmt.Sprintf("unsupported provider %q", cfg.LLM.Provider), nil)
	}
	return New(provider,
		WithLogger(logger),
		WithRates(Rates{InputPerMillion: cfg.LLM.InputCostPerMillion, OutputPerMillion: cfg.LLM.OutputCostPerMillion}),
		WithMaxTokens(cfg.LLM.MaxTokens, cfg.LLM.RefineMaxTokens),
		WithTemperature(cfg.LLM.Temperature),
		WithMaxAttempts(cfg.LLM.MaxAttempts),
	), nil
}

// ClassifyBatch asks the model to classify req.Items and recovers the
// decisions from its reply.
func (g *Gateway) ClassifyBatch(ctx context.Context, req BatchRequest) (BatchResult, error) {
	if len(req.Items) == 0 {
		return BatchResult{CollectionName: req.CollectionName, Decisions: []recovery.Decision{}}, nil
	}
	prompt, err := BatchPrompt(req.CollectionName, req.Criteria, req.Threshold, req.Items)
	if err != nil {
		return BatchResult{}, services.Wrap(services.ErrValidation, "llm", "classify batch", "build prompt", err)
	}
	logger := logging.WithContext(ctx, g.logger)

	var spent UsageStats
	result, err := services.Retry(ctx, g.retryPolicy(logger, "classify batch"), func(ctx context.Context, attempt int) (BatchResult, error) {
		completion, usage, err := g.complete(ctx, Request{
			System:      SystemPrompt,
			User:        prompt,
			MaxTokens:   g.maxTokens,
			Temperature: g.temperature,
		})
		spent = spent.Add(usage)
		if err != nil {
			return BatchResult{}, classifyError(g.provider.Name(), err, len(req.Items))
		}
		resp, strategy, err := recovery.Parse(completion.Text)
		if err != nil {
			logger.Debug("model reply could not be parsed",
				logging.Int("attempt", attempt),
				logging.String("preview", recovery.Preview(completion.Text)),
			)
			return BatchResult{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		if strategy != recovery.Strategies[0].Name {
			logger.Info("model reply recovered", logging.String("strategy", strategy))
		}
		return BatchResult{
			CollectionName: resp.CollectionName,
			Decisions:      normalizeDecisions(resp.Decisions),
			Strategy:       strategy,
			Attempts:       attempt,
		}, nil
	})
	result.Usage = spent
	if err != nil {
		return result, err
	}
	if result.CollectionName != req.CollectionName {
		logger.Debug("model reply names a different collection",
			logging.String("requested", req.CollectionName),
			logging.String("returned", result.CollectionName),
		)
		result.CollectionName = req.CollectionName
	}
	return result, nil
}

type refinementPayload struct {
	MovieTitle       string   `json:"movie_title"`
	CollectionName   string   `json:"collection_name"`
	DetailedAnalysis string   `json:"detailed_analysis"`
	Include          *bool    `json:"include"`
	Confidence       *float64 `json:"confidence"`
	Reasoning        string   `json:"reasoning"`
}

// RefineOne re-evaluates a single borderline item.
func (g *Gateway) RefineOne(ctx context.Context, req RefineRequest) (Refinement, error) {
	prompt, err := RefinementPrompt(req)
	if err != nil {
		return Refinement{}, services.Wrap(services.ErrValidation, "llm", "refine", "build prompt", err)
	}
	logger := logging.WithContext(ctx, g.logger).With(logging.Int(logging.FieldItemID, req.Item.MovieID))

	var spent UsageStats
	result, err := services.Retry(ctx, g.retryPolicy(logger, "refine"), func(ctx context.Context, _ int) (Refinement, error) {
		completion, usage, err := g.complete(ctx, Request{
			System:      RefinementSystemPrompt,
			User:        prompt,
			MaxTokens:   g.refineMaxTokens,
			Temperature: g.temperature,
		})
		spent = spent.Add(usage)
		if err != nil {
			return Refinement{}, classifyError(g.provider.Name(), err, 1)
		}
		var payload refinementPayload
		if err := decodeJSON(completion.Text, &payload); err != nil {
			return Refinement{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		if payload.Include == nil || payload.Confidence == nil {
			return Refinement{}, fmt.Errorf("%w: refinement reply missing include or confidence", ErrMalformedResponse)
		}
		return Refinement{
			MovieTitle:       payload.MovieTitle,
			CollectionName:   payload.CollectionName,
			DetailedAnalysis: strings.TrimSpace(payload.DetailedAnalysis),
			Include:          *payload.Include,
			Confidence:       clampConfidence(*payload.Confidence),
			Reasoning:        strings.TrimSpace(payload.Reasoning),
		}, nil
	})
	result.Usage = spent
	return result, err
}

// Ping issues a minimal completion to verify credentials and model access.
func (g *Gateway) Ping(ctx context.Context) error {
	_, _, err := g.complete(ctx, Request{
		System:      "You must respond with JSON only.",
		User:        `Respond with {"ok":true}`,
		MaxTokens:   16,
		Temperature: 0,
	})
	if err != nil {
		return classifyError(g.provider.Name(), err, 0)
	}
	return nil
}

// Usage returns the running totals.
func (g *Gateway) Usage() UsageStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage
}

// ResetUsage zeroes the running totals.
func (g *Gateway) ResetUsage() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.usage = UsageStats{}
}

// Provider returns the provider name.
func (g *Gateway) Provider() string {
	return g.provider.Name()
}

// complete performs one provider call and records its usage. Calls that
// consumed tokens are billed even when the reply is unusable.
func (g *Gateway) complete(ctx context.Context, req Request) (Completion, UsageStats, error) {
	completion, err := g.provider.Complete(ctx, req)
	if err != nil && completion.InputTokens == 0 && completion.OutputTokens == 0 {
		return completion, UsageStats{}, err
	}
	usage := UsageStats{
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
		Cost:         g.rates.Cost(completion.InputTokens, completion.OutputTokens),
		Requests:     1,
	}
	g.mu.Lock()
	g.usage = g.usage.Add(usage)
	g.mu.Unlock()
	return completion, usage, err
}

func (g *Gateway) retryPolicy(logger *slog.Logger, op string) services.RetryPolicy {
	return services.RetryPolicy{
		MaxAttempts: g.maxAttempts,
		BaseDelay:   retryBaseDelay,
		MaxDelay:    retryMaxDelay,
		Retryable:   isRetryable,
		Sleep:       g.sleep,
		OnRetry: func(err error, attempt int, delay time.Duration) {
			if services.Categorize(err) == services.CategoryResource {
				g.freeMemory()
			}
			logging.WarnWithContext(logger, "llm call failed; retrying", "llm_retry",
				logging.String("operation", op),
				logging.Int("attempt", attempt),
				logging.Int("max_attempts", g.maxAttempts),
				logging.Duration("delay", delay),
				logging.Error(err),
				logging.String(logging.FieldImpact, "batch delayed"),
			)
		},
	}
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrMalformedResponse) {
		return true
	}
	return services.Categorize(err).IsRetryable()
}

// classifyError tags a provider failure with its taxonomy marker.
func classifyError(provider string, err error, batchSize int) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrEmptyResponse) {
		return services.Wrap(services.ErrTransient, provider, "complete", "empty reply", err)
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		body := strings.ToLower(statusErr.Body)
		switch {
		case statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden:
			return services.Wrap(services.ErrCritical, provider, "complete", "authentication failed; check llm.api_key", err)
		case containsAny(body, "content policy", "content_policy", "content_filter"):
			return services.Wrap(services.ErrValidation, provider, "complete", "content policy violation in prompt or movie data", err)
		case containsAny(body, "token limit", "token_limit", "too many tokens", "prompt is too long", "context length", "maximum context"):
			return services.Wrap(services.ErrValidation, provider, "complete",
				fmt.Sprintf("input too large, reduce batch size from %d", batchSize), err)
		case isRetryableStatus(statusErr.StatusCode):
			return services.Wrap(services.ErrTransient, provider, "complete", fmt.Sprintf("http %d", statusErr.StatusCode), err)
		default:
			return services.Wrap(services.ErrValidation, provider, "complete", "request rejected", err)
		}
	}
	switch services.Categorize(err) {
	case services.CategoryTransient:
		return services.Wrap(services.ErrTransient, provider, "complete", "", err)
	case services.CategoryResource:
		return services.Wrap(services.ErrResource, provider, "complete", "", err)
	case services.CategoryCritical:
		return services.Wrap(services.ErrCritical, provider, "complete", "", err)
	}
	return err
}

func normalizeDecisions(decisions []recovery.Decision) []recovery.Decision {
	out := make([]recovery.Decision, 0, len(decisions))
	for _, d := range decisions {
		d.Confidence = clampConfidence(d.Confidence)
		d.Reasoning = strings.TrimSpace(d.Reasoning)
		out = append(out, d)
	}
	return out
}

func clampConfidence(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func containsAny(s string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}
