package radarr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kometaai/internal/catalog"
	"kometaai/internal/config"
	"kometaai/internal/logging"
	"kometaai/internal/services"
)

const (
	apiPrefix         = "/api/v3"
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	maxRetryDelay     = 30 * time.Second
)

// HTTPDoer describes the HTTP client used by the Radarr client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to one Radarr instance.
type Client struct {
	baseURL    string
	apiKey     string
	client     HTTPDoer
	logger     *slog.Logger
	maxRetries int
	sleep      func(context.Context, time.Duration) error
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithMaxRetries sets how many times a connection failure is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithSleeper overrides the backoff sleep, primarily for tests.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "radarr")
	}
}

// New constructs a client for baseURL (without the /api/v3 suffix).
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		client:     &http.Client{Timeout: defaultTimeout},
		logger:     logging.NewComponentLogger(nil, "radarr"),
		maxRetries: defaultMaxRetries,
		sleep:      services.SleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig builds a client from the [radarr] section.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Client {
	timeout := cfg.RadarrTimeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return New(cfg.Radarr.URL, cfg.Radarr.APIKey,
		WithHTTPClient(&http.Client{Timeout: timeout}),
		WithMaxRetries(cfg.Radarr.MaxRetries),
		WithLogger(logger),
	)
}

var (
	_ catalog.Service       = (*Client)(nil)
	_ catalog.HealthChecker = (*Client)(nil)
	_ catalog.TagDeleter    = (*Client)(nil)
)

// APIError is returned for any non-2xx Radarr response.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
	marker     error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("radarr %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

// Unwrap exposes the services marker matching the status code.
func (e *APIError) Unwrap() error {
	return e.marker
}

func markerForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return services.ErrCritical
	case status == http.StatusNotFound:
		return services.ErrNotFound
	case status == http.StatusConflict:
		return services.ErrConflict
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return services.ErrTransient
	default:
		return services.ErrValidation
	}
}

// ListItems returns every movie in the library.
func (c *Client) ListItems(ctx context.Context) ([]catalog.Item, error) {
	var movies []movieResource
	if err := c.do(ctx, http.MethodGet, "/movie", nil, &movies); err != nil {
		return nil, err
	}
	items := make([]catalog.Item, 0, len(movies))
	for _, m := range movies {
		items = append(items, m.toItem())
	}
	return items, nil
}

// GetItem returns one movie.
func (c *Client) GetItem(ctx context.Context, id int) (catalog.Item, error) {
	var movie movieResource
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/movie/%d", id), nil, &movie); err != nil {
		return catalog.Item{}, err
	}
	return movie.toItem(), nil
}

// ListTags returns every tag.
func (c *Client) ListTags(ctx context.Context) ([]catalog.Tag, error) {
	var tags []catalog.Tag
	if err := c.do(ctx, http.MethodGet, "/tag", nil, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// CreateTag creates a tag with label.
func (c *Client) CreateTag(ctx context.Context, label string) (catalog.Tag, error) {
	var tag catalog.Tag
	err := c.do(ctx, http.MethodPost, "/tag", map[string]string{"label": label}, &tag)
	return tag, err
}

// DeleteTag removes a tag definition.
func (c *Client) DeleteTag(ctx context.Context, tagID int) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/tag/%d", tagID), nil, nil)
}

// AddTag attaches tagID to the movie. It is a no-op when already attached.
func (c *Client) AddTag(ctx context.Context, itemID, tagID int) error {
	return c.mutateTags(ctx, itemID, func(tags []int) ([]int, bool) {
		for _, id := range tags {
			if id == tagID {
				return tags, false
			}
		}
		return append(tags, tagID), true
	})
}

// RemoveTag detaches tagID from the movie. It is a no-op when absent.
func (c *Client) RemoveTag(ctx context.Context, itemID, tagID int) error {
	return c.mutateTags(ctx, itemID, func(tags []int) ([]int, bool) {
		out := tags[:0:0]
		for _, id := range tags {
			if id != tagID {
				out = append(out, id)
			}
		}
		return out, len(out) != len(tags)
	})
}

// Health queries /system/status.
func (c *Client) Health(ctx context.Context) error {
	var status struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/system/status", nil, &status); err != nil {
		return err
	}
	c.logger.Debug("radarr reachable", logging.String("version", status.Version))
	return nil
}

func (c *Client) mutateTags(ctx context.Context, itemID int, edit func([]int) ([]int, bool)) error {
	path := fmt.Sprintf("/movie/%d", itemID)
	var raw map[string]any
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return err
	}
	current, err := tagIDs(raw["tags"])
	if err != nil {
		return services.Wrap(services.ErrValidation, "radarr", "decode tags", fmt.Sprintf("movie %d", itemID), err)
	}
	updated, changed := edit(current)
	if !changed {
		return nil
	}
	raw["tags"] = updated
	return c.do(ctx, http.MethodPut, path, raw, nil)
}

func tagIDs(value any) ([]int, error) {
	if value == nil {
		return nil, nil
	}
	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected tags type %T", value)
	}
	out := make([]int, 0, len(list))
	for _, v := range list {
		switch n := v.(type) {
		case json.Number:
			id, err := n.Int64()
			if err != nil {
				return nil, err
			}
			out = append(out, int(id))
		case float64:
			out = append(out, int(n))
		default:
			return nil, fmt.Errorf("unexpected tag id type %T", v)
		}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, target any) error {
	if c.baseURL == "" {
		return services.Wrap(services.ErrConfiguration, "radarr", "request", "base url not configured", nil)
	}
	endpoint, err := url.JoinPath(c.baseURL, apiPrefix, path)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "radarr", "build url", c.baseURL, err)
	}
	var encoded []byte
	if body != nil {
		if encoded, err = json.Marshal(body); err != nil {
			return fmt.Errorf("radarr %s %s: encode body: %w", method, path, err)
		}
	}

	policy := services.RetryPolicy{
		MaxAttempts: c.maxRetries + 1,
		Retryable:   isConnectionError,
		Delay:       retryDelay,
		Sleep:       c.sleep,
		OnRetry: func(err error, attempt int, delay time.Duration) {
			c.logger.Warn("radarr request failed; retrying",
				logging.String("method", method),
				logging.String("path", path),
				logging.Int("attempt", attempt),
				logging.Duration("delay", delay),
				logging.Error(err),
			)
		},
	}
	payload, err := services.Retry(ctx, policy, func(ctx context.Context, _ int) ([]byte, error) {
		return c.send(ctx, method, endpoint, path, encoded)
	})
	if err != nil {
		return err
	}
	if target == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		return services.Wrap(services.ErrValidation, "radarr", method+" "+path, "decode response", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, endpoint, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build radarr request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("radarr %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("radarr %s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Message:    errorMessage(payload),
			marker:     markerForStatus(resp.StatusCode),
		}
	}
	return payload, nil
}

// errorMessage pulls a readable message out of Radarr's error bodies, which
// are either {"message": ...} or a list of validation failures.
func errorMessage(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}
	var single struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(trimmed, &single) == nil && single.Message != "" {
		return single.Message
	}
	var failures []struct {
		PropertyName string `json:"propertyName"`
		ErrorMessage string `json:"errorMessage"`
	}
	if json.Unmarshal(trimmed, &failures) == nil && len(failures) > 0 {
		parts := make([]string, 0, len(failures))
		for _, f := range failures {
			parts = append(parts, strings.TrimSpace(f.PropertyName+" "+f.ErrorMessage))
		}
		return strings.Join(parts, "; ")
	}
	msg := string(trimmed)
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}

func isConnectionError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// retryDelay is min(2^n + n/10, 30) seconds.
func retryDelay(attempt int) time.Duration {
	seconds := math.Pow(2, float64(attempt)) + float64(attempt)*0.1
	delay := time.Duration(seconds * float64(time.Second))
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}
