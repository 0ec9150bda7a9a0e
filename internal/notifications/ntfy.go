package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"kometaai/internal/services"
)

const userAgent = "Kometa-AI-Go/1.0"

// Ntfy posts summaries to an ntfy topic URL.
type Ntfy struct {
	endpoint string
	client   *http.Client
}

// NewNtfy targets the full topic URL, e.g. https://ntfy.sh/my-topic.
func NewNtfy(endpoint string, client *http.Client) *Ntfy {
	if client == nil {
		client = http.DefaultClient
	}
	return &Ntfy{endpoint: strings.TrimSpace(endpoint), client: client}
}

func (n *Ntfy) Notify(ctx context.Context, summary Summary) error {
	tags := []string{"kometaai"}
	priority := ""
	switch {
	case summary.Test:
		tags = append(tags, "test")
		priority = "low"
	case summary.HasErrors():
		tags = append(tags, "warning")
		priority = "high"
	case summary.HasChanges():
		tags = append(tags, "movie_camera")
	}
	return n.send(ctx, summary.Subject(), summary.Markdown(), tags, priority)
}

func (n *Ntfy) send(ctx context.Context, title, message string, tags []string, priority string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(message))
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "notifications", "ntfy", "build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/markdown; charset=utf-8")
	req.Header.Set("Markdown", "yes")
	if title != "" {
		req.Header.Set("Title", title)
	}
	if len(tags) > 0 {
		req.Header.Set("Tags", strings.Join(tags, ","))
	}
	if priority != "" && priority != "default" {
		req.Header.Set("Priority", priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "notifications", "ntfy", "send", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return services.Wrap(services.ErrTransient, "notifications", "ntfy",
			fmt.Sprintf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
