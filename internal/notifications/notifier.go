package notifications

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"kometaai/internal/config"
	"kometaai/internal/logging"
)

// Notifier delivers a run summary.
type Notifier interface {
	Notify(ctx context.Context, summary Summary) error
}

// Multi fans a summary out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, summary Summary) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Policy decides whether a summary is worth sending before handing it on.
type Policy struct {
	Next            Notifier
	SendOnNoChanges bool
	ErrorsOnly      bool
	Logger          *slog.Logger
}

// ShouldSend applies the delivery rules: errors are always reported,
// errors_only suppresses change-only summaries, and quiet runs are sent
// only with send_on_no_changes. Test summaries always go out.
func (p Policy) ShouldSend(summary Summary) bool {
	switch {
	case summary.Test, summary.HasErrors():
		return true
	case p.ErrorsOnly:
		return false
	case summary.HasChanges():
		return true
	default:
		return p.SendOnNoChanges
	}
}

func (p Policy) Notify(ctx context.Context, summary Summary) error {
	if p.Next == nil {
		return nil
	}
	if !p.ShouldSend(summary) {
		if p.Logger != nil {
			p.Logger.Info("summary notification skipped",
				logging.Args(logging.DecisionAttrs("notify", "skipped", "no changes or errors to report")...)...)
		}
		return nil
	}
	return p.Next.Notify(ctx, summary)
}

// NewFromConfig builds the configured notifiers behind a Policy. With no
// transport configured the result is a Policy with a nil Next, which never
// sends.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) Notifier {
	logger = logging.NewComponentLogger(logger, "notifications")
	n := cfg.Notifications
	var targets Multi
	if n.NtfyTopic != "" {
		targets = append(targets, NewNtfy(n.NtfyTopic, &http.Client{Timeout: cfg.NotificationTimeout()}))
	}
	if n.Email.Enabled {
		sender := &SMTPSender{
			Host:     n.Email.SMTPServer,
			Port:     n.Email.SMTPPort,
			Username: n.Email.Username,
			Password: n.Email.Password,
			UseTLS:   n.Email.UseTLS,
			UseSSL:   n.Email.UseSSL,
			Timeout:  cfg.NotificationTimeout(),
		}
		targets = append(targets, NewEmail(sender, n.Email.From, n.Email.Recipients))
	}
	policy := Policy{SendOnNoChanges: n.SendOnNoChanges, ErrorsOnly: n.ErrorsOnly, Logger: logger}
	if len(targets) > 0 {
		policy.Next = targets
	}
	return policy
}

// Configured reports whether cfg enables at least one transport.
func Configured(cfg *config.Config) bool {
	return cfg.Notifications.NtfyTopic != "" || cfg.Notifications.Email.Enabled
}
