// Package notifications formats run summaries and delivers them.
//
// A Summary is rendered once as Markdown and handed to every configured
// Notifier: ntfy receives it as a push message, SMTP as a plain-text mail.
// NewFromConfig wraps the configured transports in a Policy so callers can
// notify unconditionally and let the send_on_no_changes and errors_only
// settings decide whether anything leaves the process.
package notifications
