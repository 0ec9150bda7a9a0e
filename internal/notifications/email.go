package notifications

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"kometaai/internal/services"
)

// Message is a rendered mail.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
	Date    time.Time
}

// Sender transmits a rendered mail.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Email delivers summaries through a Sender.
type Email struct {
	sender Sender
	from   string
	to     []string
	now    func() time.Time
}

func NewEmail(sender Sender, from string, to []string) *Email {
	return &Email{sender: sender, from: from, to: to, now: time.Now}
}

func (e *Email) Notify(ctx context.Context, summary Summary) error {
	if len(e.to) == 0 {
		return services.Wrap(services.ErrConfiguration, "notifications", "email", "no recipients configured", nil)
	}
	return e.sender.Send(ctx, Message{
		From:    e.from,
		To:      e.to,
		Subject: summary.Subject(),
		Body:    summary.Markdown(),
		Date:    e.now(),
	})
}

// Bytes renders msg as an RFC 5322 message with CRLF line endings.
func (m Message) Bytes() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "Reply-To: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(m.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", m.Date.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	body := strings.ReplaceAll(m.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.Bytes()
}

// SMTPSender speaks SMTP directly. UseSSL dials implicit TLS; UseTLS
// upgrades a plain connection with STARTTLS.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
	UseSSL   bool
	Timeout  time.Duration
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if s.Host == "" {
		return services.Wrap(services.ErrConfiguration, "notifications", "smtp", "smtp_server not configured", nil)
	}
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return services.Wrap(services.ErrTransient, "notifications", "smtp", "connect "+addr, err)
	}
	deadline, ok := ctx.Deadline()
	if !ok && s.Timeout > 0 {
		deadline, ok = time.Now().Add(s.Timeout), true
	}
	if ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		conn.Close()
		return services.Wrap(services.ErrTransient, "notifications", "smtp", "handshake", err)
	}
	defer client.Close()

	if s.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return services.Wrap(services.ErrConfiguration, "notifications", "smtp", "server does not support STARTTLS", nil)
		}
		if err := client.StartTLS(&tls.Config{ServerName: s.Host}); err != nil {
			return services.Wrap(services.ErrTransient, "notifications", "smtp", "starttls", err)
		}
	}
	if s.Username != "" && s.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", s.Username, s.Password, s.Host)); err != nil {
			return services.Wrap(services.ErrCritical, "notifications", "smtp", "authentication failed", err)
		}
	}
	if err := client.Mail(msg.From); err != nil {
		return services.Wrap(services.ErrValidation, "notifications", "smtp", "sender rejected", err)
	}
	for _, rcpt := range msg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return services.Wrap(services.ErrValidation, "notifications", "smtp", "recipient rejected: "+rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return services.Wrap(services.ErrTransient, "notifications", "smtp", "data", err)
	}
	if _, err := w.Write(msg.Bytes()); err != nil {
		_ = w.Close()
		return services.Wrap(services.ErrTransient, "notifications", "smtp", "write body", err)
	}
	if err := w.Close(); err != nil {
		return services.Wrap(services.ErrTransient, "notifications", "smtp", "finish body", err)
	}
	if err := client.Quit(); err != nil && !errors.Is(err, net.ErrClosed) {
		return services.Wrap(services.ErrTransient, "notifications", "smtp", "quit", err)
	}
	return nil
}

func (s *SMTPSender) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: s.Timeout}
	if s.UseSSL {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: s.Host}}
		return tlsDialer.DialContext(ctx, "tcp", addr)
	}
	return dialer.DialContext(ctx, "tcp", addr)
}
