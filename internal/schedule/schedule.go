// Package schedule runs a job on a five-field cron expression until asked to
// stop.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"kometaai/internal/logging"
	"kometaai/internal/services"
)

// Job runs once per tick. next is the tick after this one.
type Job func(ctx context.Context, next time.Time) error

// Parse accepts standard cron syntax (minute hour day-of-month month
// day-of-week), e.g. "0 3 * * *".
func Parse(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "schedule", "parse", fmt.Sprintf("invalid cron expression %q", expr), err)
	}
	return sched, nil
}

// Loop fires a Job on a cron schedule.
type Loop struct {
	expr       string
	schedule   cron.Schedule
	job        Job
	runOnStart bool
	logger     *slog.Logger
	cancel     *services.Cancellation
	now        func() time.Time
	after      func(time.Duration) <-chan time.Time
}

// Option customizes a Loop.
type Option func(*Loop)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logging.NewComponentLogger(logger, "schedule") }
}

// WithRunOnStart fires the job once before waiting for the first tick.
func WithRunOnStart(enabled bool) Option {
	return func(l *Loop) { l.runOnStart = enabled }
}

// WithCancellation stops the loop between jobs once c fires.
func WithCancellation(c *services.Cancellation) Option {
	return func(l *Loop) { l.cancel = c }
}

func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// WithTimer replaces time.After.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(l *Loop) {
		if after != nil {
			l.after = after
		}
	}
}

// New builds a loop for expr.
func New(expr string, job Job, opts ...Option) (*Loop, error) {
	sched, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	l := &Loop{
		expr:     expr,
		schedule: sched,
		job:      job,
		logger:   logging.NewComponentLogger(nil, "schedule"),
		now:      time.Now,
		after:    time.After,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Next returns the first tick after t.
func (l *Loop) Next(t time.Time) time.Time {
	return l.schedule.Next(t)
}

// Run blocks until ctx ends or the cancellation token fires. Job errors are
// logged and the loop keeps its schedule. It returns nil on a graceful stop.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("scheduler started", logging.String("cron", l.expr), logging.Bool("run_on_start", l.runOnStart))
	if l.runOnStart {
		l.fire(ctx, l.now())
	}
	for {
		if l.stopping(ctx) {
			break
		}
		now := l.now()
		next := l.schedule.Next(now)
		wait := next.Sub(now)
		l.logger.Info("next run scheduled",
			logging.String("next_run", next.Format(time.RFC3339)),
			logging.Duration("wait", wait.Round(time.Second)),
		)
		select {
		case <-ctx.Done():
		case <-l.cancel.Done():
		case <-l.after(wait):
			l.fire(ctx, next)
		}
	}
	l.logger.Info("scheduler stopped")
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (l *Loop) stopping(ctx context.Context) bool {
	return ctx.Err() != nil || l.cancel.Cancelled()
}

func (l *Loop) fire(ctx context.Context, tick time.Time) {
	if l.stopping(ctx) {
		return
	}
	started := l.now()
	err := l.job(ctx, l.schedule.Next(tick))
	if err != nil {
		logging.ErrorWithContext(l.logger, "scheduled run failed", "scheduled_run_failed",
			logging.Error(err),
			logging.String("category", string(services.Categorize(err))),
			logging.String(logging.FieldErrorHint, "the daemon retries at the next scheduled time"),
		)
		return
	}
	l.logger.Info("scheduled run complete", logging.Duration("duration", l.now().Sub(started)))
}
