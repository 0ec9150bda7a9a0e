package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"kometaai/internal/logging"
	"kometaai/internal/services"
)

// interruptContext turns the first SIGINT/SIGTERM into a graceful stop
// request and the second into a hard context cancellation.
func interruptContext(parent context.Context, logger *slog.Logger) (context.Context, *services.Cancellation, func()) {
	ctx, cancel := context.WithCancel(parent)
	token := services.NewCancellation()
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		received := 0
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-signals:
				received++
				if received == 1 {
					logging.WarnWithContext(logger, "stop requested; finishing the current batch", "shutdown_requested",
						logging.String("signal", sig.String()),
						logging.String(logging.FieldErrorHint, "send the signal again to abort immediately"),
						logging.String(logging.FieldImpact, "remaining work is picked up by the next run"),
					)
					token.Cancel()
					continue
				}
				logging.WarnWithContext(logger, "second stop signal; aborting", "shutdown_forced",
					logging.String("signal", sig.String()),
					logging.String(logging.FieldImpact, "in-flight requests are abandoned"),
				)
				cancel()
				return
			}
		}
	}()

	stop := func() {
		signal.Stop(signals)
		cancel()
	}
	return ctx, token, stop
}
