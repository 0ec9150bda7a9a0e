package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"kometaai/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through every configured channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			if !notifications.Configured(cfg) {
				return errors.New("no notification channel configured (set notifications.ntfy_topic or enable notifications.email)")
			}
			notifier := notifications.NewFromConfig(cfg, logger)
			if err := notifier.Notify(cmd.Context(), notifications.TestSummary(version, time.Now())); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
			return nil
		},
	}
}
