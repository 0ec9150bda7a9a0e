package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kometaai/internal/notifications"
	"kometaai/internal/pipeline"
	"kometaai/internal/schedule"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts pipeline.RunOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Classify the library once and update collection tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			runCtx, token, stop := interruptContext(cmd.Context(), logger)
			defer stop()

			a, err := buildApp(cfg, logger, token)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.pipeline.Run(runCtx, opts)
			if summary.RunID != "" {
				printRunSummary(cmd.OutOrStdout(), summary)
			}
			return err
		},
	}

	cmd.Flags().BoolVarP(&opts.ForceRefresh, "force", "f", false, "Reclassify every item, ignoring cached decisions")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Classify and report without changing tags")
	cmd.Flags().BoolVar(&opts.ResetState, "reset-state", false, "Discard all stored decisions before running")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "Override classification.batch_size")
	cmd.Flags().StringSliceVar(&opts.Collections, "collection", nil, "Only process the named collection (repeatable)")
	return cmd
}

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var runNow bool
	var cronExpr string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run on the configured cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			expr := cfg.Schedule.Cron
			if strings.TrimSpace(cronExpr) != "" {
				expr = cronExpr
			}
			runCtx, token, stop := interruptContext(cmd.Context(), logger)
			defer stop()

			a, err := buildApp(cfg, logger, token)
			if err != nil {
				return err
			}
			defer a.Close()

			loop, err := schedule.New(expr, func(jobCtx context.Context, next time.Time) error {
				_, err := a.pipeline.Run(jobCtx, pipeline.RunOptions{NextRun: next})
				return err
			},
				schedule.WithLogger(logger),
				schedule.WithRunOnStart(cfg.Schedule.RunOnStart || runNow),
				schedule.WithCancellation(token),
			)
			if err != nil {
				return err
			}
			return loop.Run(runCtx)
		},
	}

	cmd.Flags().BoolVar(&runNow, "run-now", false, "Run once immediately before waiting for the schedule")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Override schedule.cron")
	return cmd
}

func printRunSummary(out io.Writer, summary notifications.Summary) {
	if len(summary.Collections) > 0 {
		rows := make([][]string, 0, len(summary.Collections))
		for _, c := range summary.Collections {
			rows = append(rows, []string{
				c.Name,
				strconv.Itoa(c.Processed),
				strconv.Itoa(c.FromCache),
				strconv.Itoa(c.Included),
				strconv.Itoa(c.Added),
				strconv.Itoa(c.Removed),
				fmt.Sprintf("$%.4f", c.Cost),
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Collection", "Processed", "Cached", "Included", "Added", "Removed", "Cost"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
		))
	}
	mode := ""
	if summary.DryRun {
		mode = " (dry run, no tags changed)"
	}
	fmt.Fprintf(out, "Run %s: %d changes, %d errors, total cost $%.4f%s\n",
		summary.RunID, len(summary.Changes), len(summary.Errors), summary.TotalCost(), mode)
	if summary.Cancelled {
		fmt.Fprintln(out, "Run was cancelled; remaining work continues on the next run")
	}
}
