package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"kometaai/internal/collections"
	"kometaai/internal/notifications"
	"kometaai/internal/services/llm"
	"kometaai/internal/services/radarr"
	"kometaai/internal/state"
)

type healthCheck struct {
	label   string
	kind    statusKind
	message string
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check configuration, Radarr, the LLM provider and the state file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			checks := []healthCheck{{label: "Config", kind: statusOK, message: ctx.configPath}}
			if err := cfg.RequireServices(); err != nil {
				checks = append(checks, healthCheck{label: "Credentials", kind: statusError, message: err.Error()})
			} else {
				checks = append(checks,
					checkRadarr(cmd.Context(), radarr.NewFromConfig(cfg, logger)),
					checkLLM(cmd.Context(), func() (*llm.Gateway, error) { return llm.NewFromConfig(cfg, logger) }),
				)
			}
			checks = append(checks,
				checkState(state.New(cfg.Paths.StateDir, logger).Path()),
				checkCollections(collections.NewParser(cfg.Paths.KometaConfigDir, logger)),
			)
			if notifications.Configured(cfg) {
				checks = append(checks, healthCheck{label: "Notifications", kind: statusOK, message: "configured"})
			} else {
				checks = append(checks, healthCheck{label: "Notifications", kind: statusInfo, message: "not configured"})
			}

			for _, line := range renderSectionHeader("kometaai health", colorize) {
				fmt.Fprintln(out, line)
			}
			failed := 0
			for _, check := range checks {
				fmt.Fprintln(out, renderStatusLine(check.label, check.kind, check.message, colorize))
				if check.kind == statusError {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d health check(s) failed", failed)
			}
			return nil
		},
	}
}

func checkRadarr(ctx context.Context, client *radarr.Client) healthCheck {
	if err := client.Health(ctx); err != nil {
		return healthCheck{label: "Radarr", kind: statusError, message: err.Error()}
	}
	return healthCheck{label: "Radarr", kind: statusOK, message: "reachable"}
}

func checkLLM(ctx context.Context, build func() (*llm.Gateway, error)) healthCheck {
	gateway, err := build()
	if err != nil {
		return healthCheck{label: "LLM", kind: statusError, message: err.Error()}
	}
	if err := gateway.Ping(ctx); err != nil {
		return healthCheck{label: "LLM", kind: statusError, message: err.Error()}
	}
	return healthCheck{label: "LLM", kind: statusOK, message: gateway.Provider()}
}

func checkState(path string) healthCheck {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return healthCheck{label: "State", kind: statusInfo, message: "no state file yet"}
	}
	if issues := state.ValidateFile(path); len(issues) > 0 {
		return healthCheck{label: "State", kind: statusWarn, message: strings.Join(issues, "; ")}
	}
	return healthCheck{label: "State", kind: statusOK, message: path}
}

func checkCollections(parser *collections.Parser) healthCheck {
	all, err := parser.All()
	if err != nil {
		return healthCheck{label: "Collections", kind: statusError, message: err.Error()}
	}
	enabled := collections.Enabled(all)
	if len(enabled) == 0 {
		return healthCheck{label: "Collections", kind: statusWarn, message: "no enabled collections"}
	}
	return healthCheck{label: "Collections", kind: statusOK, message: fmt.Sprintf("%d enabled of %d", len(enabled), len(all))}
}
