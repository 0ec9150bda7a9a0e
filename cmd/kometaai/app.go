package main

import (
	"log/slog"

	"kometaai/internal/audit"
	"kometaai/internal/collections"
	"kometaai/internal/config"
	"kometaai/internal/logging"
	"kometaai/internal/notifications"
	"kometaai/internal/pipeline"
	"kometaai/internal/services"
	"kometaai/internal/services/llm"
	"kometaai/internal/services/radarr"
	"kometaai/internal/state"
)

// app wires the production collaborators for run and daemon.
type app struct {
	store    *state.Store
	radarr   *radarr.Client
	gateway  *llm.Gateway
	audit    *audit.Store
	pipeline *pipeline.Pipeline
}

func buildApp(cfg *config.Config, logger *slog.Logger, token *services.Cancellation) (*app, error) {
	if err := cfg.RequireServices(); err != nil {
		return nil, err
	}
	gateway, err := llm.NewFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &app{
		store:   state.New(cfg.Paths.StateDir, logger, state.WithVersion(version)),
		radarr:  radarr.NewFromConfig(cfg, logger),
		gateway: gateway,
	}

	deps := pipeline.Dependencies{
		Catalog:     a.radarr,
		Classifier:  gateway,
		Collections: collections.NewParser(cfg.Paths.KometaConfigDir, logger),
		Notifier:    notifications.NewFromConfig(cfg, logger),
	}
	auditStore, err := audit.OpenInDir(cfg.Paths.StateDir)
	if err != nil {
		logging.WarnWithContext(logger, "refinement audit store unavailable", "audit_open_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "detailed refinement analysis is not recorded"),
		)
	} else {
		a.audit = auditStore
		deps.Analyses = auditStore
	}

	a.pipeline = pipeline.New(cfg, a.store, deps,
		pipeline.WithLogger(logger),
		pipeline.WithVersion(version),
		pipeline.WithCancellation(token),
	)
	return a, nil
}

func (a *app) Close() error {
	if a == nil || a.audit == nil {
		return nil
	}
	return a.audit.Close()
}
