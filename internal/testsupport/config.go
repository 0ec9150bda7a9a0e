package testsupport

import (
	"path/filepath"
	"testing"

	"kometaai/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It fills service credentials so RequireServices passes.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.KometaConfigDir = filepath.Join(base, "kometa")
	cfg.Radarr.URL = "http://radarr.invalid"
	cfg.Radarr.APIKey = "test"
	cfg.LLM.APIKey = "test"

	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithBatchSize overrides the classification batch size.
func WithBatchSize(n int) ConfigOption {
	return func(c *config.Config) {
		c.Classification.BatchSize = n
	}
}
