package config

import (
	"errors"
	"fmt"
	"strings"

	"kometaai/internal/services"
)

// Validate ensures the configuration is internally consistent. Service
// credentials are checked separately by RequireServices so offline commands
// such as state inspection work without them.
func (c *Config) Validate() error {
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateClassification(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

// RequireServices reports missing catalog or LLM credentials as a
// configuration error. Callers run it before any API call.
func (c *Config) RequireServices() error {
	var missing []string
	if c.Radarr.URL == "" {
		missing = append(missing, "radarr.url (or RADARR_URL)")
	}
	if c.Radarr.APIKey == "" {
		missing = append(missing, "radarr.api_key (or RADARR_API_KEY)")
	}
	if c.LLM.APIKey == "" {
		env := "ANTHROPIC_API_KEY"
		if c.LLM.Provider == ProviderOpenRouter {
			env = "OPENROUTER_API_KEY"
		}
		missing = append(missing, fmt.Sprintf("llm.api_key (or %s)", env))
	}
	if len(missing) == 0 {
		return nil
	}
	path, err := DefaultConfigPath()
	if err != nil {
		path = defaultConfigPath
	}
	return services.Wrap(services.ErrConfiguration, "config", "require services",
		fmt.Sprintf("missing %s; edit %s (create with 'kometaai config init')", strings.Join(missing, ", "), path), nil)
}

func (c *Config) validateLLM() error {
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderOpenRouter:
	default:
		return fmt.Errorf("llm.provider: unsupported value %q", c.LLM.Provider)
	}
	if err := ensurePositiveMap(map[string]int{
		"llm.timeout_seconds":    c.LLM.TimeoutSeconds,
		"llm.max_tokens":         c.LLM.MaxTokens,
		"llm.refine_max_tokens":  c.LLM.RefineMaxTokens,
		"llm.max_attempts":       c.LLM.MaxAttempts,
		"radarr.timeout_seconds": c.Radarr.TimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		return errors.New("llm.temperature must be between 0 and 1")
	}
	if c.LLM.InputCostPerMillion < 0 || c.LLM.OutputCostPerMillion < 0 {
		return errors.New("llm cost rates must not be negative")
	}
	if c.Radarr.MaxRetries < 0 {
		return errors.New("radarr.max_retries must not be negative")
	}
	return nil
}

func (c *Config) validateClassification() error {
	if c.Classification.BatchSize <= 0 {
		return errors.New("classification.batch_size must be positive")
	}
	if c.Classification.ReprocessMargin < 0 || c.Classification.ReprocessMargin > 1 {
		return errors.New("classification.reprocess_margin must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	email := c.Notifications.Email
	if !email.Enabled {
		return nil
	}
	if email.SMTPServer == "" {
		return errors.New("notifications.email.smtp_server must be set when email is enabled")
	}
	if email.SMTPPort <= 0 || email.SMTPPort > 65535 {
		return errors.New("notifications.email.smtp_port must be a valid port")
	}
	if len(email.Recipients) == 0 {
		return errors.New("notifications.email.recipients must not be empty when email is enabled")
	}
	if email.From == "" {
		return errors.New("notifications.email.from must be set when email is enabled")
	}
	if email.UseSSL && email.UseTLS {
		return errors.New("notifications.email: use_ssl and use_tls are mutually exclusive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
