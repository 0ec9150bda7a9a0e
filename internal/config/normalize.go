package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRadarr()
	c.normalizeLLM()
	c.normalizeNotifications()
	c.normalizeLogging()
	c.Schedule.Cron = strings.TrimSpace(c.Schedule.Cron)
	if c.Schedule.Cron == "" {
		c.Schedule.Cron = defaultScheduleCron
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.KometaConfigDir) == "" {
		c.Paths.KometaConfigDir = defaultKometaConfigDir
	}
	if c.Paths.KometaConfigDir, err = expandPath(c.Paths.KometaConfigDir); err != nil {
		return fmt.Errorf("paths.kometa_config_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeRadarr() {
	c.Radarr.URL = strings.TrimRight(strings.TrimSpace(c.Radarr.URL), "/")
	c.Radarr.APIKey = strings.TrimSpace(c.Radarr.APIKey)
	if c.Radarr.APIKey == "" {
		if value, ok := os.LookupEnv("RADARR_API_KEY"); ok {
			c.Radarr.APIKey = strings.TrimSpace(value)
		}
	}
	if c.Radarr.URL == "" {
		if value, ok := os.LookupEnv("RADARR_URL"); ok {
			c.Radarr.URL = strings.TrimRight(strings.TrimSpace(value), "/")
		}
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = defaultLLMProvider
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		envKey := "ANTHROPIC_API_KEY"
		if c.LLM.Provider == ProviderOpenRouter {
			envKey = "OPENROUTER_API_KEY"
		}
		if value, ok := os.LookupEnv(envKey); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	switch c.LLM.Provider {
	case ProviderOpenRouter:
		if c.LLM.BaseURL == "" {
			c.LLM.BaseURL = defaultOpenRouterBaseURL
		}
		if c.LLM.Model == "" {
			c.LLM.Model = defaultOpenRouterModel
		}
	default:
		if c.LLM.Model == "" {
			c.LLM.Model = defaultAnthropicModel
		}
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	email := &c.Notifications.Email
	email.SMTPServer = strings.TrimSpace(email.SMTPServer)
	email.Username = strings.TrimSpace(email.Username)
	email.From = strings.TrimSpace(email.From)
	if email.Password == "" {
		if value, ok := os.LookupEnv("SMTP_PASSWORD"); ok {
			email.Password = value
		}
	}
	if email.From == "" {
		email.From = email.Username
	}
	recipients := email.Recipients[:0]
	for _, r := range email.Recipients {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	email.Recipients = recipients
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
