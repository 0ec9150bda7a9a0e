package config

const (
	defaultConfigPath           = "~/.config/kometaai/config.toml"
	defaultStateDir             = "~/.local/share/kometaai/state"
	defaultKometaConfigDir      = "~/.config/kometa"
	defaultRadarrTimeout        = 30
	defaultRadarrMaxRetries     = 3
	defaultLLMProvider          = ProviderAnthropic
	defaultAnthropicModel       = "claude-3-7-sonnet-latest"
	defaultOpenRouterBaseURL    = "https://openrouter.ai/api/v1/chat/completions"
	defaultOpenRouterModel      = "anthropic/claude-3.7-sonnet"
	defaultLLMReferer           = "https://github.com/kometaai/kometaai"
	defaultLLMTitle             = "Kometa AI"
	defaultLLMTimeout           = 120
	defaultLLMMaxTokens         = 4000
	defaultLLMRefineMaxTokens   = 2000
	defaultLLMTemperature       = 0.1
	defaultLLMMaxAttempts       = 5
	defaultInputCostPerMillion  = 3.0
	defaultOutputCostPerMillion = 15.0
	defaultBatchSize            = 150
	defaultReprocessMargin      = 0.15
	defaultScheduleCron         = "0 3 * * *"
	defaultNotifyTimeout        = 10
	defaultSMTPPort             = 25
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Provider names accepted by llm.provider.
const (
	ProviderAnthropic  = "anthropic"
	ProviderOpenRouter = "openrouter"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:        defaultStateDir,
			KometaConfigDir: defaultKometaConfigDir,
		},
		Radarr: Radarr{
			TimeoutSeconds: defaultRadarrTimeout,
			MaxRetries:     defaultRadarrMaxRetries,
		},
		LLM: LLM{
			Provider:             defaultLLMProvider,
			Referer:              defaultLLMReferer,
			Title:                defaultLLMTitle,
			TimeoutSeconds:       defaultLLMTimeout,
			MaxTokens:            defaultLLMMaxTokens,
			RefineMaxTokens:      defaultLLMRefineMaxTokens,
			Temperature:          defaultLLMTemperature,
			MaxAttempts:          defaultLLMMaxAttempts,
			InputCostPerMillion:  defaultInputCostPerMillion,
			OutputCostPerMillion: defaultOutputCostPerMillion,
		},
		Classification: Classification{
			BatchSize:       defaultBatchSize,
			ReprocessMargin: defaultReprocessMargin,
		},
		Schedule: Schedule{
			Cron: defaultScheduleCron,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Email: Email{
				SMTPPort: defaultSMTPPort,
			},
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
