package config

const (
	defaultDataDir             = "~/.local/share/doppel"
	defaultLogDir              = "~/.local/share/doppel/logs"
	defaultAPIBind             = "127.0.0.1:7491"
	defaultProviderBaseURL     = "https://openapi.akool.com/api/open/v3"
	defaultProviderTimeout     = 30
	defaultTelegramBaseURL     = "https://api.telegram.org"
	defaultTelegramTimeout     = 10
	defaultMaxRetries          = 3
	defaultRetryBaseSeconds    = 2
	defaultRetryMaxSeconds     = 60
	defaultPollIntervalSeconds = 30
	defaultPollMaxTicks        = 20
	defaultRetentionDays       = 14
	defaultMaintenanceSpec     = "@every 10m"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Provider: Provider{
			BaseURL:        defaultProviderBaseURL,
			RequestTimeout: defaultProviderTimeout,
		},
		Telegram: Telegram{
			Enabled:        true,
			BaseURL:        defaultTelegramBaseURL,
			RequestTimeout: defaultTelegramTimeout,
		},
		Workflow: Workflow{
			MaxRetries:          defaultMaxRetries,
			RetryBaseSeconds:    defaultRetryBaseSeconds,
			RetryMaxSeconds:     defaultRetryMaxSeconds,
			PollIntervalSeconds: defaultPollIntervalSeconds,
			PollMaxTicks:        defaultPollMaxTicks,
			RetentionDays:       defaultRetentionDays,
			MaintenanceSchedule: defaultMaintenanceSpec,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
