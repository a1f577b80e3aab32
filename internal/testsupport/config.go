package testsupport

import (
	"path/filepath"
	"testing"

	"doppel/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories and
// placeholder credentials per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Provider.ClientID = "test-client-id-0123456789abcdef"
	cfg.Provider.ClientSecret = "test-client-secret-0123456789abcdef"
	cfg.Telegram.Enabled = false

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithProviderCredentials overrides the provider credentials on the test config.
func WithProviderCredentials(clientID, clientSecret string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Provider.ClientID = clientID
		cfg.Provider.ClientSecret = clientSecret
	}
}

// WithTelegram enables telegram delivery against the provided base URL.
func WithTelegram(baseURL, token string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Telegram.Enabled = true
		cfg.Telegram.BaseURL = baseURL
		cfg.Telegram.BotToken = token
	}
}
