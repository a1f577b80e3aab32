package config

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateProvider(); err != nil {
		return err
	}
	if err := c.validateTelegram(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateProvider() error {
	if c.Provider.ClientID == "" {
		return errors.New("provider.client_id is required (or set DOPPEL_PROVIDER_CLIENT_ID)")
	}
	if c.Provider.ClientSecret == "" {
		return errors.New("provider.client_secret is required (or set DOPPEL_PROVIDER_CLIENT_SECRET)")
	}
	if len(c.Provider.ClientSecret) < 24 {
		return errors.New("provider.client_secret must be at least 24 bytes (AES key source)")
	}
	if len(c.Provider.ClientID) < 16 {
		return errors.New("provider.client_id must be at least 16 bytes (AES IV source)")
	}
	return nil
}

func (c *Config) validateTelegram() error {
	if !c.Telegram.Enabled {
		return nil
	}
	if c.Telegram.BotToken == "" {
		return errors.New("telegram.bot_token must be set when telegram.enabled is true (or set TELEGRAM_BOT_TOKEN)")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.max_retries":           c.Workflow.MaxRetries,
		"workflow.retry_base_seconds":    c.Workflow.RetryBaseSeconds,
		"workflow.retry_max_seconds":     c.Workflow.RetryMaxSeconds,
		"workflow.poll_interval_seconds": c.Workflow.PollIntervalSeconds,
		"workflow.poll_max_ticks":        c.Workflow.PollMaxTicks,
		"workflow.retention_days":        c.Workflow.RetentionDays,
		"provider.request_timeout":       c.Provider.RequestTimeout,
		"telegram.request_timeout":       c.Telegram.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Workflow.RetryMaxSeconds < c.Workflow.RetryBaseSeconds {
		return errors.New("workflow.retry_max_seconds must be >= workflow.retry_base_seconds")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Workflow.MaintenanceSchedule); err != nil {
		return fmt.Errorf("workflow.maintenance_schedule: %w", err)
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
