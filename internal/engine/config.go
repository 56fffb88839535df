package engine

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines evaluation engine configuration.
type Config struct {
	OrgID                     string            `yaml:"org_id"`
	EvaluationIntervalSeconds int               `yaml:"evaluation_interval_seconds"`
	ChannelWebhooks           map[string]string `yaml:"channel_webhooks"`
	MessageTemplate           string            `yaml:"message_template"`
	DeliveryTimeoutSeconds    int               `yaml:"delivery_timeout_seconds"`
	HistoryRetentionDays      int               `yaml:"history_retention_days"`
}

// EvaluationInterval returns the evaluation cadence as a duration.
func (c Config) EvaluationInterval() time.Duration {
	return time.Duration(c.EvaluationIntervalSeconds) * time.Second
}

// LoadConfig loads config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		OrgID:                     os.Getenv("ORG_ID"),
		EvaluationIntervalSeconds: getenvIntDefault("ENGINE_INTERVAL_SECONDS", 60),
		DeliveryTimeoutSeconds:    getenvIntDefault("NOTIFY_TIMEOUT_SECONDS", 5),
		HistoryRetentionDays:      getenvIntDefault("ALERT_HISTORY_RETENTION_DAYS", 90),
	}

	if path := os.Getenv("ENGINE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.ChannelWebhooks == nil {
		cfg.ChannelWebhooks = channelWebhooksFromEnv()
	}
	if cfg.OrgID == "" {
		return cfg, errors.New("engine: org id required")
	}
	if cfg.EvaluationIntervalSeconds <= 0 {
		return cfg, errors.New("engine: evaluation interval must be positive")
	}
	return cfg, nil
}

// channelWebhooksFromEnv reads NOTIFY_WEBHOOK_<CHANNEL> variables, e.g.
// NOTIFY_WEBHOOK_EMAIL. NOTIFY_WEBHOOK_URL applies to every channel without a
// dedicated endpoint.
func channelWebhooksFromEnv() map[string]string {
	webhooks := make(map[string]string)
	fallback := os.Getenv("NOTIFY_WEBHOOK_URL")
	for _, channel := range []string{"EMAIL", "SMS", "IN_APP_CENTER", "WEB_TOAST"} {
		url := os.Getenv("NOTIFY_WEBHOOK_" + channel)
		if url == "" {
			url = fallback
		}
		if url != "" {
			webhooks[channel] = url
		}
	}
	if len(webhooks) == 0 {
		return nil
	}
	return webhooks
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
