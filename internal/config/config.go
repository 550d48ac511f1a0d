package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Provider defaults match the MultiClubes TicketsV2 service.
const (
	DefaultProviderURL      = "https://multiclubes.balipark.com.br/(a655f81b-8437-48ec-8876-069664ee891a)/TicketsV2.svc"
	DefaultGetTicketsAction = "http://multiclubes.com.br/tickets/v2/IService/GetTickets"
	DefaultSellAction       = "http://multiclubes.com.br/tickets/v2/IService/Sell"
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = "lan"
	}
	if cfg.Webhook.BaseURL == "" {
		cfg.Webhook.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	if cfg.Webhook.TimeoutSeconds == 0 {
		cfg.Webhook.TimeoutSeconds = 60
	}
	if cfg.Webhook.RetentionMinutes == 0 {
		cfg.Webhook.RetentionMinutes = 30
	}
	if cfg.Webhook.MaxBodyBytes == 0 {
		cfg.Webhook.MaxBodyBytes = 1 << 20
	}
	if cfg.Provider.URL == "" {
		cfg.Provider.URL = DefaultProviderURL
	}
	if cfg.Provider.GetTicketsAction == "" {
		cfg.Provider.GetTicketsAction = DefaultGetTicketsAction
	}
	if cfg.Provider.SellAction == "" {
		cfg.Provider.SellAction = DefaultSellAction
	}
	if cfg.Provider.TimeoutSeconds == 0 {
		cfg.Provider.TimeoutSeconds = 30
	}
	if cfg.Provider.DueDays == 0 {
		cfg.Provider.DueDays = 2
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
}
