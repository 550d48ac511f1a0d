package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "server.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Server.Port),
		})
	}

	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Server.Bind != "" && !slices.Contains(validBinds, cfg.Server.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "server.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Server.Bind),
		})
	}

	if cfg.Server.TLS.Enabled && (cfg.Server.TLS.CertPath == "" || cfg.Server.TLS.KeyPath == "") {
		issues = append(issues, ValidationIssue{
			Path:    "server.tls",
			Message: "certPath and keyPath are required when TLS is enabled",
		})
	}

	if issue, ok := checkURL("webhook.baseUrl", cfg.Webhook.BaseURL); !ok {
		issues = append(issues, issue)
	} else if strings.HasSuffix(cfg.Webhook.BaseURL, "/webhook") {
		issues = append(issues, ValidationIssue{
			Path:    "webhook.baseUrl",
			Message: "must not include the /webhook path; it is appended automatically",
		})
	}

	if cfg.Webhook.TimeoutSeconds < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "webhook.timeoutSeconds",
			Message: fmt.Sprintf("must be positive, got %d", cfg.Webhook.TimeoutSeconds),
		})
	}

	if issue, ok := checkURL("provider.url", cfg.Provider.URL); !ok {
		issues = append(issues, issue)
	}

	if cfg.Provider.TimeoutSeconds < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "provider.timeoutSeconds",
			Message: fmt.Sprintf("must be positive, got %d", cfg.Provider.TimeoutSeconds),
		})
	}

	for i, tier := range cfg.Pricing.Tiers {
		if tier.Percent < 0 || tier.Percent >= 100 {
			issues = append(issues, ValidationIssue{
				Path:    fmt.Sprintf("pricing.tiers[%d].percent", i),
				Message: fmt.Sprintf("must be in [0, 100), got %v", tier.Percent),
			})
		}
		if tier.MinLeadDays < 0 {
			issues = append(issues, ValidationIssue{
				Path:    fmt.Sprintf("pricing.tiers[%d].minLeadDays", i),
				Message: fmt.Sprintf("must not be negative, got %d", tier.MinLeadDays),
			})
		}
	}

	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	hooks := map[string][]HookEntry{
		"hooks.saleCompleted": cfg.Hooks.SaleCompleted,
		"hooks.saleTimedOut":  cfg.Hooks.SaleTimedOut,
		"hooks.saleRejected":  cfg.Hooks.SaleRejected,
		"hooks.serverStart":   cfg.Hooks.ServerStart,
		"hooks.serverStop":    cfg.Hooks.ServerStop,
	}
	for path, entries := range hooks {
		for i, h := range entries {
			if strings.TrimSpace(h.Command) == "" {
				issues = append(issues, ValidationIssue{
					Path:    fmt.Sprintf("%s[%d].command", path, i),
					Message: "command is required",
				})
			}
		}
	}

	return issues
}

func checkURL(path, raw string) (ValidationIssue, bool) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ValidationIssue{
			Path:    path,
			Message: fmt.Sprintf("must be an absolute http(s) URL, got %q", raw),
		}, false
	}
	return ValidationIssue{}, true
}
