package config

// Config is the root configuration for the multiclube gateway.
type Config struct {
	Server   ServerConfig   `yaml:"server,omitempty"`
	Webhook  WebhookConfig  `yaml:"webhook,omitempty"`
	Provider ProviderConfig `yaml:"provider,omitempty"`
	Pricing  PricingConfig  `yaml:"pricing,omitempty"`
	Store    StoreConfig    `yaml:"store,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
	Hooks    HooksConfig    `yaml:"hooks,omitempty"`
}

// ServerConfig controls the HTTP server hosting /mcp, /webhook and /health.
type ServerConfig struct {
	Port           int        `yaml:"port,omitempty"`
	Bind           string     `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string     `yaml:"customBindHost,omitempty"`
	Auth           ServerAuth `yaml:"auth,omitempty"`
	TLS            ServerTLS  `yaml:"tls,omitempty"`
	AllowedOrigins []string   `yaml:"allowedOrigins,omitempty"`
}

// ServerAuth configures bearer-token protection of the /mcp endpoint.
// The webhook endpoint is never authenticated: the provider only knows
// the callback URL.
type ServerAuth struct {
	Token string `yaml:"token,omitempty"`
}

// ServerTLS configures TLS for the HTTP server.
type ServerTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// WebhookConfig controls how callback URLs are built and how long a sale
// waits for its callback.
type WebhookConfig struct {
	BaseURL          string `yaml:"baseUrl,omitempty"`
	TimeoutSeconds   int    `yaml:"timeoutSeconds,omitempty"`
	RetentionMinutes int    `yaml:"retentionMinutes,omitempty"` // how long retired transaction keys are remembered
	MaxBodyBytes     int64  `yaml:"maxBodyBytes,omitempty"`
}

// ProviderConfig describes the SOAP ticketing provider.
type ProviderConfig struct {
	URL              string `yaml:"url,omitempty"`
	AuthKey          string `yaml:"authKey,omitempty"`
	GetTicketsAction string `yaml:"getTicketsAction,omitempty"`
	SellAction       string `yaml:"sellAction,omitempty"`
	TimeoutSeconds   int    `yaml:"timeoutSeconds,omitempty"`
	DueDays          int    `yaml:"dueDays,omitempty"`
	InsecureTLS      bool   `yaml:"insecureTLS,omitempty"` // accept legacy TLS and unverified certificates
}

// PricingConfig defines lead-time discount tiers.
type PricingConfig struct {
	Tiers []PricingTier `yaml:"tiers,omitempty"`
}

// PricingTier applies Percent off when the visit is at least MinLeadDays
// away. Match, when set, restricts the tier to ticket names containing it
// (case-insensitive).
type PricingTier struct {
	MinLeadDays int     `yaml:"minLeadDays"`
	Percent     float64 `yaml:"percent"`
	Match       string  `yaml:"match,omitempty"`
}

// StoreConfig controls persistence of completed sales.
type StoreConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"` // defaults to true
	Path    string `yaml:"path,omitempty"`    // defaults to <data>/multiclube.db
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// HooksConfig lists external commands run on lifecycle events. Each
// command receives the event payload as JSON on stdin.
type HooksConfig struct {
	SaleCompleted []HookEntry `yaml:"saleCompleted,omitempty"`
	SaleTimedOut  []HookEntry `yaml:"saleTimedOut,omitempty"`
	SaleRejected  []HookEntry `yaml:"saleRejected,omitempty"`
	ServerStart   []HookEntry `yaml:"serverStart,omitempty"`
	ServerStop    []HookEntry `yaml:"serverStop,omitempty"`
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
}

// StoreEnabled reports whether completed sales are persisted.
func (c StoreConfig) StoreEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
