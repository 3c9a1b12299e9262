package config

import "time"

// Config represents the complete voicecmd configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Session   SessionConfig   `yaml:"session"`
	Locale    LocaleConfig    `yaml:"locale"`
	State     StateConfig     `yaml:"state"`
	API       APIConfig       `yaml:"api,omitempty"`
	Commands  CommandsConfig  `yaml:"commands,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name" env:"VOICECMD_SERVICE_NAME"`
	LogLevel  string `yaml:"log_level" env:"VOICECMD_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"VOICECMD_LOG_FORMAT"`
}

// SessionConfig holds the host contract timings for one invocation.
type SessionConfig struct {
	// AckBudget is how long a session may stay silent after it is created.
	AckBudget time.Duration `yaml:"ack_budget" env:"VOICECMD_ACK_BUDGET"`
	// HeartbeatInterval is the liveness interval while a handler runs.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"VOICECMD_HEARTBEAT_INTERVAL"`
	// GracePeriod bounds the wait for an abandoned handler during teardown.
	GracePeriod  time.Duration `yaml:"grace_period" env:"VOICECMD_GRACE_PERIOD"`
	SendTimeout  time.Duration `yaml:"send_timeout" env:"VOICECMD_SEND_TIMEOUT"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"VOICECMD_RETRY_BACKOFF"`
	MaxTiles     int           `yaml:"max_tiles" env:"VOICECMD_MAX_TILES"`
}

// LocaleConfig points at the message catalogs.
type LocaleConfig struct {
	Default    string `yaml:"default" env:"VOICECMD_LOCALE"`
	CatalogDir string `yaml:"catalog_dir,omitempty" env:"VOICECMD_CATALOG_DIR"`
	Watch      bool   `yaml:"watch,omitempty" env:"VOICECMD_CATALOG_WATCH"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path" env:"VOICECMD_STATE_PATH"`
	// Retention prunes finished sessions older than this. Zero keeps them.
	Retention time.Duration `yaml:"retention,omitempty" env:"VOICECMD_STATE_RETENTION"`
}

// APIConfig defines HTTP API server settings. The listener always runs since
// the host connects to /ws on it; Enabled mounts the operator endpoints.
type APIConfig struct {
	Enabled     bool          `yaml:"enabled" env:"VOICECMD_API_ENABLED"`
	Listen      string        `yaml:"listen" env:"VOICECMD_API_LISTEN"`
	Auth        APIAuthConfig `yaml:"auth"`
	CORSOrigins []string      `yaml:"cors_origins,omitempty" env:"VOICECMD_CORS_ORIGINS" envSeparator:","`
}

// APIAuthConfig defines API authentication settings. APIKey grants every
// scope; Tokens grant only the scopes they list.
type APIAuthConfig struct {
	APIKey string        `yaml:"api_key" env:"VOICECMD_API_KEY"`
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig is a scoped bearer token.
type TokenConfig struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// CommandsConfig mirrors what the assistant grammar registers.
type CommandsConfig struct {
	// Registered lists command names the host may deliver. Names with no
	// handler still work (fallback) but are reported by config check.
	Registered []string `yaml:"registered,omitempty"`
}

// TelemetryConfig toggles OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled" env:"VOICECMD_OTEL_ENABLED"`
	Endpoint string `yaml:"endpoint,omitempty" env:"VOICECMD_OTEL_ENDPOINT"`
}

// Defaults returns a Config with the host contract values.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "voicecmd",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Session: SessionConfig{
			AckBudget:         500 * time.Millisecond,
			HeartbeatInterval: 5 * time.Second,
			GracePeriod:       2 * time.Second,
			SendTimeout:       5 * time.Second,
			RetryBackoff:      200 * time.Millisecond,
			MaxTiles:          5,
		},
		Locale: LocaleConfig{
			Default: "en-US",
		},
		State: StateConfig{
			Path: "./data/sessions.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8090",
		},
	}
}
