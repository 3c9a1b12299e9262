package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ErrNoConfig is returned by Discover when no config file exists.
var ErrNoConfig = errors.New("no config found")

// Load reads and parses configuration from a YAML file, applies defaults and
// VOICECMD_* environment overrides, and validates the result.
// An empty path yields defaults plus environment overrides.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath != "" {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
		}

		info, err := os.Stat(absPath)
		if err != nil {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", absPath)
		}
		if info.IsDir() {
			absPath = filepath.Join(absPath, "config.yaml")
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", absPath, err)
		}

		expanded := interpolateEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", absPath, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg = applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds the config file by checking standard locations.
// Priority order: $VOICECMD_CONFIG, ~/.config/voicecmd/config.yaml, ./config.yaml
func Discover() (string, error) {
	if p := os.Getenv("VOICECMD_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "voicecmd", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	if _, err := os.Stat("./config.yaml"); err == nil {
		return "./config.yaml", nil
	}

	return "", fmt.Errorf("%w (checked: $VOICECMD_CONFIG, ~/.config/voicecmd/config.yaml, ./config.yaml)", ErrNoConfig)
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	s := &cfg.Session
	if s.AckBudget == 0 {
		s.AckBudget = defaults.Session.AckBudget
	}
	if s.HeartbeatInterval == 0 {
		s.HeartbeatInterval = defaults.Session.HeartbeatInterval
	}
	if s.GracePeriod == 0 {
		s.GracePeriod = defaults.Session.GracePeriod
	}
	if s.SendTimeout == 0 {
		s.SendTimeout = defaults.Session.SendTimeout
	}
	if s.RetryBackoff == 0 {
		s.RetryBackoff = defaults.Session.RetryBackoff
	}
	if s.MaxTiles == 0 {
		s.MaxTiles = defaults.Session.MaxTiles
	}

	if cfg.Locale.Default == "" {
		cfg.Locale.Default = defaults.Locale.Default
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	return cfg
}

func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Leave the placeholder; validation rejects it where it matters.
		return match
	})
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	s := cfg.Session
	if s.AckBudget < 0 || s.HeartbeatInterval < 0 || s.GracePeriod < 0 || s.SendTimeout < 0 || s.RetryBackoff < 0 {
		return fmt.Errorf("session durations must be positive")
	}
	if s.AckBudget >= s.HeartbeatInterval {
		return fmt.Errorf("session.ack_budget (%s) must be shorter than session.heartbeat_interval (%s)", s.AckBudget, s.HeartbeatInterval)
	}
	if s.MaxTiles < 0 {
		return fmt.Errorf("session.max_tiles must not be negative")
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if cfg.State.Retention < 0 {
		return fmt.Errorf("state.retention must not be negative")
	}

	if matches := envVarPattern.FindStringSubmatch(cfg.API.Auth.APIKey); len(matches) > 1 {
		return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", matches[1])
	}
	for i, t := range cfg.API.Auth.Tokens {
		if t.Token == "" {
			return fmt.Errorf("api.auth.tokens[%d]: token is required", i)
		}
		if matches := envVarPattern.FindStringSubmatch(t.Token); len(matches) > 1 {
			return fmt.Errorf("api.auth.tokens[%d]: environment variable ${%s} is not set", i, matches[1])
		}
		if len(t.Scopes) == 0 {
			return fmt.Errorf("api.auth.tokens[%d]: at least one scope is required", i)
		}
	}

	seen := make(map[string]bool, len(cfg.Commands.Registered))
	for i, name := range cfg.Commands.Registered {
		if name == "" {
			return fmt.Errorf("commands.registered[%d] is empty", i)
		}
		if seen[name] {
			return fmt.Errorf("commands.registered: duplicate command %q", name)
		}
		seen[name] = true
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}

	return nil
}
