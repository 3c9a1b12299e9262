package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr bool
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
service:
  log_level: debug
state:
  path: ./test.db
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.LogLevel != "debug" {
					t.Error("log_level not parsed")
				}
				if cfg.State.Path != "./test.db" {
					t.Error("state.path not parsed")
				}
				if cfg.Session.AckBudget != 500*time.Millisecond {
					t.Errorf("default ack_budget not applied, got %s", cfg.Session.AckBudget)
				}
				if cfg.Session.HeartbeatInterval != 5*time.Second {
					t.Error("default heartbeat_interval not applied")
				}
				if cfg.Session.MaxTiles != 5 {
					t.Error("default max_tiles not applied")
				}
				if cfg.Locale.Default != "en-US" {
					t.Error("default locale not applied")
				}
			},
		},
		{
			name: "session timings",
			yaml: `
session:
  ack_budget: 250ms
  heartbeat_interval: 2s
  grace_period: 1s
  max_tiles: 3
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Session.AckBudget != 250*time.Millisecond {
					t.Error("ack_budget not parsed")
				}
				if cfg.Session.HeartbeatInterval != 2*time.Second {
					t.Error("heartbeat_interval not parsed")
				}
				if cfg.Session.GracePeriod != time.Second {
					t.Error("grace_period not parsed")
				}
				if cfg.Session.MaxTiles != 3 {
					t.Error("max_tiles not parsed")
				}
			},
		},
		{
			name: "env interpolation",
			yaml: `
api:
  enabled: true
  auth:
    api_key: ${TEST_VOICECMD_KEY}
`,
			env: map[string]string{"TEST_VOICECMD_KEY": "secret-123"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.API.Auth.APIKey != "secret-123" {
					t.Errorf("api_key = %q, want secret-123", cfg.API.Auth.APIKey)
				}
			},
		},
		{
			name: "env override beats yaml",
			yaml: `
service:
  log_level: info
locale:
  default: en-US
`,
			env: map[string]string{"VOICECMD_LOG_LEVEL": "warn", "VOICECMD_LOCALE": "es-ES"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.LogLevel != "warn" {
					t.Errorf("log_level = %q, want warn", cfg.Service.LogLevel)
				}
				if cfg.Locale.Default != "es-ES" {
					t.Errorf("locale = %q, want es-ES", cfg.Locale.Default)
				}
			},
		},
		{
			name: "registered commands",
			yaml: `
commands:
  registered: [openBible, thankYouBible, openBibleTo]
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if len(cfg.Commands.Registered) != 3 {
					t.Fatalf("registered = %v", cfg.Commands.Registered)
				}
				if cfg.Commands.Registered[2] != "openBibleTo" {
					t.Error("registered order not preserved")
				}
			},
		},
		{
			name: "unset api key placeholder rejected",
			yaml: `
api:
  enabled: true
  auth:
    api_key: ${TEST_VOICECMD_MISSING_KEY}
`,
			wantErr: true,
		},
		{
			name: "scoped tokens",
			yaml: `
api:
  auth:
    tokens:
      - token: host-secret
        scopes: [host]
      - token: ops-secret
        scopes: [sessions:rw, events:ro]
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if len(cfg.API.Auth.Tokens) != 2 {
					t.Fatalf("tokens = %+v", cfg.API.Auth.Tokens)
				}
				if cfg.API.Auth.Tokens[1].Scopes[1] != "events:ro" {
					t.Errorf("scopes not parsed: %+v", cfg.API.Auth.Tokens[1])
				}
			},
		},
		{
			name: "token without scopes rejected",
			yaml: `
api:
  auth:
    tokens:
      - token: lonely
`,
			wantErr: true,
		},
		{
			name: "ack budget must be shorter than heartbeat",
			yaml: `
session:
  ack_budget: 6s
  heartbeat_interval: 5s
`,
			wantErr: true,
		},
		{
			name: "invalid log level",
			yaml: `
service:
  log_level: chatty
`,
			wantErr: true,
		},
		{
			name: "invalid log format",
			yaml: `
service:
  log_format: xml
`,
			wantErr: true,
		},
		{
			name: "duplicate registered command",
			yaml: `
commands:
  registered: [openBible, openBible]
`,
			wantErr: true,
		},
		{
			name: "telemetry without endpoint",
			yaml: `
telemetry:
  enabled: true
`,
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			yaml:    "service: [unclosed",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}

			cfg, err := Load(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.checkFn != nil && err == nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("service:\n  name: from-dir\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir) failed: %v", err)
	}
	if cfg.Service.Name != "from-dir" {
		t.Errorf("service.name = %q, want from-dir", cfg.Service.Name)
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.Service.Name != "voicecmd" {
		t.Errorf("service.name = %q", cfg.Service.Name)
	}
	if cfg.Session.GracePeriod != 2*time.Second {
		t.Errorf("grace_period = %s", cfg.Session.GracePeriod)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDiscover(t *testing.T) {
	t.Run("env var wins", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "custom.yaml")
		if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("VOICECMD_CONFIG", path)

		got, err := Discover()
		if err != nil {
			t.Fatalf("Discover() failed: %v", err)
		}
		if got != path {
			t.Errorf("Discover() = %q, want %q", got, path)
		}
	})

	t.Run("nothing found", func(t *testing.T) {
		t.Setenv("VOICECMD_CONFIG", "")
		t.Setenv("HOME", t.TempDir())
		t.Chdir(t.TempDir())

		if _, err := Discover(); err == nil {
			t.Fatal("expected ErrNoConfig")
		}
	})
}
