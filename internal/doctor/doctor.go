// Package doctor validates voicecmd configuration against the command table
// and message catalogs.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/mattjoyce/voicecmd/internal/auth"
	"github.com/mattjoyce/voicecmd/internal/config"
	"github.com/mattjoyce/voicecmd/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Commands is the dispatcher view the doctor needs.
type Commands interface {
	Names() []string
	Known(name string) bool
}

// Locales is the catalog view the doctor needs.
type Locales interface {
	Locales() []string
	HasLocale(locale string) bool
	Keys(locale string) []string
}

// Doctor validates configuration against the loaded handlers and catalogs.
type Doctor struct {
	cfg      *config.Config
	commands Commands
	locales  Locales
}

// New creates a Doctor from a loaded config, command registry and catalog.
func New(cfg *config.Config, commands Commands, locales Locales) *Doctor {
	return &Doctor{cfg: cfg, commands: commands, locales: locales}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateSessionTimings(r)
	d.validateStatePath(r)
	d.validateAPIConfig(r)
	d.validateLocales(r)
	d.warnCommandDrift(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateServiceConfig checks required service fields.
func (d *Doctor) validateServiceConfig(r *Result) {
	if d.cfg.Service.Name == "" {
		d.addError(r, "service", "service.name", "service name is required")
	}
	if d.cfg.State.Path == "" {
		d.addError(r, "service", "state.path", "state.path is required")
	}
}

// validateSessionTimings checks the host contract budgets relative to each other.
func (d *Doctor) validateSessionTimings(r *Result) {
	s := d.cfg.Session
	if s.AckBudget <= 0 {
		d.addError(r, "session", "session.ack_budget", "ack_budget must be positive")
	}
	if s.HeartbeatInterval <= 0 {
		d.addError(r, "session", "session.heartbeat_interval", "heartbeat_interval must be positive")
	}
	if s.AckBudget > 0 && s.HeartbeatInterval > 0 && s.AckBudget >= s.HeartbeatInterval {
		d.addError(r, "session", "session.ack_budget",
			fmt.Sprintf("ack_budget %s must be shorter than heartbeat_interval %s", s.AckBudget, s.HeartbeatInterval))
	}
	if s.SendTimeout > s.HeartbeatInterval {
		d.addWarning(r, "session", "session.send_timeout",
			fmt.Sprintf("send_timeout %s exceeds heartbeat_interval %s; a stuck send delays the next heartbeat", s.SendTimeout, s.HeartbeatInterval))
	}
	if s.GracePeriod > s.HeartbeatInterval {
		d.addWarning(r, "session", "session.grace_period",
			fmt.Sprintf("grace_period %s exceeds heartbeat_interval %s", s.GracePeriod, s.HeartbeatInterval))
	}
	if s.MaxTiles == 0 {
		d.addWarning(r, "session", "session.max_tiles", "max_tiles is 0; responses will never carry tiles")
	}
}

// validateStatePath rejects network filesystems for the session log.
func (d *Doctor) validateStatePath(r *Result) {
	if d.cfg.State.Path == "" || d.cfg.State.Path == ":memory:" {
		return
	}
	if err := storage.CheckLocalFilesystem(d.cfg.State.Path); err != nil {
		d.addError(r, "state", "state.path", err.Error())
	}
}

// validateAPIConfig checks the HTTP surface. The listener always runs
// because the host socket is served from it.
func (d *Doctor) validateAPIConfig(r *Result) {
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "listen address is required")
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth.api_key", "no api_key or tokens configured; the API and host socket are unauthenticated")
	}
	hostTokens := 0
	for i, t := range d.cfg.API.Auth.Tokens {
		for _, scope := range t.Scopes {
			if !auth.IsKnownScope(scope) {
				d.addError(r, "api", fmt.Sprintf("api.auth.tokens[%d].scopes", i), fmt.Sprintf("unknown scope %q", scope))
			}
			if scope == auth.ScopeHost || scope == auth.ScopeAll {
				hostTokens++
			}
		}
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) > 0 && hostTokens == 0 {
		d.addWarning(r, "api", "api.auth.tokens", "no token carries the host scope; the assistant cannot attach to /ws")
	}
	if slices.Contains(d.cfg.API.CORSOrigins, "*") {
		d.addWarning(r, "api", "api.cors_origins", "wildcard CORS origin allows any site to call the API")
	}
}

// validateLocales checks the default locale exists and every other locale
// covers its keys.
func (d *Doctor) validateLocales(r *Result) {
	def := d.cfg.Locale.Default
	if !d.locales.HasLocale(def) {
		d.addError(r, "locale", "locale.default",
			fmt.Sprintf("default locale %q has no catalog (have: %s)", def, strings.Join(d.locales.Locales(), ", ")))
		return
	}

	want := d.locales.Keys(def)
	for _, loc := range d.locales.Locales() {
		if loc == def {
			continue
		}
		have := d.locales.Keys(loc)
		var missing []string
		for _, k := range want {
			if !slices.Contains(have, k) {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			d.addWarning(r, "locale", "locale."+loc,
				fmt.Sprintf("missing %d key(s), falling back to %s: %s", len(missing), def, strings.Join(missing, ", ")))
		}
	}
}

// warnCommandDrift compares the grammar's registered commands with the
// handler table. Either direction is a warning: unknown commands still get
// the fallback answer.
func (d *Doctor) warnCommandDrift(r *Result) {
	registered := d.cfg.Commands.Registered
	if len(registered) == 0 {
		return
	}
	for _, name := range registered {
		if !d.commands.Known(name) {
			d.addWarning(r, "commands", "commands.registered",
				fmt.Sprintf("command %q has no handler; the fallback will answer it", name))
		}
	}
	for _, name := range d.commands.Names() {
		if !slices.Contains(registered, name) {
			d.addWarning(r, "commands", "commands.registered",
				fmt.Sprintf("handler %q is not registered with the assistant grammar", name))
		}
	}
}

// warnMissingEnvVars warns about ${VAR} references where VAR is not set.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	envVarRe := regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

	fields := map[string]string{
		"api.auth.api_key":   d.cfg.API.Auth.APIKey,
		"telemetry.endpoint": d.cfg.Telemetry.Endpoint,
		"locale.catalog_dir": d.cfg.Locale.CatalogDir,
		"state.path":         d.cfg.State.Path,
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, field := range keys {
		for _, m := range envVarRe.FindAllStringSubmatch(fields[field], -1) {
			if os.Getenv(m[1]) == "" {
				d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
