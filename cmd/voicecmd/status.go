package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/mattjoyce/voicecmd/internal/config"
	"github.com/mattjoyce/voicecmd/internal/i18n"
	"github.com/mattjoyce/voicecmd/internal/lock"
	"github.com/mattjoyce/voicecmd/internal/sessionlog"
	"github.com/mattjoyce/voicecmd/internal/storage"
)

type statusCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

type statusReport struct {
	Healthy bool          `json:"healthy"`
	Running bool          `json:"running"`
	PID     int           `json:"pid,omitempty"`
	Checks  []statusCheck `json:"checks"`
}

func (r *statusReport) add(name string, ok bool, detail string) {
	r.Checks = append(r.Checks, statusCheck{Name: name, OK: ok, Detail: detail})
	if !ok {
		r.Healthy = false
	}
}

func runSystemStatus(args []string) int {
	fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	report := collectStatus(*configPath)

	if *jsonOut {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		for _, c := range report.Checks {
			mark := "OK"
			if !c.OK {
				mark = "FAIL"
			}
			fmt.Printf("%s: %s", c.Name, mark)
			if c.Detail != "" {
				fmt.Printf(" (%s)", c.Detail)
			}
			fmt.Println()
		}
	}

	if !report.Healthy {
		return 1
	}
	return 0
}

func collectStatus(configPath string) *statusReport {
	report := &statusReport{Healthy: true}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		report.add("config_load", false, err.Error())
		report.add("state_db", false, "skipped: config not loaded")
		report.add("pid_lock", false, "skipped: config not loaded")
		report.add("catalog", false, "skipped: config not loaded")
		return report
	}
	if resolved == "" {
		resolved = "defaults"
	}
	report.add("config_load", true, resolved)

	ok, detail := checkStateDB(cfg)
	report.add("state_db", ok, detail)

	pid, held, err := lock.Held(lock.PathFor(cfg.State.Path))
	switch {
	case err != nil:
		report.add("pid_lock", false, err.Error())
	case held:
		report.Running = true
		report.PID = pid
		report.add("pid_lock", true, fmt.Sprintf("daemon running, pid %d", pid))
	default:
		report.add("pid_lock", true, "daemon not running")
	}

	catalog, err := i18n.Load(cfg.Locale.CatalogDir, cfg.Locale.Default)
	if err != nil {
		report.add("catalog", false, err.Error())
	} else {
		report.add("catalog", true, strings.Join(catalog.Locales(), ", "))
	}

	return report
}

// checkStateDB opens the session log read-side. A missing file is fine: the
// daemon creates it on first start.
func checkStateDB(cfg *config.Config) (bool, string) {
	if _, err := os.Stat(cfg.State.Path); errors.Is(err, os.ErrNotExist) {
		return true, "not created yet"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return false, err.Error()
	}
	defer db.Close()

	counts, err := sessionlog.New(db).Counts(ctx)
	if err != nil {
		return false, err.Error()
	}
	total := 0
	parts := make([]string, 0, len(counts))
	for st, n := range counts {
		total += n
		parts = append(parts, fmt.Sprintf("%s=%d", st, n))
	}
	sort.Strings(parts)
	if total == 0 {
		return true, "no sessions logged"
	}
	return true, fmt.Sprintf("%d sessions logged: %s", total, strings.Join(parts, " "))
}
