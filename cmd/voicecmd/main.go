package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/mattjoyce/voicecmd/internal/api"
	"github.com/mattjoyce/voicecmd/internal/auth"
	"github.com/mattjoyce/voicecmd/internal/config"
	"github.com/mattjoyce/voicecmd/internal/events"
	"github.com/mattjoyce/voicecmd/internal/handlers"
	"github.com/mattjoyce/voicecmd/internal/i18n"
	"github.com/mattjoyce/voicecmd/internal/launch"
	"github.com/mattjoyce/voicecmd/internal/lock"
	"github.com/mattjoyce/voicecmd/internal/log"
	"github.com/mattjoyce/voicecmd/internal/session"
	"github.com/mattjoyce/voicecmd/internal/sessionlog"
	"github.com/mattjoyce/voicecmd/internal/storage"
	"github.com/mattjoyce/voicecmd/internal/telemetry"
	"github.com/mattjoyce/voicecmd/internal/transport"
	"github.com/mattjoyce/voicecmd/internal/tui/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "invoke":
		if hasHelpFlag(args) {
			printInvokeHelp()
			return 0
		}
		return runInvoke(args)

	// Root aliases.
	case "start":
		return runStart(args)
	case "doctor":
		return runConfigCheck(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := pflag.NewFlagSet("version", pflag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: voicecmd version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("voicecmd %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`voicecmd - Voice command bridge for the assistant host

Usage:
  voicecmd <noun> <action> [flags]

Nouns:
  system    Daemon lifecycle (start, status, watch)
  config    Configuration (check, show)

Commands:
  invoke    Send one voice command to a running daemon
  version   Show version information

Examples:
  voicecmd system start --config ./config.yaml
  voicecmd invoke openBibleToBook --arg book=John
  voicecmd config check --json

Run 'voicecmd <noun> help' for the actions of a noun.
`)
}

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: voicecmd system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

func printSystemStartHelp() {
	fmt.Println("Usage: voicecmd system start [--config PATH] [--env FILE]")
	fmt.Println()
	fmt.Println("Run the daemon in the foreground. The host connects to /ws on api.listen.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: voicecmd system status [--config PATH] [--json]")
	fmt.Println()
	fmt.Println("Check the config, session log and PID lock without starting the daemon.")
	fmt.Println("Exit code is 0 when every check passes.")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: voicecmd system watch [flags]")
	fmt.Println()
	fmt.Println("Live view of sessions, heartbeats and launches.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Daemon URL (default: http://127.0.0.1:8090)")
	fmt.Println("  --api-key KEY    Bearer token (default: $VOICECMD_API_KEY)")
}

// loadConfig resolves configPath (or discovers one) and loads it. With no
// file anywhere, defaults plus environment apply and the returned path is "".
func loadConfig(configPath string) (*config.Config, string, error) {
	if configPath == "" {
		discovered, err := config.Discover()
		switch {
		case errors.Is(err, config.ErrNoConfig):
		case err != nil:
			return nil, "", err
		default:
			configPath = discovered
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, err
	}
	return cfg, configPath, nil
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		AckBudget:         cfg.Session.AckBudget,
		HeartbeatInterval: cfg.Session.HeartbeatInterval,
		GracePeriod:       cfg.Session.GracePeriod,
		SendTimeout:       cfg.Session.SendTimeout,
		RetryBackoff:      cfg.Session.RetryBackoff,
		MaxTiles:          cfg.Session.MaxTiles,
	}
}

func runStart(args []string) int {
	fs := pflag.NewFlagSet("start", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "Path to configuration file")
	envFile := fs.StringP("env", "e", ".env", "Env file path")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load(*envFile)

	cfg, resolved, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	if resolved == "" {
		resolved = "(defaults)"
	}
	logger.Info("voicecmd starting", "version", version, "config", resolved)

	pidLockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Service.Name, version, cfg.Telemetry.Enabled, cfg.Telemetry.Endpoint)
	if err != nil {
		logger.Error("failed to set up tracing", "endpoint", cfg.Telemetry.Endpoint, "error", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	sessions := sessionlog.New(db)
	if cfg.State.Retention > 0 {
		go pruneSessions(ctx, sessions, cfg.State.Retention, logger)
	}

	hub := events.NewHub(256)

	catalog, err := i18n.Load(cfg.Locale.CatalogDir, cfg.Locale.Default)
	if err != nil {
		logger.Error("failed to load message catalog", "dir", cfg.Locale.CatalogDir, "error", err)
		return 1
	}
	logger.Info("message catalog loaded", "locales", catalog.Locales(), "default", cfg.Locale.Default)
	if cfg.Locale.Watch {
		go watchCatalog(ctx, catalog, hub, logger)
	}

	registry, err := handlers.NewRegistry()
	if err != nil {
		logger.Error("failed to build command registry", "error", err)
		return 1
	}
	logger.Info("command registry ready", "commands", registry.Names(), "fingerprint", registry.Fingerprint())
	for _, name := range cfg.Commands.Registered {
		if !registry.Known(name) {
			logger.Warn("registered command has no handler, it will use the fallback", "command", name)
		}
	}

	controller := session.NewController(registry, catalog, sessionConfig(cfg),
		session.WithLauncher(launch.NewHubLauncher(hub)),
		session.WithRecorder(sessions),
		session.WithPublisher(hub),
		session.WithLogger(log.WithComponent("session")),
	)

	host := transport.NewServer(controller, transport.Config{}, log.WithComponent("transport"))

	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{
			Token:  t.Token,
			Scopes: t.Scopes,
		})
	}
	apiServer := api.New(api.Config{
		Listen:      cfg.API.Listen,
		APIKey:      cfg.API.Auth.APIKey,
		Tokens:      tokens,
		CORSOrigins: cfg.API.CORSOrigins,
		HostOnly:    !cfg.API.Enabled,
	}, controller, registry, sessions, hub, host, log.WithComponent("api"))

	logger.Info("voicecmd running (press Ctrl+C to stop)", "listen", cfg.API.Listen, "operator_api", cfg.API.Enabled)

	err = apiServer.Start(ctx)
	host.Close()
	host.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server failed", "error", err)
		return 1
	}

	logger.Info("voicecmd stopped")
	return 0
}

// pruneSessions trims the session log once at startup and then hourly.
func pruneSessions(ctx context.Context, sessions *sessionlog.Store, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		n, err := sessions.Prune(ctx, retention)
		if err != nil && ctx.Err() == nil {
			logger.Warn("session log prune failed", "error", err)
		} else if n > 0 {
			logger.Info("pruned session log", "removed", n, "retention", retention)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func watchCatalog(ctx context.Context, catalog *i18n.Catalog, hub *events.Hub, logger *slog.Logger) {
	err := catalog.Watch(ctx, func(err error) {
		if err != nil {
			logger.Warn("catalog reload failed, keeping previous messages", "error", err)
			return
		}
		logger.Info("catalog reloaded", "locales", catalog.Locales())
		hub.Publish("catalog.reloaded", map[string]any{"locales": len(catalog.Locales())})
	})
	if err != nil {
		logger.Warn("catalog watch stopped", "error", err)
	}
}

func runWatch(args []string) int {
	fs := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8090", "Daemon URL")
	apiKey := fs.String("api-key", os.Getenv("VOICECMD_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	m := watch.New(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
