package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/voicecmd/internal/config"
	"github.com/mattjoyce/voicecmd/internal/doctor"
	"github.com/mattjoyce/voicecmd/internal/handlers"
	"github.com/mattjoyce/voicecmd/internal/i18n"
)

const redacted = "********"

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}

	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: voicecmd config <action>")
	fmt.Fprintln(w, "Actions: check, show")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: voicecmd config check [--config PATH] [--json] [--strict]")
	fmt.Println()
	fmt.Println("Validate configuration, session timings, catalogs and command drift.")
	fmt.Println("With --strict, warnings also fail the check.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: voicecmd config show [--config PATH] [--json] [--hash]")
	fmt.Println()
	fmt.Println("Print the effective configuration after defaults and environment")
	fmt.Println("overrides. Secrets are redacted. --hash prints only its BLAKE3 hash.")
}

func runConfigCheck(args []string) int {
	fs := pflag.NewFlagSet("check", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	registry, err := handlers.NewRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Registry error: %v\n", err)
		return 1
	}
	catalog, err := i18n.Load(cfg.Locale.CatalogDir, cfg.Locale.Default)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Catalog error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, registry, catalog).Validate()

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid || (*strict && len(result.Warnings) > 0) {
		return 1
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := pflag.NewFlagSet("show", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	hashOnly := fs.Bool("hash", false, "Print only the BLAKE3 hash of the effective configuration")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, resolved, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	hash, err := cfg.Hash()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Hash error: %v\n", err)
		return 1
	}
	if *hashOnly {
		fmt.Println(hash)
		return 0
	}

	shown := redact(cfg)

	if *jsonOut {
		data, _ := json.MarshalIndent(map[string]any{
			"source": resolved,
			"hash":   hash,
			"config": shown,
		}, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	if resolved == "" {
		resolved = "(defaults)"
	}
	data, _ := yaml.Marshal(shown)
	fmt.Printf("# source: %s\n# blake3: %s\n", resolved, hash)
	fmt.Print(string(data))
	return 0
}

// redact returns a copy of cfg with secrets masked.
func redact(cfg *config.Config) *config.Config {
	c := *cfg
	if c.API.Auth.APIKey != "" {
		c.API.Auth.APIKey = redacted
	}
	tokens := make([]config.TokenConfig, len(cfg.API.Auth.Tokens))
	for i, t := range cfg.API.Auth.Tokens {
		tokens[i] = config.TokenConfig{Token: redacted, Scopes: t.Scopes}
	}
	c.API.Auth.Tokens = tokens
	return &c
}
