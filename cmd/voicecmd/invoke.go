package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/mattjoyce/voicecmd/internal/intent"
	"github.com/mattjoyce/voicecmd/internal/protocol"
	"github.com/mattjoyce/voicecmd/internal/transport"
)

func printInvokeHelp() {
	fmt.Println("Usage: voicecmd invoke <command> [flags]")
	fmt.Println()
	fmt.Println("Play the assistant host: send one recognized command to a running daemon")
	fmt.Println("over its WebSocket and print every message of the session.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --arg SLOT=VALUE   Slot value, repeatable")
	fmt.Println("  --locale TAG       BCP-47 locale (default: daemon default)")
	fmt.Println("  --session-id ID    Session ID (default: random)")
	fmt.Println("  --url URL          WebSocket URL (default: ws://127.0.0.1:8090/ws)")
	fmt.Println("  --api-key KEY      Bearer token (default: $VOICECMD_API_KEY)")
	fmt.Println("  --timeout DUR      Give up after DUR (default: 30s)")
	fmt.Println("  --json             Print messages as JSON lines")
}

// parseSlots turns repeated SLOT=VALUE flags into invocation arguments,
// keeping the order of repeated slots.
func parseSlots(raw []string) (map[string][]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string][]string, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --arg %q (want SLOT=VALUE)", kv)
		}
		out[name] = append(out[name], value)
	}
	return out, nil
}

func runInvoke(args []string) int {
	fs := pflag.NewFlagSet("invoke", pflag.ContinueOnError)
	slots := fs.StringArrayP("arg", "a", nil, "Slot value as SLOT=VALUE (repeatable)")
	locale := fs.StringP("locale", "l", "", "BCP-47 locale")
	sessionID := fs.String("session-id", "", "Session ID")
	url := fs.String("url", "ws://127.0.0.1:8090/ws", "WebSocket URL")
	apiKey := fs.String("api-key", os.Getenv("VOICECMD_API_KEY"), "API Bearer Token")
	timeout := fs.Duration("timeout", 30*time.Second, "Overall timeout")
	retries := fs.Uint64("retries", 3, "Connection attempts after the first")
	jsonOut := fs.Bool("json", false, "Print messages as JSON lines")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: voicecmd invoke <command> [flags]")
		return 1
	}

	arguments, err := parseSlots(*slots)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	inv := intent.Invocation{
		CommandName: fs.Arg(0),
		Arguments:   arguments,
		SessionID:   *sessionID,
		Locale:      *locale,
	}
	if inv.SessionID == "" {
		inv.SessionID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	client, err := transport.Dial(ctx, *url, transport.DialOptions{Token: *apiKey, MaxRetries: *retries})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connect error: %v\n", err)
		return 1
	}
	defer client.Close()

	final, err := client.Invoke(ctx, inv, func(m *protocol.Message) {
		printMessage(m, *jsonOut)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			_ = client.Cancel(inv.SessionID, "cancelled by user")
			fmt.Fprintf(os.Stderr, "Session %s cancelled: %v\n", inv.SessionID, err)
			return 130
		}
		fmt.Fprintf(os.Stderr, "Invoke error: %v\n", err)
		return 1
	}

	if final.Error != "" {
		return 1
	}
	return 0
}

func printMessage(m *protocol.Message, asJSON bool) {
	if asJSON {
		data, _ := json.Marshal(m)
		fmt.Println(string(data))
		return
	}

	switch m.Type {
	case protocol.MessageAck:
		fmt.Printf("[%d] ack: %s\n", m.Seq, m.DisplayText)
	case protocol.MessageHeartbeat:
		fmt.Printf("[%d] heartbeat\n", m.Seq)
	case protocol.MessageProgress:
		fmt.Printf("[%d] progress: %s\n", m.Seq, m.DisplayText)
	case protocol.MessageResponse:
		fmt.Printf("[%d] response (%s)\n", m.Seq, m.Outcome)
		if m.SpokenText != "" {
			fmt.Printf("  spoken:  %s\n", m.SpokenText)
		}
		if m.DisplayText != "" {
			fmt.Printf("  display: %s\n", m.DisplayText)
		}
		if m.LaunchArgument != nil {
			fmt.Printf("  launch:  %q\n", *m.LaunchArgument)
		}
		for _, tile := range m.Tiles {
			fmt.Printf("  tile:    %s\n", tile.Title)
		}
		if m.AwaitingInput {
			fmt.Println("  awaiting input")
		}
		if m.Error != "" {
			fmt.Printf("  error:   %s\n", m.Error)
		}
	}
}
