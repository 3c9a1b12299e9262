// Package intent defines the values that flow between the host transport, the
// dispatcher and command handlers: the invocation a host delivers and the
// outcome a handler returns.
package intent

import "context"

// Invocation is one recognized voice command as delivered by the host.
// It is never mutated after construction.
type Invocation struct {
	CommandName string              `json:"command_name"`
	Arguments   map[string][]string `json:"arguments,omitempty"`
	SessionID   string              `json:"session_id"`
	Locale      string              `json:"locale,omitempty"`
}

// Arg returns the first value recorded for a slot, or "".
func (i Invocation) Arg(name string) string {
	if vals := i.Arguments[name]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Tile is one entry in a result list shown by the assistant.
type Tile struct {
	Title     string   `json:"title"`
	ImageRef  string   `json:"image_ref,omitempty"`
	Lines     []string `json:"lines,omitempty"`
	LaunchArg string   `json:"launch_argument,omitempty"`
}

// Outcome is what a handler produces. The set of variants is closed:
// Success, Failure and NeedsMoreInfo.
type Outcome interface {
	outcome()
}

// Success is a completed command.
type Success struct {
	Spoken  string
	Display string
	// LaunchArg, when non-nil, asks the host to launch the app with this
	// argument. The empty string is a valid argument.
	LaunchArg *string
	Tiles     []Tile
}

// Failure is a command that could not be completed.
type Failure struct {
	Reason string
}

// NeedsMoreInfo asks the user for a missing slot.
type NeedsMoreInfo struct {
	Prompt string
}

func (Success) outcome()       {}
func (Failure) outcome()       {}
func (NeedsMoreInfo) outcome() {}

// Launch returns a pointer to arg for Success.LaunchArg.
func Launch(arg string) *string {
	return &arg
}

// Templates resolves message keys for one locale.
type Templates interface {
	Lookup(key string) (string, bool)
}

// Reporter lets a handler push an intermediate progress message to the host.
type Reporter interface {
	Report(display, spoken string)
}

// Call is a handler's view of the session it runs in.
type Call struct {
	Invocation Invocation
	Text       Templates
	Progress   Reporter
}

// Handler executes one command. Handlers must return promptly once ctx is
// done; the session abandons them after the grace period regardless.
type Handler interface {
	Handle(ctx context.Context, call *Call) (Outcome, error)
}

// Message returns the template for key, or key itself when it is missing.
func (c *Call) Message(key string) string {
	if c.Text != nil {
		if s, ok := c.Text.Lookup(key); ok {
			return s
		}
	}
	return key
}

// Report forwards a progress message if the call has a reporter.
func (c *Call) Report(display, spoken string) {
	if c.Progress != nil {
		c.Progress.Report(display, spoken)
	}
}
