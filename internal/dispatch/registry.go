package dispatch

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/voicecmd/internal/intent"
)

// KeyLaunchingApp is the catalog key spoken by the default fallback.
const KeyLaunchingApp = "voice.launching_app"

// Route binds a command name to its handler.
type Route struct {
	Name    string
	Handler intent.Handler
}

// Registry resolves command names. It is read-only after New.
type Registry struct {
	routes   map[string]intent.Handler
	names    []string
	fallback intent.Handler
	sum      string
}

// New builds a registry. A nil fallback selects Fallback(). Empty or
// duplicate names and nil handlers are rejected.
func New(fallback intent.Handler, routes ...Route) (*Registry, error) {
	if fallback == nil {
		fallback = Fallback()
	}
	r := &Registry{
		routes:   make(map[string]intent.Handler, len(routes)),
		fallback: fallback,
	}
	for _, rt := range routes {
		if strings.TrimSpace(rt.Name) == "" {
			return nil, fmt.Errorf("command name cannot be empty")
		}
		if rt.Handler == nil {
			return nil, fmt.Errorf("command %q has no handler", rt.Name)
		}
		if _, exists := r.routes[rt.Name]; exists {
			return nil, fmt.Errorf("command %q already registered", rt.Name)
		}
		r.routes[rt.Name] = rt.Handler
		r.names = append(r.names, rt.Name)
	}
	sort.Strings(r.names)
	r.sum = r.fingerprint()
	return r, nil
}

// Resolve returns the handler for name, or the fallback. Never nil.
func (r *Registry) Resolve(name string) intent.Handler {
	if h, ok := r.routes[name]; ok {
		return h
	}
	return r.fallback
}

// Known reports whether name has its own handler.
func (r *Registry) Known(name string) bool {
	_, ok := r.routes[name]
	return ok
}

// Names returns the registered command names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// FallbackHandler returns the handler used for unknown names.
func (r *Registry) FallbackHandler() intent.Handler {
	return r.fallback
}

// Fingerprint is a BLAKE3 digest of the command table: names and handler
// types. Two processes with the same fingerprint dispatch identically.
func (r *Registry) Fingerprint() string {
	return r.sum
}

func (r *Registry) fingerprint() string {
	h := blake3.New()
	for _, name := range r.names {
		fmt.Fprintf(h, "%s=%T\n", name, r.routes[name])
	}
	fmt.Fprintf(h, "*=%T\n", r.fallback)
	return hex.EncodeToString(h.Sum(nil))
}

// Func wraps fn as a handler with a stable identity.
func Func(fn func(ctx context.Context, call *intent.Call) (intent.Outcome, error)) intent.Handler {
	return &funcHandler{fn: fn}
}

type funcHandler struct {
	fn func(ctx context.Context, call *intent.Call) (intent.Outcome, error)
}

func (f *funcHandler) Handle(ctx context.Context, call *intent.Call) (intent.Outcome, error) {
	return f.fn(ctx, call)
}

// Fallback returns the default handler for unknown commands: it offers to
// open the app and launches it with an empty argument.
func Fallback() intent.Handler {
	return &fallbackHandler{}
}

type fallbackHandler struct{}

func (fallbackHandler) Handle(_ context.Context, call *intent.Call) (intent.Outcome, error) {
	spoken := call.Message(KeyLaunchingApp)
	return intent.Success{
		Spoken:    spoken,
		Display:   spoken,
		LaunchArg: intent.Launch(""),
	}, nil
}
