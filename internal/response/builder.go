// Package response turns a handler outcome into the immutable response the
// host renders. Building is pure: the same outcome and templates always
// produce the same Rendered value.
package response

import (
	"strings"

	"github.com/mattjoyce/voicecmd/internal/intent"
)

// DefaultMaxTiles is the host's limit on result tiles per response.
const DefaultMaxTiles = 5

// Template keys the builder reads.
const (
	KeyApology = "voice.apology"
)

const fallbackApology = "Sorry, something went wrong."

// Kind classifies a rendered response.
type Kind string

const (
	KindSuccess       Kind = "success"
	KindFailure       Kind = "failure"
	KindNeedsMoreInfo Kind = "needs_more_info"
)

// Rendered is a fully built response. Tiles is never longer than the
// builder's limit.
type Rendered struct {
	Kind          Kind
	Spoken        string
	Display       string
	LaunchArg     *string
	Tiles         []intent.Tile
	AwaitingInput bool
}

// Builder renders outcomes.
type Builder struct {
	text     intent.Templates
	maxTiles int
}

// Option configures a Builder.
type Option func(*Builder)

// WithMaxTiles overrides DefaultMaxTiles. Values below zero are ignored.
func WithMaxTiles(n int) Option {
	return func(b *Builder) {
		if n >= 0 {
			b.maxTiles = n
		}
	}
}

// New returns a Builder that reads fixed strings from text. text may be nil.
func New(text intent.Templates, opts ...Option) *Builder {
	b := &Builder{text: text, maxTiles: DefaultMaxTiles}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build renders an outcome. A nil outcome renders as a failure.
func (b *Builder) Build(outcome intent.Outcome) Rendered {
	switch o := outcome.(type) {
	case intent.Success:
		display := o.Display
		if display == "" {
			display = o.Spoken
		}
		var launch *string
		if o.LaunchArg != nil {
			launch = intent.Launch(*o.LaunchArg)
		}
		return Rendered{
			Kind:      KindSuccess,
			Spoken:    o.Spoken,
			Display:   display,
			LaunchArg: launch,
			Tiles:     b.tiles(o.Tiles),
		}

	case intent.NeedsMoreInfo:
		return Rendered{
			Kind:          KindNeedsMoreInfo,
			Spoken:        o.Prompt,
			Display:       o.Prompt,
			AwaitingInput: true,
		}

	default:
		// Failure reasons are for logs; the user hears the apology.
		apology := b.lookup(KeyApology, fallbackApology)
		return Rendered{
			Kind:    KindFailure,
			Spoken:  apology,
			Display: apology,
		}
	}
}

func (b *Builder) tiles(in []intent.Tile) []intent.Tile {
	if len(in) == 0 {
		return nil
	}
	n := min(len(in), b.maxTiles)
	if n == 0 {
		return nil
	}
	out := make([]intent.Tile, n)
	for i := range n {
		t := in[i]
		t.Lines = append([]string(nil), t.Lines...)
		out[i] = t
	}
	return out
}

func (b *Builder) lookup(key, fallback string) string {
	if b.text != nil {
		if s, ok := b.text.Lookup(key); ok && s != "" {
			return s
		}
	}
	return fallback
}

// Format replaces {name} placeholders in template with values from vars.
// Unknown placeholders are left as they are.
func Format(template string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(template, "{") {
		return template
	}
	var sb strings.Builder
	sb.Grow(len(template))
	for {
		open := strings.IndexByte(template, '{')
		if open < 0 {
			sb.WriteString(template)
			break
		}
		end := strings.IndexByte(template[open:], '}')
		if end < 0 {
			sb.WriteString(template)
			break
		}
		end += open
		name := template[open+1 : end]
		sb.WriteString(template[:open])
		if v, ok := vars[name]; ok {
			sb.WriteString(v)
		} else {
			sb.WriteString(template[open : end+1])
		}
		template = template[end+1:]
	}
	return sb.String()
}
