// Package handlers holds the built-in voice commands.
package handlers

import (
	"context"
	"time"

	"github.com/mattjoyce/voicecmd/internal/dispatch"
	"github.com/mattjoyce/voicecmd/internal/intent"
	"github.com/mattjoyce/voicecmd/internal/response"
)

// Command names as registered with the assistant grammar.
const (
	CommandOpen       = "openBible"
	CommandThankYou   = "thankYouBible"
	CommandOpenToBook = "openBibleToBook"
)

// Catalog keys.
const (
	KeyLaunching     = "voice.launching"
	KeyThankYou      = "voice.thank_you"
	KeyOpeningToBook = "voice.opening_to_book"
	KeyWhichBook     = "voice.which_book"
)

// SlotBook is the argument carrying the requested book.
const SlotBook = "book"

// Routes returns the static command table.
func Routes() []dispatch.Route {
	return []dispatch.Route{
		{Name: CommandOpen, Handler: &Open{}},
		{Name: CommandThankYou, Handler: &ThankYou{}},
		{Name: CommandOpenToBook, Handler: &OpenToBook{}},
	}
}

// NewRegistry builds the dispatcher for the built-in commands with the
// default fallback.
func NewRegistry() (*dispatch.Registry, error) {
	return dispatch.New(dispatch.Fallback(), Routes()...)
}

// Open launches the app in the foreground.
type Open struct{}

func (*Open) Handle(_ context.Context, call *intent.Call) (intent.Outcome, error) {
	text := call.Message(KeyLaunching)
	return intent.Success{Spoken: text, Display: text, LaunchArg: intent.Launch("")}, nil
}

// ThankYou answers a compliment. Nothing is launched.
type ThankYou struct{}

func (*ThankYou) Handle(_ context.Context, call *intent.Call) (intent.Outcome, error) {
	text := call.Message(KeyThankYou)
	return intent.Success{Spoken: text, Display: text}, nil
}

// OpenToBook shows a progress message, then launches the app at the
// requested book. Delay simulates the lookup a real reader would do before
// navigating.
type OpenToBook struct {
	Delay time.Duration
}

func (h *OpenToBook) Handle(ctx context.Context, call *intent.Call) (intent.Outcome, error) {
	book := call.Invocation.Arg(SlotBook)
	if book == "" {
		return intent.NeedsMoreInfo{Prompt: call.Message(KeyWhichBook)}, nil
	}

	text := response.Format(call.Message(KeyOpeningToBook), map[string]string{SlotBook: book})
	call.Report(text, text)

	if h.Delay > 0 {
		t := time.NewTimer(h.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return intent.Success{Spoken: text, Display: text, LaunchArg: intent.Launch(book)}, nil
}
