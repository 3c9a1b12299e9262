package launch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/voicecmd/internal/events"
)

func TestHubLauncherPublishes(t *testing.T) {
	hub := events.NewHub(4)
	ch, cancel := hub.SubscribePrefix("app.")
	defer cancel()

	NewHubLauncher(hub).Launch("s1", "")

	select {
	case ev := <-ch:
		assert.Equal(t, EventLaunch, ev.Type)
		var req Request
		require.NoError(t, ev.Decode(&req))
		assert.Equal(t, Request{SessionID: "s1", Argument: ""}, req)
	case <-time.After(time.Second):
		t.Fatal("no launch event")
	}
}
