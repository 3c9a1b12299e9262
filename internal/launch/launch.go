// Package launch carries launch requests from delivered responses to the
// app host. Requests are fire-and-forget; nothing waits on the app.
package launch

import (
	"log/slog"

	"github.com/mattjoyce/voicecmd/internal/log"
)

// EventLaunch is the hub event type for launch requests.
const EventLaunch = "app.launch"

// Request is the payload of an app.launch event.
type Request struct {
	SessionID string `json:"session_id"`
	Argument  string `json:"argument"`
}

// Publisher is satisfied by *events.Hub.
type Publisher interface {
	Publish(eventType string, data any)
}

// HubLauncher publishes launch requests on the event hub, where host
// bridges subscribed to app.launch pick them up.
type HubLauncher struct {
	pub    Publisher
	logger *slog.Logger
}

// NewHubLauncher creates a launcher over pub.
func NewHubLauncher(pub Publisher) *HubLauncher {
	return &HubLauncher{pub: pub, logger: log.WithComponent("launch")}
}

// Launch implements session.Launcher.
func (l *HubLauncher) Launch(sessionID, arg string) {
	l.logger.Info("launch requested", "session_id", sessionID, "argument", arg)
	l.pub.Publish(EventLaunch, Request{SessionID: sessionID, Argument: arg})
}
