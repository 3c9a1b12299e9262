package protocol

import (
	"github.com/mattjoyce/voicecmd/internal/intent"
)

// Inbound envelope types.
const (
	TypeInvoke = "invoke"
	TypeCancel = "cancel"
)

// MessageType identifies an outbound message.
type MessageType string

const (
	// MessageAck is sent by the service when the handler has not said
	// anything before the acknowledgment budget runs short.
	MessageAck MessageType = "ack"
	// MessageHeartbeat is a liveness tick from the heartbeat emitter.
	MessageHeartbeat MessageType = "heartbeat"
	// MessageProgress is an intermediate message reported by a handler.
	MessageProgress MessageType = "progress"
	// MessageResponse is the final response of a session. At most one per session.
	MessageResponse MessageType = "response"
)

// Envelope is a message from the host: an invocation or a cancellation.
type Envelope struct {
	Type       string             `json:"type"` // invoke | cancel
	Invocation *intent.Invocation `json:"invocation,omitempty"`
	SessionID  string             `json:"session_id,omitempty"` // cancel only
	Reason     string             `json:"reason,omitempty"`     // cancel only
}

// Message is sent to the host.
type Message struct {
	Type           MessageType   `json:"type"`
	SessionID      string        `json:"session_id"`
	Seq            int           `json:"seq"`
	DisplayText    string        `json:"display_text,omitempty"`
	SpokenText     string        `json:"spoken_text,omitempty"`
	LaunchArgument *string       `json:"launch_argument,omitempty"`
	Tiles          []intent.Tile `json:"tiles,omitempty"`
	Outcome        string        `json:"outcome,omitempty"` // response only: success | failure | needs_more_info
	AwaitingInput  bool          `json:"awaiting_input,omitempty"`
	Error          string        `json:"error,omitempty"` // response only: error code when the session failed
}

// IsFinal reports whether m ends its session.
func (m *Message) IsFinal() bool {
	return m.Type == MessageResponse
}
