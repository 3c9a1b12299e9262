package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mattjoyce/voicecmd/internal/intent"
	"github.com/mattjoyce/voicecmd/internal/response"
)

// EncodeMessage validates m, serializes it to JSON and writes it to w.
func EncodeMessage(w io.Writer, m *Message) error {
	if err := ValidateMessage(m); err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(m); err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return nil
}

// MarshalMessage is EncodeMessage into a byte slice without the trailing newline.
func MarshalMessage(m *Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeMessage(&buf, m); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ValidateMessage checks the fields a host relies on.
func ValidateMessage(m *Message) error {
	if m == nil {
		return fmt.Errorf("message is nil")
	}
	if m.SessionID == "" {
		return fmt.Errorf("message missing required field: session_id")
	}
	switch m.Type {
	case MessageAck, MessageHeartbeat, MessageProgress:
		if m.Outcome != "" || m.Error != "" {
			return fmt.Errorf("%s message must not carry an outcome", m.Type)
		}
	case MessageResponse:
		switch response.Kind(m.Outcome) {
		case response.KindSuccess, response.KindFailure, response.KindNeedsMoreInfo:
		default:
			return fmt.Errorf("invalid outcome value: %q", m.Outcome)
		}
	default:
		return fmt.Errorf("invalid message type: %q", m.Type)
	}
	if m.Seq < 1 {
		return fmt.Errorf("message seq must be positive (got %d)", m.Seq)
	}
	return nil
}

// DecodeEnvelope reads one host envelope from r with strict parsing.
func DecodeEnvelope(r io.Reader) (*Envelope, error) {
	var env Envelope

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields() // Strict parsing

	if err := decoder.Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if err := ValidateEnvelope(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// UnmarshalEnvelope is DecodeEnvelope over a byte slice.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	return DecodeEnvelope(bytes.NewReader(data))
}

// ValidateEnvelope checks required fields per envelope type.
func ValidateEnvelope(env *Envelope) error {
	switch env.Type {
	case "":
		return fmt.Errorf("envelope missing required field: type")
	case TypeInvoke:
		if env.Invocation == nil {
			return fmt.Errorf("invoke envelope missing required field: invocation")
		}
		return ValidateInvocation(env.Invocation)
	case TypeCancel:
		if env.SessionID == "" {
			return fmt.Errorf("cancel envelope missing required field: session_id")
		}
		return nil
	default:
		return fmt.Errorf("invalid envelope type: %q (must be 'invoke' or 'cancel')", env.Type)
	}
}

// ValidateInvocation checks an invocation. Session IDs may be empty; the
// service assigns one.
func ValidateInvocation(inv *intent.Invocation) error {
	if inv.CommandName == "" {
		return fmt.Errorf("invocation missing required field: command_name")
	}
	return nil
}

// DecodeMessage reads one outbound message, as a host would.
func DecodeMessage(r io.Reader) (*Message, error) {
	var m Message
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if err := ValidateMessage(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// NewResponse converts a rendered response into the final message of a session.
func NewResponse(sessionID string, seq int, r response.Rendered, errCode string) *Message {
	return &Message{
		Type:           MessageResponse,
		SessionID:      sessionID,
		Seq:            seq,
		DisplayText:    r.Display,
		SpokenText:     r.Spoken,
		LaunchArgument: r.LaunchArg,
		Tiles:          r.Tiles,
		Outcome:        string(r.Kind),
		AwaitingInput:  r.AwaitingInput,
		Error:          errCode,
	}
}

// NewAck builds the service's own acknowledgment.
func NewAck(sessionID string, seq int, display, spoken string) *Message {
	return &Message{
		Type:        MessageAck,
		SessionID:   sessionID,
		Seq:         seq,
		DisplayText: display,
		SpokenText:  spoken,
	}
}

// NewHeartbeat builds a liveness message.
func NewHeartbeat(sessionID string, seq int, display, spoken string) *Message {
	return &Message{
		Type:        MessageHeartbeat,
		SessionID:   sessionID,
		Seq:         seq,
		DisplayText: display,
		SpokenText:  spoken,
	}
}

// NewProgress builds a handler progress message.
func NewProgress(sessionID string, seq int, display, spoken string) *Message {
	return &Message{
		Type:        MessageProgress,
		SessionID:   sessionID,
		Seq:         seq,
		DisplayText: display,
		SpokenText:  spoken,
	}
}
