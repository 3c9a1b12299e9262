package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mattjoyce/voicecmd/internal/intent"
	"github.com/mattjoyce/voicecmd/internal/protocol"
)

// Client is a minimal host: it sends invocations and streams messages back.
// It is what the invoke command and the tests use to play the assistant.
type Client struct {
	ws *websocket.Conn
}

// DialOptions configures Dial.
type DialOptions struct {
	Token      string
	MaxRetries uint64
	Interval   time.Duration
}

// Dial connects to a bridge, retrying with exponential backoff.
func Dial(ctx context.Context, url string, opts DialOptions) (*Client, error) {
	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval

	var ws *websocket.Conn
	err := backoff.Retry(func() error {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return backoff.Permanent(fmt.Errorf("dial %s: unauthorized", url))
			}
			return fmt.Errorf("dial %s: %w", url, err)
		}
		ws = conn
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, opts.MaxRetries), ctx))
	if err != nil {
		return nil, err
	}
	return &Client{ws: ws}, nil
}

// Invoke sends inv and calls onMessage for every message of that session
// until the final response arrives. Messages for other sessions are skipped.
// A session ID is assigned when inv has none.
func (c *Client) Invoke(ctx context.Context, inv intent.Invocation, onMessage func(*protocol.Message)) (*protocol.Message, error) {
	if inv.SessionID == "" {
		inv.SessionID = uuid.NewString()
	}
	if err := c.send(protocol.Envelope{Type: protocol.TypeInvoke, Invocation: &inv}); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read: %w", err)
		}
		msg, err := protocol.DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		if msg.SessionID != inv.SessionID {
			continue
		}
		if onMessage != nil {
			onMessage(msg)
		}
		if msg.IsFinal() {
			return msg, nil
		}
	}
}

// Cancel asks the bridge to cancel a running session.
func (c *Client) Cancel(sessionID, reason string) error {
	return c.send(protocol.Envelope{Type: protocol.TypeCancel, SessionID: sessionID, Reason: reason})
}

func (c *Client) send(env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Close performs the close handshake and releases the connection.
func (c *Client) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}
