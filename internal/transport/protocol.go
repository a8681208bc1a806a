// Package transport carries session events over WebSocket: a hub that
// broadcasts to viewers, an upgrade handler for the server side and a
// reconnecting client for programmatic consumers.
package transport

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Client-to-server message types.
const (
	TypeUserSupplement   = "user_supplement"
	TypeSubmitPrediction = "submit_prediction"
	TypeSupportPersona   = "support_persona"
	TypeGetMessages      = "get_messages"
	TypePing             = "ping"
)

// Server-only envelope types, in addition to the session event names.
const (
	TypePong        = "pong"
	TypeError       = "error"
	TypeResync      = "resync"
	TypeViewerCount = "viewer_count"
)

// ClientMessage is the inbound tagged union. Fields beyond Type are
// populated depending on the message type.
type ClientMessage struct {
	Type       string  `json:"type"`
	Content    string  `json:"content,omitempty"`
	PersonaID  string  `json:"persona_id,omitempty"`
	Supported  *bool   `json:"supported,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Validate checks structural requirements per message type. Semantic
// checks (phase permissions, budgets) belong to the session layer.
func (m *ClientMessage) Validate() error {
	switch m.Type {
	case TypeUserSupplement:
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("user_supplement requires content")
		}
	case TypeSubmitPrediction:
		if m.Amount <= 0 {
			return fmt.Errorf("submit_prediction requires a positive amount")
		}
	case TypeSupportPersona:
		if m.PersonaID == "" {
			return fmt.Errorf("support_persona requires persona_id")
		}
	case TypeGetMessages, TypePing:
	case "":
		return fmt.Errorf("message type is required")
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

// Envelope is the outbound frame: every server-to-client message is
// one of these, so clients can dispatch on Type alone.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope wraps a payload, marshaling it eagerly so a bad payload
// surfaces at the emit site rather than per connection.
func NewEnvelope(typ string, payload any, now time.Time) (Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		raw = data
	}
	return Envelope{Type: typ, Payload: raw, Timestamp: now}, nil
}

// ErrorPayload is the payload of an error envelope.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ViewerCountPayload announces how many clients watch a session.
type ViewerCountPayload struct {
	Count int `json:"count"`
}
