package domain

import (
	"time"
)

// MessageType categorizes agent messages within a session.
type MessageType string

const (
	MessageIntro    MessageType = "intro"
	MessageAnalysis MessageType = "analysis"
	MessageQuestion MessageType = "question"
	MessageBid      MessageType = "bid"
	MessageSystem   MessageType = "system"
)

// Valid returns true if t is one of the enumerated message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageIntro, MessageAnalysis, MessageQuestion, MessageBid, MessageSystem:
		return true
	}
	return false
}

// Message is a single agent utterance. Messages are immutable once
// created and append-only within a session transcript.
type Message struct {
	ID         string      `json:"id"`
	PersonaID  string      `json:"persona_id"`
	Phase      Phase       `json:"phase"`
	Round      int         `json:"round"`
	Type       MessageType `json:"type"`
	Content    string      `json:"content"`
	BidValue   float64     `json:"bid_value,omitempty"`
	Confidence float64     `json:"confidence"`
	Emotion    Emotion     `json:"emotion,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// IsBid returns true for bid-type messages carrying a bid value.
func (m *Message) IsBid() bool {
	return m.Type == MessageBid
}
