package domain

import (
	"time"
)

// AgentPhase is the ephemeral activity state of a single persona,
// distinct from the session Phase.
type AgentPhase string

const (
	AgentIdle     AgentPhase = "idle"
	AgentThinking AgentPhase = "thinking"
	AgentSpeaking AgentPhase = "speaking"
	AgentBidding  AgentPhase = "bidding"
	AgentWaiting  AgentPhase = "waiting"
)

// Valid returns true if p is one of the enumerated agent phases.
func (p AgentPhase) Valid() bool {
	switch p {
	case AgentIdle, AgentThinking, AgentSpeaking, AgentBidding, AgentWaiting:
		return true
	}
	return false
}

// Emotion is the displayed mood of a persona.
type Emotion string

const (
	EmotionNeutral    Emotion = "neutral"
	EmotionExcited    Emotion = "excited"
	EmotionConfident  Emotion = "confident"
	EmotionWorried    Emotion = "worried"
	EmotionAggressive Emotion = "aggressive"
)

// Valid returns true if e is one of the enumerated emotions.
func (e Emotion) Valid() bool {
	switch e {
	case EmotionNeutral, EmotionExcited, EmotionConfident, EmotionWorried, EmotionAggressive:
		return true
	}
	return false
}

// AgentState is the bounded, mutable per-persona view the client
// renders. Each aggregation cycle overwrites known fields; history is
// never appended here.
type AgentState struct {
	ID                string     `json:"id"`
	Phase             AgentPhase `json:"phase"`
	Emotion           Emotion    `json:"emotion"`
	Confidence        float64    `json:"confidence"`
	SpeakingIntensity float64    `json:"speaking_intensity"`
	CurrentMessage    string     `json:"current_message,omitempty"`
	CurrentBid        float64    `json:"current_bid"`
	IsSupported       bool       `json:"is_supported"`
	LastActivity      time.Time  `json:"last_activity"`
}

// NewAgentState returns the initial state for a persona.
func NewAgentState(personaID string, now time.Time) *AgentState {
	return &AgentState{
		ID:           personaID,
		Phase:        AgentIdle,
		Emotion:      EmotionNeutral,
		LastActivity: now,
	}
}

// Clone returns a copy of the state safe to hand across goroutines.
func (s *AgentState) Clone() *AgentState {
	cp := *s
	return &cp
}
