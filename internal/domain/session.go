package domain

import (
	"time"
)

// SessionStatus tracks the coarse lifecycle of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionEnded     SessionStatus = "ended"
	SessionCancelled SessionStatus = "cancelled"
)

// Prediction is a user's guess at the winning price, collected during
// the prediction phase.
type Prediction struct {
	ClientID   string    `json:"client_id"`
	Amount     float64   `json:"amount"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// SessionSnapshot is the full state of a session at a point in time.
// The terminal session_ended event carries one; the archive persists it.
type SessionSnapshot struct {
	ID              string             `json:"id"`
	IdeaContent     string             `json:"idea_content"`
	Status          SessionStatus      `json:"status"`
	Phase           Phase              `json:"phase"`
	Round           int                `json:"round"`
	TimeRemaining   int                `json:"time_remaining_sec"`
	Bids            map[string]float64 `json:"bids"`
	HighestBid      float64            `json:"highest_bid"`
	HighestBidder   string             `json:"highest_bidder,omitempty"`
	Messages        []Message          `json:"messages"`
	Predictions     []Prediction       `json:"predictions,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	EndedAt         time.Time          `json:"ended_at,omitempty"`
	EndReason       string             `json:"end_reason,omitempty"`
	TotalCallCost   float64            `json:"total_call_cost"`
	SupplementsUsed int                `json:"supplements_used"`
}
