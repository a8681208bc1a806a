package session

import (
	"context"

	"github.com/auctionhall/auctiond/internal/domain"
)

// Event names broadcast to session clients.
const (
	EventPhaseChange    = "phase_change"
	EventTimeExtended   = "time_extended"
	EventAgentMessage   = "agent_message"
	EventAgentStates    = "agent_states_update"
	EventBidUpdate      = "bid_update"
	EventUserSupplement = "user_supplement"
	EventAuctionResult  = "auction_result"
	EventSessionEnded   = "session_ended"
)

// Emitter delivers a session event to every connected client. The
// transport hub implements it; tests substitute a recording stub.
type Emitter interface {
	Emit(sessionID, event string, payload any)
}

// Archiver persists the terminal snapshot of a session.
type Archiver interface {
	Save(ctx context.Context, snap domain.SessionSnapshot) error
}

// PhaseChangePayload announces a phase transition together with the
// permission matrix for the new phase, so clients never have to infer
// capabilities from the phase name.
type PhaseChangePayload struct {
	Phase        domain.Phase            `json:"phase"`
	DurationSec  int                     `json:"duration_sec"`
	RemainingSec int                     `json:"remaining_sec"`
	Round        int                     `json:"round"`
	Permissions  domain.PhasePermissions `json:"permissions"`
}

// TimeExtendedPayload announces extra seconds granted to the current
// phase.
type TimeExtendedPayload struct {
	Phase          domain.Phase `json:"phase"`
	AddedSec       int          `json:"added_sec"`
	RemainingSec   int          `json:"remaining_sec"`
	ExtensionsUsed int          `json:"extensions_used"`
}

// AgentStatesPayload carries the updated per-persona states after an
// aggregation cycle.
type AgentStatesPayload struct {
	States []*domain.AgentState `json:"states"`
}

// BidUpdatePayload announces a bid attempt and the resulting standings.
// Rejected bids are still broadcast so clients can show the attempt.
type BidUpdatePayload struct {
	PersonaID     string             `json:"persona_id"`
	Amount        float64            `json:"amount"`
	Accepted      bool               `json:"accepted"`
	Bids          map[string]float64 `json:"bids"`
	HighestBid    float64            `json:"highest_bid"`
	HighestBidder string             `json:"highest_bidder,omitempty"`
}

// UserSupplementPayload echoes an accepted user supplement to all
// viewers.
type UserSupplementPayload struct {
	Content         string       `json:"content"`
	Phase           domain.Phase `json:"phase"`
	SupplementsUsed int          `json:"supplements_used"`
	SupplementsLeft int          `json:"supplements_left"`
}

// ResultPayload announces the auction outcome on entry into the result
// phase.
type ResultPayload struct {
	HighestBid        float64            `json:"highest_bid"`
	HighestBidder     string             `json:"highest_bidder,omitempty"`
	Bids              map[string]float64 `json:"bids"`
	WinningPrediction *domain.Prediction `json:"winning_prediction,omitempty"`
}

// SessionEndedPayload is the terminal event; it carries the full
// snapshot that the archive also persists.
type SessionEndedPayload struct {
	Reason   string                 `json:"reason"`
	Snapshot domain.SessionSnapshot `json:"snapshot"`
}
