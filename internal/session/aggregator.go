package session

import (
	"sync"
	"time"

	"github.com/auctionhall/auctiond/internal/clock"
	"github.com/auctionhall/auctiond/internal/domain"
)

// Aggregator folds message batches into one bounded AgentState record
// per persona. A single consumer goroutine (the coordinator loop)
// calls ApplyBatch; the internal lock only protects snapshot reads
// from the transport side.
type Aggregator struct {
	clk clock.Clock

	mu           sync.RWMutex
	states       map[string]*domain.AgentState
	sessionPhase domain.Phase
}

// NewAggregator seeds idle states for every persona.
func NewAggregator(clk clock.Clock, personaIDs []string) *Aggregator {
	states := make(map[string]*domain.AgentState, len(personaIDs))
	now := clk.Now()
	for _, id := range personaIDs {
		states[id] = domain.NewAgentState(id, now)
	}
	return &Aggregator{
		clk:          clk,
		states:       states,
		sessionPhase: domain.PhaseWarmup,
	}
}

// SetPhase records the session phase used for staleness checks and
// resets agent activity state for the new phase.
func (a *Aggregator) SetPhase(phase domain.Phase) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionPhase = phase

	next := phaseInitialAgentPhase(phase)
	for _, s := range a.states {
		s.Phase = next
		s.CurrentMessage = ""
	}
}

// ApplyBatch merges a flushed batch into the per-persona states and
// returns the updated records. Messages for unknown personas, with
// invalid enum values, or tagged with a phase older than the current
// session phase are ignored. Merging overwrites known fields and
// preserves the rest; history is never appended.
func (a *Aggregator) ApplyBatch(batch []domain.Message) []*domain.AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()

	updated := make(map[string]*domain.AgentState)
	for _, msg := range batch {
		state, ok := a.states[msg.PersonaID]
		if !ok || !msg.Type.Valid() {
			continue
		}
		// A dispatch issued in an earlier phase may resolve after the
		// transition; its result is stale and dropped.
		if msg.Phase.Valid() && a.sessionPhase.Valid() && msg.Phase.Index() < a.sessionPhase.Index() {
			continue
		}

		a.merge(state, msg)
		updated[msg.PersonaID] = state
	}

	out := make([]*domain.AgentState, 0, len(updated))
	for _, s := range updated {
		out = append(out, s.Clone())
	}
	return out
}

// SetSupported flags a persona as supported by the user.
func (a *Aggregator) SetSupported(personaID string, supported bool) *domain.AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.states[personaID]
	if !ok {
		return nil
	}
	state.IsSupported = supported
	state.LastActivity = a.clk.Now()
	return state.Clone()
}

// States returns a snapshot of all agent states.
func (a *Aggregator) States() map[string]*domain.AgentState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]*domain.AgentState, len(a.states))
	for id, s := range a.states {
		out[id] = s.Clone()
	}
	return out
}

func (a *Aggregator) merge(state *domain.AgentState, msg domain.Message) {
	switch msg.Type {
	case domain.MessageBid:
		state.Phase = domain.AgentBidding
		if msg.BidValue > 0 {
			state.CurrentBid = msg.BidValue
		}
	case domain.MessageSystem:
		// System notices carry no agent activity.
	default:
		state.Phase = domain.AgentSpeaking
	}

	if msg.Emotion.Valid() {
		state.Emotion = msg.Emotion
	}
	if msg.Content != "" && msg.Type != domain.MessageSystem {
		state.CurrentMessage = msg.Content
	}
	state.Confidence = clamp01(msg.Confidence)
	state.SpeakingIntensity = clamp01(speakingIntensityFor(msg))
	state.LastActivity = latest(msg.Timestamp, state.LastActivity)
}

func phaseInitialAgentPhase(phase domain.Phase) domain.AgentPhase {
	switch phase {
	case domain.PhaseWarmup, domain.PhaseDiscussion, domain.PhaseBidding:
		return domain.AgentThinking
	case domain.PhasePrediction:
		return domain.AgentWaiting
	default:
		return domain.AgentIdle
	}
}

func speakingIntensityFor(msg domain.Message) float64 {
	switch msg.Emotion {
	case domain.EmotionExcited, domain.EmotionAggressive:
		return 0.9
	case domain.EmotionConfident:
		return 0.7
	case domain.EmotionWorried:
		return 0.5
	default:
		return 0.6
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
