// Package domain contains core domain types for the auction system.
package domain

// Phase is a named stage of an auction session.
type Phase string

const (
	PhaseWarmup     Phase = "warmup"
	PhaseDiscussion Phase = "discussion"
	PhaseBidding    Phase = "bidding"
	PhasePrediction Phase = "prediction"
	PhaseResult     Phase = "result"
)

// phaseOrder defines the linear progression of an auction session.
var phaseOrder = []Phase{
	PhaseWarmup,
	PhaseDiscussion,
	PhaseBidding,
	PhasePrediction,
	PhaseResult,
}

// Phases returns the full phase progression in order.
func Phases() []Phase {
	out := make([]Phase, len(phaseOrder))
	copy(out, phaseOrder)
	return out
}

// Valid returns true if p is one of the enumerated phases.
func (p Phase) Valid() bool {
	for _, known := range phaseOrder {
		if p == known {
			return true
		}
	}
	return false
}

// Next returns the phase that follows p. The second return value is
// false when p is terminal or unknown.
func (p Phase) Next() (Phase, bool) {
	for i, known := range phaseOrder {
		if p == known && i+1 < len(phaseOrder) {
			return phaseOrder[i+1], true
		}
	}
	return p, false
}

// Terminal returns true if no phase follows p.
func (p Phase) Terminal() bool {
	return p == PhaseResult
}

// Index returns the position of p in the progression, or -1 if unknown.
func (p Phase) Index() int {
	for i, known := range phaseOrder {
		if p == known {
			return i
		}
	}
	return -1
}
