// Package phase implements the timed session state machine.
package phase

import (
	"errors"
	"sync"

	"github.com/auctionhall/auctiond/internal/config"
	"github.com/auctionhall/auctiond/internal/domain"
)

// Extension request failures. The caller maps these to user-visible
// rejections; none of them disturb machine state.
var (
	ErrExtensionDisabled  = errors.New("phase extension is disabled")
	ErrExtensionExhausted = errors.New("extension budget for this phase is exhausted")
	ErrPhaseExpired       = errors.New("phase already expired")
	ErrTerminalPhase      = errors.New("session is in its terminal phase")
)

// EventKind discriminates machine events.
type EventKind string

const (
	// EventPhaseChanged fires on every transition, including the
	// initial entry into warmup.
	EventPhaseChanged EventKind = "phase_changed"
	// EventTimeExtended fires when an extension is granted.
	EventTimeExtended EventKind = "time_extended"
	// EventFinished fires once when the terminal phase's timer runs out.
	EventFinished EventKind = "finished"
)

// Event describes a machine state change for subscribers.
type Event struct {
	Kind           EventKind
	Phase          domain.Phase
	DurationSec    int
	RemainingSec   int
	AddedSec       int
	ExtensionsUsed int
}

// Machine owns the current phase, round counter and countdown for one
// session. It is passive: the session coordinator ticks it from a
// single logical clock, so natural expiry and extension requests are
// serialized and cannot race. All methods are safe for concurrent use.
type Machine struct {
	mu sync.Mutex

	timings   config.PhaseTimings
	extension config.ExtensionPolicy

	phase          domain.Phase
	round          int
	remainingSec   int
	extensionsUsed int
	started        bool
	finished       bool
}

// NewMachine creates a machine positioned before warmup. Start must be
// called to enter the first phase.
func NewMachine(timings config.PhaseTimings, extension config.ExtensionPolicy) *Machine {
	return &Machine{
		timings:   timings,
		extension: extension,
	}
}

// Start enters the warmup phase and returns the initial phase_changed
// event. Calling Start twice is a no-op returning no events.
func (m *Machine) Start() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	m.started = true
	m.phase = domain.PhaseWarmup
	m.round = 1
	m.remainingSec = m.timings.Seconds(m.phase)
	return []Event{m.phaseChangedLocked()}
}

// Tick advances the countdown by one second. When the countdown hits
// zero the machine transitions to the next phase (or finishes) and the
// resulting events are returned.
func (m *Machine) Tick() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.finished {
		return nil
	}
	if m.remainingSec > 0 {
		m.remainingSec--
	}
	if m.remainingSec > 0 {
		return nil
	}
	return m.advanceLocked()
}

// ForceAdvance transitions immediately to the next phase regardless of
// remaining time. Used by admin/test overrides.
func (m *Machine) ForceAdvance() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.finished {
		return nil
	}
	return m.advanceLocked()
}

// Extend grants extra seconds in the phase the caller observed.
// Granted only while that phase is still current, extension is
// configured, time remains, and the per-phase budget is not
// exhausted. The from argument closes the gap between a caller's
// permission check and the grant: a request that raced a transition
// is rejected instead of extending the new phase. On grant the
// extension counter increments and a time_extended event is returned.
func (m *Machine) Extend(from domain.Phase, seconds int) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finished || m.phase.Terminal() {
		return Event{}, ErrTerminalPhase
	}
	if from != m.phase {
		return Event{}, ErrPhaseExpired
	}
	if !m.extension.Enabled {
		return Event{}, ErrExtensionDisabled
	}
	if m.remainingSec <= 0 {
		return Event{}, ErrPhaseExpired
	}
	if m.extensionsUsed >= m.extension.MaxPerPhase {
		return Event{}, ErrExtensionExhausted
	}

	m.remainingSec += seconds
	m.extensionsUsed++
	return Event{
		Kind:           EventTimeExtended,
		Phase:          m.phase,
		RemainingSec:   m.remainingSec,
		AddedSec:       seconds,
		ExtensionsUsed: m.extensionsUsed,
	}, nil
}

// Phase returns the current phase.
func (m *Machine) Phase() domain.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Remaining returns the countdown in seconds.
func (m *Machine) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remainingSec
}

// Round returns the round counter within the current phase.
func (m *Machine) Round() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.round
}

// NextRound increments the round counter and returns the new value.
func (m *Machine) NextRound() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.round++
	return m.round
}

// ExtensionsUsed returns how many extensions the current phase has
// consumed.
func (m *Machine) ExtensionsUsed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extensionsUsed
}

// Finished reports whether the terminal phase has run out.
func (m *Machine) Finished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finished
}

func (m *Machine) advanceLocked() []Event {
	next, ok := m.phase.Next()
	if !ok {
		m.finished = true
		return []Event{{
			Kind:  EventFinished,
			Phase: m.phase,
		}}
	}

	m.phase = next
	m.round = 1
	m.extensionsUsed = 0
	m.remainingSec = m.timings.Seconds(next)
	return []Event{m.phaseChangedLocked()}
}

func (m *Machine) phaseChangedLocked() Event {
	return Event{
		Kind:         EventPhaseChanged,
		Phase:        m.phase,
		DurationSec:  m.timings.Seconds(m.phase),
		RemainingSec: m.remainingSec,
	}
}
