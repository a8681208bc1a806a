package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/auctionhall/auctiond/internal/clock"
	"github.com/auctionhall/auctiond/internal/config"
	"github.com/auctionhall/auctiond/internal/domain"
	"github.com/auctionhall/auctiond/internal/provider"
)

// ErrSessionNotFound is returned for lookups of unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// Manager tracks live sessions. Finished sessions drop out of the
// registry on their own; the archive keeps their snapshots.
type Manager struct {
	roster     *config.AuctionConfig
	bufCfg     BufferConfig
	dispatcher *provider.Dispatcher
	emitter    Emitter
	archive    Archiver
	clk        clock.Clock

	mu       sync.RWMutex
	sessions map[string]*Coordinator
}

// NewManager creates an empty session registry.
func NewManager(roster *config.AuctionConfig, bufCfg BufferConfig, dispatcher *provider.Dispatcher, emitter Emitter, archive Archiver, clk clock.Clock) *Manager {
	return &Manager{
		roster:     roster,
		bufCfg:     bufCfg,
		dispatcher: dispatcher,
		emitter:    emitter,
		archive:    archive,
		clk:        clk,
		sessions:   make(map[string]*Coordinator),
	}
}

// Start creates a session for an idea and launches its run loop.
func (m *Manager) Start(ctx context.Context, idea string) *Coordinator {
	coord := NewCoordinator(idea, m.roster, m.bufCfg, m.dispatcher, m.emitter, m.archive, m.clk)

	m.mu.Lock()
	m.sessions[coord.ID()] = coord
	m.mu.Unlock()

	go coord.Run(ctx)
	go func() {
		<-coord.Done()
		m.mu.Lock()
		delete(m.sessions, coord.ID())
		m.mu.Unlock()
		slog.Info("Session removed from registry", "session_id", coord.ID())
	}()

	slog.Info("Session started", "session_id", coord.ID())
	return coord
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Coordinator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coord, ok := m.sessions[id]
	return coord, ok
}

// Snapshots returns the current state of every live session.
func (m *Manager) Snapshots() []domain.SessionSnapshot {
	m.mu.RLock()
	coords := make([]*Coordinator, 0, len(m.sessions))
	for _, c := range m.sessions {
		coords = append(coords, c)
	}
	m.mu.RUnlock()

	out := make([]domain.SessionSnapshot, 0, len(coords))
	for _, c := range coords {
		out = append(out, c.Snapshot())
	}
	return out
}

// CloseAll stops every live session, used during shutdown.
func (m *Manager) CloseAll(reason string) {
	m.mu.RLock()
	coords := make([]*Coordinator, 0, len(m.sessions))
	for _, c := range m.sessions {
		coords = append(coords, c)
	}
	m.mu.RUnlock()

	for _, c := range coords {
		c.Close(reason)
		<-c.Done()
	}
}
