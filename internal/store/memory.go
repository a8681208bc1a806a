package store

import (
	"context"
	"sort"
	"sync"

	"github.com/auctionhall/auctiond/internal/domain"
)

// MemoryArchive is an in-memory Archive for tests and ephemeral runs.
type MemoryArchive struct {
	mu       sync.RWMutex
	sessions map[string]domain.SessionSnapshot
}

// NewMemory creates an empty in-memory archive.
func NewMemory() *MemoryArchive {
	return &MemoryArchive{sessions: make(map[string]domain.SessionSnapshot)}
}

// SaveSession stores the snapshot, replacing any previous version.
func (m *MemoryArchive) SaveSession(_ context.Context, snap domain.SessionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[snap.ID] = snap
	return nil
}

// GetSession retrieves a stored snapshot by id.
func (m *MemoryArchive) GetSession(_ context.Context, id string) (*domain.SessionSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

// ListSessions returns stored snapshots, newest first.
func (m *MemoryArchive) ListSessions(_ context.Context, limit int) ([]domain.SessionSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.SessionSnapshot, 0, len(m.sessions))
	for _, snap := range m.sessions {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.After(out[j].EndedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping always succeeds.
func (m *MemoryArchive) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryArchive) Close() error { return nil }
