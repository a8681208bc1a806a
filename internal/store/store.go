// Package store persists finished auction sessions.
package store

import (
	"context"

	"github.com/auctionhall/auctiond/internal/domain"
)

// Archive defines the interface for persisting session snapshots.
type Archive interface {
	// SaveSession persists a terminal session snapshot, including its
	// transcript and predictions.
	SaveSession(ctx context.Context, snap domain.SessionSnapshot) error

	// GetSession retrieves an archived session by id. Returns
	// (nil, nil) when the id is unknown.
	GetSession(ctx context.Context, id string) (*domain.SessionSnapshot, error)

	// ListSessions returns the most recent archived sessions, newest
	// first, without their transcripts.
	ListSessions(ctx context.Context, limit int) ([]domain.SessionSnapshot, error)

	// Ping verifies storage connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying storage.
	Close() error
}
