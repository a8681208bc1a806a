package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/auctionhall/auctiond/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteArchive implements Archive using SQLite.
type SQLiteArchive struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed archive.
func NewSQLite(dbPath string) (*SQLiteArchive, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	archive := &SQLiteArchive{db: db}
	if err := archive.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return archive, nil
}

func (s *SQLiteArchive) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		idea_content TEXT NOT NULL,
		status TEXT NOT NULL,
		phase TEXT NOT NULL,
		highest_bid REAL NOT NULL,
		highest_bidder TEXT,
		bids_json TEXT NOT NULL,
		messages_json TEXT NOT NULL,
		predictions_json TEXT,
		end_reason TEXT,
		total_call_cost REAL NOT NULL,
		supplements_used INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_ended ON sessions(ended_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteArchive) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveSession persists a terminal session snapshot.
func (s *SQLiteArchive) SaveSession(ctx context.Context, snap domain.SessionSnapshot) error {
	bidsJSON, err := json.Marshal(snap.Bids)
	if err != nil {
		return fmt.Errorf("marshal bids: %w", err)
	}
	messagesJSON, err := json.Marshal(snap.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	var predictionsJSON interface{}
	if len(snap.Predictions) > 0 {
		data, err := json.Marshal(snap.Predictions)
		if err != nil {
			return fmt.Errorf("marshal predictions: %w", err)
		}
		predictionsJSON = string(data)
	}

	query := `
	INSERT INTO sessions (
		id, idea_content, status, phase, highest_bid, highest_bidder,
		bids_json, messages_json, predictions_json, end_reason,
		total_call_cost, supplements_used, started_at, ended_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		phase = excluded.phase,
		highest_bid = excluded.highest_bid,
		highest_bidder = excluded.highest_bidder,
		bids_json = excluded.bids_json,
		messages_json = excluded.messages_json,
		predictions_json = COALESCE(excluded.predictions_json, sessions.predictions_json),
		end_reason = excluded.end_reason,
		total_call_cost = excluded.total_call_cost,
		supplements_used = excluded.supplements_used,
		ended_at = excluded.ended_at`

	var highestBidder interface{}
	if snap.HighestBidder != "" {
		highestBidder = snap.HighestBidder
	}

	_, err = s.db.ExecContext(ctx, query,
		snap.ID, snap.IdeaContent, string(snap.Status), string(snap.Phase),
		snap.HighestBid, highestBidder,
		string(bidsJSON), string(messagesJSON), predictionsJSON,
		snap.EndReason, snap.TotalCallCost, snap.SupplementsUsed,
		snap.StartedAt.Unix(), snap.EndedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession retrieves an archived session by id.
func (s *SQLiteArchive) GetSession(ctx context.Context, id string) (*domain.SessionSnapshot, error) {
	query := `
		SELECT id, idea_content, status, phase, highest_bid, highest_bidder,
		       bids_json, messages_json, predictions_json, end_reason,
		       total_call_cost, supplements_used, started_at, ended_at
		FROM sessions WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	snap, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return snap, nil
}

// ListSessions returns the most recent archived sessions, newest first.
// Transcripts and predictions are omitted to keep listings cheap.
func (s *SQLiteArchive) ListSessions(ctx context.Context, limit int) ([]domain.SessionSnapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, idea_content, status, phase, highest_bid, highest_bidder,
		       end_reason, total_call_cost, supplements_used, started_at, ended_at
		FROM sessions ORDER BY ended_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionSnapshot
	for rows.Next() {
		var snap domain.SessionSnapshot
		var status, phase string
		var highestBidder, endReason sql.NullString
		var startedAt, endedAt int64

		if err := rows.Scan(
			&snap.ID, &snap.IdeaContent, &status, &phase,
			&snap.HighestBid, &highestBidder, &endReason,
			&snap.TotalCallCost, &snap.SupplementsUsed, &startedAt, &endedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}

		snap.Status = domain.SessionStatus(status)
		snap.Phase = domain.Phase(phase)
		snap.HighestBidder = highestBidder.String
		snap.EndReason = endReason.String
		snap.StartedAt = time.Unix(startedAt, 0)
		snap.EndedAt = time.Unix(endedAt, 0)
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteArchive) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func scanSession(scan func(...any) error) (*domain.SessionSnapshot, error) {
	var snap domain.SessionSnapshot
	var status, phase, bidsJSON, messagesJSON string
	var highestBidder, predictionsJSON, endReason sql.NullString
	var startedAt, endedAt int64

	err := scan(
		&snap.ID, &snap.IdeaContent, &status, &phase,
		&snap.HighestBid, &highestBidder,
		&bidsJSON, &messagesJSON, &predictionsJSON, &endReason,
		&snap.TotalCallCost, &snap.SupplementsUsed, &startedAt, &endedAt,
	)
	if err != nil {
		return nil, err
	}

	snap.Status = domain.SessionStatus(status)
	snap.Phase = domain.Phase(phase)
	snap.HighestBidder = highestBidder.String
	snap.EndReason = endReason.String
	snap.StartedAt = time.Unix(startedAt, 0)
	snap.EndedAt = time.Unix(endedAt, 0)

	if err := json.Unmarshal([]byte(bidsJSON), &snap.Bids); err != nil {
		return nil, fmt.Errorf("unmarshal bids: %w", err)
	}
	if err := json.Unmarshal([]byte(messagesJSON), &snap.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	if predictionsJSON.Valid {
		if err := json.Unmarshal([]byte(predictionsJSON.String), &snap.Predictions); err != nil {
			return nil, fmt.Errorf("unmarshal predictions: %w", err)
		}
	}
	return &snap, nil
}
