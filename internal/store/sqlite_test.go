package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/auctionhall/auctiond/internal/domain"
)

func testSnapshot(id string, endedAt time.Time) domain.SessionSnapshot {
	return domain.SessionSnapshot{
		ID:            id,
		IdeaContent:   "a solar-powered toaster",
		Status:        domain.SessionEnded,
		Phase:         domain.PhaseResult,
		Bids:          map[string]float64{"alice": 250, "bob": 180},
		HighestBid:    250,
		HighestBidder: "alice",
		Messages: []domain.Message{
			{ID: "m1", PersonaID: "alice", Phase: domain.PhaseBidding, Type: domain.MessageBid, Content: "I bid 250 credits", BidValue: 250},
		},
		Predictions:     []domain.Prediction{{ClientID: "c1", Amount: 240, Confidence: 0.7}},
		StartedAt:       endedAt.Add(-10 * time.Minute),
		EndedAt:         endedAt,
		EndReason:       "completed",
		TotalCallCost:   0.12,
		SupplementsUsed: 1,
	}
}

func newTestArchive(t *testing.T) *SQLiteArchive {
	t.Helper()
	archive, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() {
		if err := archive.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return archive
}

func TestSQLiteArchiveRoundTrip(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()
	want := testSnapshot("sess-1", time.Unix(1700000000, 0))

	if err := archive.SaveSession(ctx, want); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := archive.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil {
		t.Fatal("GetSession returned nil for a saved session")
	}
	if got.IdeaContent != want.IdeaContent {
		t.Errorf("IdeaContent = %q, want %q", got.IdeaContent, want.IdeaContent)
	}
	if got.HighestBid != 250 || got.HighestBidder != "alice" {
		t.Errorf("highest = %v by %q, want 250 by alice", got.HighestBid, got.HighestBidder)
	}
	if len(got.Messages) != 1 || got.Messages[0].BidValue != 250 {
		t.Errorf("transcript did not survive the round trip: %+v", got.Messages)
	}
	if len(got.Predictions) != 1 || got.Predictions[0].ClientID != "c1" {
		t.Errorf("predictions did not survive the round trip: %+v", got.Predictions)
	}
	if got.Bids["bob"] != 180 {
		t.Errorf("Bids[bob] = %v, want 180", got.Bids["bob"])
	}
	if !got.EndedAt.Equal(want.EndedAt) {
		t.Errorf("EndedAt = %v, want %v", got.EndedAt, want.EndedAt)
	}
}

func TestSQLiteArchiveGetUnknownSession(t *testing.T) {
	archive := newTestArchive(t)

	got, err := archive.GetSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got != nil {
		t.Errorf("GetSession for unknown id = %+v, want nil", got)
	}
}

func TestSQLiteArchiveSaveIsIdempotent(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()
	snap := testSnapshot("sess-1", time.Unix(1700000000, 0))

	if err := archive.SaveSession(ctx, snap); err != nil {
		t.Fatalf("first SaveSession: %v", err)
	}
	snap.HighestBid = 300
	if err := archive.SaveSession(ctx, snap); err != nil {
		t.Fatalf("second SaveSession: %v", err)
	}

	got, err := archive.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.HighestBid != 300 {
		t.Errorf("HighestBid after re-save = %v, want 300", got.HighestBid)
	}
}

func TestSQLiteArchiveListSessions(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for i, id := range []string{"old", "mid", "new"} {
		if err := archive.SaveSession(ctx, testSnapshot(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("SaveSession(%s): %v", id, err)
		}
	}

	list, err := archive.ListSessions(ctx, 2)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListSessions returned %d sessions, want 2", len(list))
	}
	if list[0].ID != "new" || list[1].ID != "mid" {
		t.Errorf("order = %q, %q; want new, mid", list[0].ID, list[1].ID)
	}
	if len(list[0].Messages) != 0 {
		t.Error("listing included transcripts, want them omitted")
	}
}
