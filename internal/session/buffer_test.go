package session

import (
	"context"
	"testing"
	"time"

	"github.com/auctionhall/auctiond/internal/clock"
	"github.com/auctionhall/auctiond/internal/domain"
)

func testMessage(personaID string, typ domain.MessageType, ts time.Time) domain.Message {
	return domain.Message{
		ID:        personaID + "-" + string(typ) + ts.String(),
		PersonaID: personaID,
		Phase:     domain.PhaseDiscussion,
		Type:      typ,
		Content:   "content from " + personaID,
		Timestamp: ts,
	}
}

// receiveBatch reads one batch or fails the test after a real-time
// deadline, advancing the fake clock while it waits so debounce timers
// armed after the call still fire.
func receiveBatch(t *testing.T, fake *clock.Fake, batches <-chan []domain.Message) []domain.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case batch, ok := <-batches:
			if !ok {
				t.Fatal("batch channel closed before a batch arrived")
			}
			return batch
		case <-deadline:
			t.Fatal("timed out waiting for a batch")
		default:
			fake.Advance(300 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestBufferFlushesAfterDebounce(t *testing.T) {
	fake := clock.NewFake(time.Unix(1700000000, 0))
	buf := NewBuffer(BufferConfig{}, fake)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go buf.Run(ctx)

	buf.Add(testMessage("alice", domain.MessageAnalysis, fake.Now()))

	batch := receiveBatch(t, fake, buf.Batches())
	if len(batch) != 1 {
		t.Fatalf("batch size = %d, want 1", len(batch))
	}
	if batch[0].PersonaID != "alice" {
		t.Errorf("batch[0].PersonaID = %q, want alice", batch[0].PersonaID)
	}
}

func TestBufferBidFlushesImmediately(t *testing.T) {
	fake := clock.NewFake(time.Unix(1700000000, 0))
	buf := NewBuffer(BufferConfig{}, fake)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go buf.Run(ctx)

	buf.Add(testMessage("alice", domain.MessageAnalysis, fake.Now()))
	buf.Add(testMessage("bob", domain.MessageBid, fake.Now()))

	// No clock advance: the bid alone must force the flush.
	select {
	case batch := <-buf.Batches():
		if len(batch) != 2 {
			t.Fatalf("batch size = %d, want 2", len(batch))
		}
		if batch[1].Type != domain.MessageBid {
			t.Errorf("batch[1].Type = %q, want bid", batch[1].Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bid did not flush the buffer")
	}
}

func TestBufferSizeThresholdForcesFlush(t *testing.T) {
	fake := clock.NewFake(time.Unix(1700000000, 0))
	buf := NewBuffer(BufferConfig{SizeThreshold: 3}, fake)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go buf.Run(ctx)

	buf.Add(testMessage("alice", domain.MessageAnalysis, fake.Now()))
	buf.Add(testMessage("bob", domain.MessageAnalysis, fake.Now()))
	buf.Add(testMessage("carol", domain.MessageAnalysis, fake.Now()))

	select {
	case batch := <-buf.Batches():
		if len(batch) != 3 {
			t.Fatalf("batch size = %d, want 3", len(batch))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("size threshold did not flush the buffer")
	}
}

func TestBufferCollapsesNearDuplicates(t *testing.T) {
	fake := clock.NewFake(time.Unix(1700000000, 0))
	buf := NewBuffer(BufferConfig{}, fake)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go buf.Run(ctx)

	older := testMessage("alice", domain.MessageAnalysis, fake.Now())
	older.Content = "first draft"
	newer := testMessage("alice", domain.MessageAnalysis, fake.Now().Add(200*time.Millisecond))
	newer.Content = "second draft"
	buf.Add(older)
	buf.Add(newer)
	buf.Add(testMessage("bob", domain.MessageBid, fake.Now()))

	select {
	case batch := <-buf.Batches():
		if len(batch) != 2 {
			t.Fatalf("batch size = %d, want 2 (duplicate collapsed)", len(batch))
		}
		if batch[0].Content != "second draft" {
			t.Errorf("batch[0].Content = %q, want the newer update", batch[0].Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no batch arrived")
	}
}

func TestBufferCapsPendingPerPersona(t *testing.T) {
	fake := clock.NewFake(time.Unix(1700000000, 0))
	buf := NewBuffer(BufferConfig{MaxPerPersona: 2, DedupeWindow: time.Nanosecond}, fake)
	ctx, cancel := context.WithCancel(context.Background())
	go buf.Run(ctx)

	base := fake.Now()
	buf.Add(testMessage("alice", domain.MessageIntro, base))
	buf.Add(testMessage("alice", domain.MessageAnalysis, base.Add(time.Second)))
	buf.Add(testMessage("alice", domain.MessageQuestion, base.Add(2*time.Second)))

	// Cancellation triggers the final flush.
	time.Sleep(10 * time.Millisecond)
	cancel()

	batch, ok := <-buf.Batches()
	if !ok {
		t.Fatal("batch channel closed without a final flush")
	}
	if len(batch) != 2 {
		t.Fatalf("batch size = %d, want 2 (oldest dropped)", len(batch))
	}
	if batch[0].Type != domain.MessageAnalysis || batch[1].Type != domain.MessageQuestion {
		t.Errorf("kept types = %q, %q; want analysis, question", batch[0].Type, batch[1].Type)
	}

	if _, ok := <-buf.Batches(); ok {
		t.Error("batch channel not closed after shutdown")
	}
}
