package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/auctionhall/auctiond/internal/domain"
	"github.com/auctionhall/auctiond/internal/shared"
)

// AsyncWriter decouples session shutdown from archive latency: Save
// enqueues the snapshot and returns, a single background goroutine
// drains the queue with retry on SQLite contention.
type AsyncWriter struct {
	archive Archive
	queue   chan domain.SessionSnapshot
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// NewAsyncWriter starts the background drain goroutine.
func NewAsyncWriter(archive Archive, queueSize int) *AsyncWriter {
	if queueSize <= 0 {
		queueSize = 64
	}
	w := &AsyncWriter{
		archive: archive,
		queue:   make(chan domain.SessionSnapshot, queueSize),
	}
	w.wg.Add(1)
	go w.drain()
	return w
}

// Save enqueues a snapshot. A full queue drops the snapshot rather
// than stalling the session; the loss is logged.
func (w *AsyncWriter) Save(_ context.Context, snap domain.SessionSnapshot) error {
	select {
	case w.queue <- snap:
		return nil
	default:
		slog.Error("Archive queue full, dropping snapshot", "session_id", snap.ID)
		return fmt.Errorf("archive queue full")
	}
}

// Close stops accepting snapshots and waits for the queue to drain.
func (w *AsyncWriter) Close() {
	w.closeOnce.Do(func() { close(w.queue) })
	w.wg.Wait()
}

func (w *AsyncWriter) drain() {
	defer w.wg.Done()
	for snap := range w.queue {
		w.persist(snap)
	}
}

// persist writes one snapshot, retrying SQLite contention with
// exponential backoff: 100ms, 200ms, 400ms.
func (w *AsyncWriter) persist(snap domain.SessionSnapshot) {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := w.archive.SaveSession(ctx, snap)
		cancel()
		if err == nil {
			slog.Info("Session archived", "session_id", snap.ID, "messages", len(snap.Messages))
			return
		}

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("Archive write hit contention, retrying", "session_id", snap.ID, "attempt", i+1, "delay", delay)
			time.Sleep(delay)
			continue
		}

		slog.Error("Failed to archive session", "session_id", snap.ID, "error", err)
		return
	}
}
