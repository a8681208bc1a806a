// Package session implements the per-auction coordinator and its
// supporting message plumbing.
package session

import (
	"context"
	"time"

	"github.com/auctionhall/auctiond/internal/clock"
	"github.com/auctionhall/auctiond/internal/domain"
)

// BufferConfig bounds the message buffer.
type BufferConfig struct {
	// FlushInterval is the debounce window: the first message into an
	// empty buffer starts this delay; messages arriving within it are
	// merged into the same batch.
	FlushInterval time.Duration
	// MaxPerPersona caps pending updates per persona (K). Older
	// updates are dropped once the cap is hit.
	MaxPerPersona int
	// SizeThreshold forces a flush when total pending reaches it.
	SizeThreshold int
	// DedupeWindow collapses same-type messages from one persona that
	// arrive within this span.
	DedupeWindow time.Duration
}

// DefaultBufferConfig returns the production buffer bounds.
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		FlushInterval: 250 * time.Millisecond,
		MaxPerPersona: 3,
		SizeThreshold: 16,
		DedupeWindow:  time.Second,
	}
}

func (c BufferConfig) withDefaults() BufferConfig {
	def := DefaultBufferConfig()
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.MaxPerPersona <= 0 {
		c.MaxPerPersona = def.MaxPerPersona
	}
	if c.SizeThreshold <= 0 {
		c.SizeThreshold = def.SizeThreshold
	}
	if c.DedupeWindow <= 0 {
		c.DedupeWindow = def.DedupeWindow
	}
	return c
}

// Buffer batches agent messages for delivery. It runs as a single
// goroutine: messages come in through Add, ordered batches go out on
// Batches. Bid messages bypass the debounce and flush immediately; the
// pending set is cleared atomically on every flush so a message is
// never delivered twice.
type Buffer struct {
	cfg BufferConfig
	clk clock.Clock
	in  chan domain.Message
	out chan []domain.Message
}

// NewBuffer creates a buffer; Run must be started for it to operate.
func NewBuffer(cfg BufferConfig, clk clock.Clock) *Buffer {
	return &Buffer{
		cfg: cfg.withDefaults(),
		clk: clk,
		in:  make(chan domain.Message, 64),
		out: make(chan []domain.Message, 8),
	}
}

// Add enqueues a message for batching.
func (b *Buffer) Add(msg domain.Message) {
	b.in <- msg
}

// Batches returns the channel of flushed batches. It is closed after
// Run exits, following a final flush of anything pending.
func (b *Buffer) Batches() <-chan []domain.Message {
	return b.out
}

// Run owns the pending set until ctx is cancelled.
func (b *Buffer) Run(ctx context.Context) {
	var pending []domain.Message
	perPersona := make(map[string]int)
	var flushDue <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = nil
		perPersona = make(map[string]int)
		flushDue = nil
		b.out <- batch
	}

	for {
		select {
		case msg := <-b.in:
			pending = b.absorb(pending, perPersona, msg)
			switch {
			case msg.IsBid():
				flush()
			case len(pending) >= b.cfg.SizeThreshold:
				flush()
			case flushDue == nil:
				flushDue = b.clk.After(b.cfg.FlushInterval)
			}
		case <-flushDue:
			flush()
		case <-ctx.Done():
			flush()
			close(b.out)
			return
		}
	}
}

// absorb merges a message into the pending set: near-duplicates from
// the same persona are collapsed in place, and each persona keeps at
// most MaxPerPersona pending entries (oldest dropped first).
func (b *Buffer) absorb(pending []domain.Message, perPersona map[string]int, msg domain.Message) []domain.Message {
	// Collapse a same-type message from this persona arriving within
	// the dedupe window: the newer update replaces the older one.
	for i := len(pending) - 1; i >= 0; i-- {
		p := pending[i]
		if p.PersonaID != msg.PersonaID {
			continue
		}
		if p.Type == msg.Type && msg.Timestamp.Sub(p.Timestamp) < b.cfg.DedupeWindow {
			pending[i] = msg
			return pending
		}
		break
	}

	if perPersona[msg.PersonaID] >= b.cfg.MaxPerPersona {
		// Drop this persona's oldest pending update.
		for i, p := range pending {
			if p.PersonaID == msg.PersonaID {
				pending = append(pending[:i], pending[i+1:]...)
				perPersona[msg.PersonaID]--
				break
			}
		}
	}

	perPersona[msg.PersonaID]++
	return append(pending, msg)
}
