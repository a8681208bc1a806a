package session

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/auctionhall/auctiond/internal/clock"
	"github.com/auctionhall/auctiond/internal/config"
	"github.com/auctionhall/auctiond/internal/domain"
	"github.com/auctionhall/auctiond/internal/phase"
	"github.com/auctionhall/auctiond/internal/provider"
	"github.com/google/uuid"
)

// User action failures, mapped to error replies by the transport layer.
var (
	ErrSessionEnded         = errors.New("session has ended")
	ErrSupplementNotAllowed = errors.New("supplements are not allowed in this phase")
	ErrSupplementExhausted  = errors.New("supplement budget for this phase is exhausted")
	ErrEmptySupplement      = errors.New("supplement content is empty")
	ErrPredictionNotOpen    = errors.New("predictions are only accepted during the prediction phase")
	ErrInvalidPrediction    = errors.New("prediction amount must be positive")
	ErrUnknownPersona       = errors.New("unknown persona")
)

// historyWindow bounds how much transcript context a prompt carries.
const historyWindow = 6

// Coordinator drives one auction session: it ticks the phase machine
// from a single clock, fans generation requests out through the
// dispatcher, folds buffered results through the aggregator and
// broadcasts the outcome. All timer-driven transitions and user
// actions funnel through its state under one lock, so a natural expiry
// can never race an extension.
type Coordinator struct {
	id     string
	idea   string
	roster *config.AuctionConfig

	dispatcher *provider.Dispatcher
	machine    *phase.Machine
	buffer     *Buffer
	agg        *Aggregator
	emitter    Emitter
	archive    Archiver
	clk        clock.Clock

	mu              sync.Mutex
	status          domain.SessionStatus
	bids            map[string]float64
	highestBid      float64
	highestBidder   string
	messages        []domain.Message
	predictions     []domain.Prediction
	supplementsUsed int
	startedAt       time.Time
	endedAt         time.Time
	endReason       string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCoordinator assembles a session around an idea. Run starts it.
func NewCoordinator(idea string, roster *config.AuctionConfig, bufCfg BufferConfig, dispatcher *provider.Dispatcher, emitter Emitter, archive Archiver, clk clock.Clock) *Coordinator {
	personaIDs := make([]string, 0, len(roster.Personas))
	for _, p := range roster.Personas {
		personaIDs = append(personaIDs, p.ID)
	}
	return &Coordinator{
		id:         uuid.New().String(),
		idea:       idea,
		roster:     roster,
		dispatcher: dispatcher,
		machine:    phase.NewMachine(roster.Phases, roster.Extension),
		buffer:     NewBuffer(bufCfg, clk),
		agg:        NewAggregator(clk, personaIDs),
		emitter:    emitter,
		archive:    archive,
		clk:        clk,
		status:     domain.SessionActive,
		bids:       make(map[string]float64),
		done:       make(chan struct{}),
	}
}

// ID returns the session identifier.
func (c *Coordinator) ID() string { return c.id }

// Done is closed once the run loop has exited.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Run owns the session until it finishes or ctx is cancelled. It is
// the single consumer of the buffer and the only caller of the phase
// machine's Tick, which keeps one logical clock for the whole session.
func (c *Coordinator) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.startedAt = c.clk.Now()
	c.mu.Unlock()

	go c.buffer.Run(ctx)

	ticker := c.clk.NewTicker(time.Second)
	defer ticker.Stop()
	defer close(c.done)

	c.handleEvents(ctx, c.machine.Start())

	for {
		select {
		case <-ticker.C():
			c.handleEvents(ctx, c.machine.Tick())
			if c.machine.Finished() {
				c.drainBatches()
				return
			}
		case batch, ok := <-c.buffer.Batches():
			if !ok {
				return
			}
			c.deliver(batch)
		case <-ctx.Done():
			c.end("cancelled")
			c.drainBatches()
			return
		}
	}
}

// Close stops the session early with the given reason.
func (c *Coordinator) Close(reason string) {
	c.end(reason)
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// RequestSupplement applies a user supplement: permission-checked
// against the current phase, and rewarded with a time extension plus
// a reaction round from the personas. Each supplement consumes one
// extension, so the per-phase supplement budget is the extension
// budget.
func (c *Coordinator) RequestSupplement(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptySupplement
	}

	c.mu.Lock()
	if c.status != domain.SessionActive {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	current := c.machine.Phase()
	perms := domain.PermissionsFor(current).WithSupplementCap(c.roster.Extension.MaxPerPhase)
	if !perms.UserSupplementAllowed {
		c.mu.Unlock()
		return ErrSupplementNotAllowed
	}

	// The machine re-checks the observed phase under its own lock, so
	// a grant can never land in a phase the permission check did not
	// cover, and the extension budget doubles as the supplement budget.
	ev, err := c.machine.Extend(current, c.roster.Extension.ExtensionSeconds)
	if err != nil {
		c.mu.Unlock()
		if errors.Is(err, phase.ErrExtensionExhausted) {
			return ErrSupplementExhausted
		}
		return err
	}
	c.supplementsUsed++
	used := c.supplementsUsed
	c.mu.Unlock()

	c.emitter.Emit(c.id, EventTimeExtended, TimeExtendedPayload{
		Phase:          ev.Phase,
		AddedSec:       ev.AddedSec,
		RemainingSec:   ev.RemainingSec,
		ExtensionsUsed: ev.ExtensionsUsed,
	})
	c.emitter.Emit(c.id, EventUserSupplement, UserSupplementPayload{
		Content:         content,
		Phase:           current,
		SupplementsUsed: used,
		SupplementsLeft: perms.MaxSupplementCount - used,
	})

	// Personas react to the new information in the background.
	go c.dispatchRound(ctx, current, c.machine.Round(), content)
	return nil
}

// SubmitPrediction records a user's price guess during the prediction
// phase.
func (c *Coordinator) SubmitPrediction(clientID string, amount, confidence float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != domain.SessionActive {
		return ErrSessionEnded
	}
	if !domain.PermissionsFor(c.machine.Phase()).CanUserInput {
		return ErrPredictionNotOpen
	}
	if amount <= 0 {
		return ErrInvalidPrediction
	}
	c.predictions = append(c.predictions, domain.Prediction{
		ClientID:   clientID,
		Amount:     amount,
		Confidence: clamp01(confidence),
		Timestamp:  c.clk.Now(),
	})
	return nil
}

// SupportPersona toggles the user's support flag on a persona and
// broadcasts the updated state.
func (c *Coordinator) SupportPersona(personaID string, supported bool) error {
	state := c.agg.SetSupported(personaID, supported)
	if state == nil {
		return ErrUnknownPersona
	}
	c.emitter.Emit(c.id, EventAgentStates, AgentStatesPayload{States: []*domain.AgentState{state}})
	return nil
}

// ForceAdvance skips to the next phase. Admin/test override.
func (c *Coordinator) ForceAdvance(ctx context.Context) {
	c.handleEvents(ctx, c.machine.ForceAdvance())
}

// Snapshot returns the current full session state.
func (c *Coordinator) Snapshot() domain.SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Transcript returns all messages recorded so far, for client resync.
func (c *Coordinator) Transcript() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// AgentStates returns the current per-persona view, for client resync.
func (c *Coordinator) AgentStates() map[string]*domain.AgentState {
	return c.agg.States()
}

func (c *Coordinator) handleEvents(ctx context.Context, events []phase.Event) {
	for _, ev := range events {
		switch ev.Kind {
		case phase.EventPhaseChanged:
			c.enterPhase(ctx, ev)
		case phase.EventTimeExtended:
			c.emitter.Emit(c.id, EventTimeExtended, TimeExtendedPayload{
				Phase:          ev.Phase,
				AddedSec:       ev.AddedSec,
				RemainingSec:   ev.RemainingSec,
				ExtensionsUsed: ev.ExtensionsUsed,
			})
		case phase.EventFinished:
			c.end("completed")
		}
	}
}

func (c *Coordinator) enterPhase(ctx context.Context, ev phase.Event) {
	c.mu.Lock()
	c.supplementsUsed = 0
	c.mu.Unlock()
	c.agg.SetPhase(ev.Phase)

	slog.Info("Phase entered", "session_id", c.id, "phase", ev.Phase, "duration_sec", ev.DurationSec)
	c.emitter.Emit(c.id, EventPhaseChange, PhaseChangePayload{
		Phase:        ev.Phase,
		DurationSec:  ev.DurationSec,
		RemainingSec: ev.RemainingSec,
		Round:        c.machine.Round(),
		Permissions:  domain.PermissionsFor(ev.Phase).WithSupplementCap(c.roster.Extension.MaxPerPhase),
	})

	if ev.Phase == domain.PhaseResult {
		c.announceResult()
		return
	}
	go c.runPhaseTurns(ctx, ev.Phase)
}

// runPhaseTurns schedules the speaking rounds of one phase. Bidding
// runs the configured number of rounds spaced across the phase; every
// other phase gets a single opening round.
func (c *Coordinator) runPhaseTurns(ctx context.Context, ph domain.Phase) {
	rounds := 1
	if ph == domain.PhaseBidding && c.roster.Bidding.Rounds > 1 {
		rounds = c.roster.Bidding.Rounds
	}
	gap := time.Duration(c.roster.Phases.Seconds(ph)/rounds) * time.Second

	for i := 0; i < rounds; i++ {
		if ctx.Err() != nil || c.machine.Phase() != ph {
			return
		}
		round := c.machine.Round()
		c.dispatchRound(ctx, ph, round, "")
		if i+1 < rounds {
			select {
			case <-c.clk.After(gap):
				c.machine.NextRound()
			case <-ctx.Done():
				return
			}
		}
	}
}

// dispatchRound fans one generation request per persona out through
// the dispatcher and feeds the results into bids and the buffer.
func (c *Coordinator) dispatchRound(ctx context.Context, ph domain.Phase, round int, trigger string) {
	c.mu.Lock()
	history := historyTail(c.messages, historyWindow)
	bids := copyBids(c.bids)
	c.mu.Unlock()

	reqs := make([]provider.Request, 0, len(c.roster.Personas))
	for _, p := range c.roster.Personas {
		reqs = append(reqs, provider.Request{
			PersonaID:   p.ID,
			Phase:       ph,
			Round:       round,
			IdeaContent: c.idea,
			Trigger:     trigger,
			CurrentBids: bids,
			History:     history,
		})
	}

	for res := range c.dispatcher.DispatchAll(ctx, reqs) {
		c.recordResult(res)
	}
}

// recordResult appends the message to the transcript, applies any bid
// and hands the message to the buffer for batched broadcast.
func (c *Coordinator) recordResult(res provider.Result) {
	c.mu.Lock()
	if c.status != domain.SessionActive {
		c.mu.Unlock()
		return
	}
	c.messages = append(c.messages, res.Message)
	c.mu.Unlock()

	if res.Fallback {
		slog.Warn("Dispatch fell back", "session_id", c.id, "persona_id", res.Message.PersonaID, "reason", res.Reason)
	}
	if res.Message.IsBid() && !res.Fallback {
		c.applyBid(res.Message.PersonaID, res.Message.BidValue)
	}
	c.buffer.Add(res.Message)
}

// applyBid enforces the raise rule: a persona's new bid must exceed
// its previous one. Rejected bids are broadcast as rejected so clients
// can render the attempt.
func (c *Coordinator) applyBid(personaID string, amount float64) {
	c.mu.Lock()
	accepted := amount > c.bids[personaID]
	if accepted {
		c.bids[personaID] = amount
		if amount > c.highestBid {
			c.highestBid = amount
			c.highestBidder = personaID
		}
	}
	payload := BidUpdatePayload{
		PersonaID:     personaID,
		Amount:        amount,
		Accepted:      accepted,
		Bids:          copyBids(c.bids),
		HighestBid:    c.highestBid,
		HighestBidder: c.highestBidder,
	}
	c.mu.Unlock()

	c.emitter.Emit(c.id, EventBidUpdate, payload)
}

// deliver runs one aggregation cycle over a flushed batch and
// broadcasts the messages plus the updated agent states.
func (c *Coordinator) deliver(batch []domain.Message) {
	states := c.agg.ApplyBatch(batch)
	for _, msg := range batch {
		c.emitter.Emit(c.id, EventAgentMessage, msg)
	}
	if len(states) > 0 {
		c.emitter.Emit(c.id, EventAgentStates, AgentStatesPayload{States: states})
	}
}

func (c *Coordinator) announceResult() {
	c.mu.Lock()
	payload := ResultPayload{
		HighestBid:        c.highestBid,
		HighestBidder:     c.highestBidder,
		Bids:              copyBids(c.bids),
		WinningPrediction: closestPrediction(c.predictions, c.highestBid),
	}
	c.mu.Unlock()
	c.emitter.Emit(c.id, EventAuctionResult, payload)
}

// end marks the session finished exactly once, broadcasts the terminal
// snapshot and hands it to the archive.
func (c *Coordinator) end(reason string) {
	c.mu.Lock()
	if c.status != domain.SessionActive {
		c.mu.Unlock()
		return
	}
	if reason == "completed" {
		c.status = domain.SessionEnded
	} else {
		c.status = domain.SessionCancelled
	}
	c.endReason = reason
	c.endedAt = c.clk.Now()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	slog.Info("Session ended", "session_id", c.id, "reason", reason, "highest_bid", snap.HighestBid, "messages", len(snap.Messages))
	c.emitter.Emit(c.id, EventSessionEnded, SessionEndedPayload{Reason: reason, Snapshot: snap})

	if c.archive != nil {
		if err := c.archive.Save(context.Background(), snap); err != nil {
			slog.Error("Failed to archive session", "session_id", c.id, "error", err)
		}
	}
}

func (c *Coordinator) snapshotLocked() domain.SessionSnapshot {
	messages := make([]domain.Message, len(c.messages))
	copy(messages, c.messages)
	predictions := make([]domain.Prediction, len(c.predictions))
	copy(predictions, c.predictions)

	var totalCost float64
	for _, cost := range c.dispatcher.Costs() {
		totalCost += cost
	}

	return domain.SessionSnapshot{
		ID:              c.id,
		IdeaContent:     c.idea,
		Status:          c.status,
		Phase:           c.machine.Phase(),
		Round:           c.machine.Round(),
		TimeRemaining:   c.machine.Remaining(),
		Bids:            copyBids(c.bids),
		HighestBid:      c.highestBid,
		HighestBidder:   c.highestBidder,
		Messages:        messages,
		Predictions:     predictions,
		StartedAt:       c.startedAt,
		EndedAt:         c.endedAt,
		EndReason:       c.endReason,
		TotalCallCost:   totalCost,
		SupplementsUsed: c.supplementsUsed,
	}
}

// drainBatches flushes whatever the buffer still holds after the run
// loop decided to exit, so late messages are not silently dropped.
func (c *Coordinator) drainBatches() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	for batch := range c.buffer.Batches() {
		c.deliver(batch)
	}
}

func historyTail(messages []domain.Message, n int) []string {
	start := len(messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, 0, len(messages)-start)
	for _, m := range messages[start:] {
		out = append(out, m.PersonaID+": "+m.Content)
	}
	return out
}

func copyBids(bids map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(bids))
	for id, amount := range bids {
		out[id] = amount
	}
	return out
}

// closestPrediction scores user predictions against the final price.
func closestPrediction(predictions []domain.Prediction, finalPrice float64) *domain.Prediction {
	var best *domain.Prediction
	bestDiff := math.MaxFloat64
	for i := range predictions {
		diff := math.Abs(predictions[i].Amount - finalPrice)
		if diff < bestDiff {
			bestDiff = diff
			best = &predictions[i]
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}
