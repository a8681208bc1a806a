package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/auctionhall/auctiond/internal/clock"
	"github.com/auctionhall/auctiond/internal/config"
	"github.com/auctionhall/auctiond/internal/domain"
	"github.com/auctionhall/auctiond/internal/provider"
)

type recordedEvent struct {
	Event   string
	Payload any
}

// recordingEmitter captures every broadcast for assertions.
type recordingEmitter struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingEmitter) Emit(sessionID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Event: event, Payload: payload})
}

func (r *recordingEmitter) byType(event string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, ev := range r.events {
		if ev.Event == event {
			out = append(out, ev)
		}
	}
	return out
}

type recordingArchive struct {
	mu    sync.Mutex
	snaps []domain.SessionSnapshot
}

func (r *recordingArchive) Save(_ context.Context, snap domain.SessionSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return nil
}

func (r *recordingArchive) saved() []domain.SessionSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SessionSnapshot(nil), r.snaps...)
}

type cannedCaller struct {
	content string
}

func (c *cannedCaller) Generate(context.Context, domain.Provider, provider.GenerationRequest) (provider.GenerationResponse, error) {
	return provider.GenerationResponse{Content: c.content, TokensUsed: 42}, nil
}

func sessionRoster() *config.AuctionConfig {
	return &config.AuctionConfig{
		Providers: []domain.Provider{{
			ID:                 "prov-a",
			BaseEndpoint:       "http://localhost:0",
			Model:              "test-model",
			RateLimitPerMinute: 100,
			CostPerCall:        0.01,
		}},
		Personas: []domain.PersonaProfile{
			{ID: "alice", Name: "Alice", PreferredProvider: "prov-a"},
			{ID: "bob", Name: "Bob", PreferredProvider: "prov-a"},
		},
		Phases: config.PhaseTimings{
			Warmup:     2,
			Discussion: 3,
			Bidding:    2,
			Prediction: 2,
			Result:     1,
		},
		Extension: config.ExtensionPolicy{Enabled: true, MaxPerPhase: 2, ExtensionSeconds: 30},
		Bidding:   config.BiddingPolicy{MinBid: 80, MaxBid: 500, Rounds: 1},
	}
}

func newTestCoordinator(t *testing.T, content string) (*Coordinator, *recordingEmitter, *recordingArchive, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Unix(1700000000, 0))
	roster := sessionRoster()
	disp := provider.NewDispatcher(roster, provider.NewRateLimiter(fake, roster.RateLimits()), provider.NewHealthRegistry(fake, 0, roster.ProviderIDs()), &cannedCaller{content: content}, fake)
	emitter := &recordingEmitter{}
	archive := &recordingArchive{}
	return NewCoordinator("a solar-powered toaster", roster, BufferConfig{}, disp, emitter, archive, fake), emitter, archive, fake
}

// advanceUntil steps the fake clock one second at a time, yielding to
// the run loop between steps, until cond holds or the budget runs out.
func advanceUntil(t *testing.T, fake *clock.Fake, cond func() bool) {
	t.Helper()
	for i := 0; i < 200; i++ {
		if cond() {
			return
		}
		fake.Advance(time.Second)
		time.Sleep(2 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not reached within the advance budget")
	}
}

func TestCoordinatorRunsFullLifecycle(t *testing.T) {
	coord, emitter, archive, fake := newTestCoordinator(t, "I bid 250 credits for this one.")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	advanceUntil(t, fake, func() bool {
		select {
		case <-coord.Done():
			return true
		default:
			return false
		}
	})

	changes := emitter.byType(EventPhaseChange)
	want := domain.Phases()
	if len(changes) != len(want) {
		t.Fatalf("got %d phase_change events, want %d", len(changes), len(want))
	}
	for i, ev := range changes {
		payload := ev.Payload.(PhaseChangePayload)
		if payload.Phase != want[i] {
			t.Errorf("phase_change[%d] = %q, want %q", i, payload.Phase, want[i])
		}
		wantPerms := domain.PermissionsFor(want[i]).WithSupplementCap(sessionRoster().Extension.MaxPerPhase)
		if payload.Permissions != wantPerms {
			t.Errorf("phase_change[%d] carried wrong permissions", i)
		}
	}

	ended := emitter.byType(EventSessionEnded)
	if len(ended) != 1 {
		t.Fatalf("got %d session_ended events, want exactly 1", len(ended))
	}
	payload := ended[0].Payload.(SessionEndedPayload)
	if payload.Reason != "completed" {
		t.Errorf("end reason = %q, want completed", payload.Reason)
	}
	if payload.Snapshot.Status != domain.SessionEnded {
		t.Errorf("snapshot status = %q, want ended", payload.Snapshot.Status)
	}
	if len(payload.Snapshot.Messages) == 0 {
		t.Error("snapshot carries no messages")
	}

	snaps := archive.saved()
	if len(snaps) != 1 {
		t.Fatalf("archive saved %d snapshots, want 1", len(snaps))
	}
	if snaps[0].ID != coord.ID() {
		t.Errorf("archived snapshot id = %q, want %q", snaps[0].ID, coord.ID())
	}
	if snaps[0].TotalCallCost <= 0 {
		t.Error("archived snapshot has zero call cost despite successful dispatches")
	}
}

func TestCoordinatorSupplementBudgetPerPhase(t *testing.T) {
	coord, emitter, _, fake := newTestCoordinator(t, "interesting idea")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	advanceUntil(t, fake, func() bool { return coord.machine.Phase() == domain.PhaseWarmup && coord.machine.Remaining() > 0 })

	// Warmup forbids supplements outright.
	if err := coord.RequestSupplement(ctx, "consider the pricing"); err != ErrSupplementNotAllowed {
		t.Fatalf("supplement in warmup: err = %v, want ErrSupplementNotAllowed", err)
	}

	advanceUntil(t, fake, func() bool { return coord.machine.Phase() == domain.PhaseDiscussion })
	before := coord.machine.Remaining()

	// The roster grants two extensions per phase, so discussion takes
	// two supplements, each worth +30s.
	if err := coord.RequestSupplement(ctx, "it also works at night"); err != nil {
		t.Fatalf("first supplement in discussion: err = %v", err)
	}
	if got := coord.machine.Remaining(); got != before+30 {
		t.Errorf("remaining after first supplement = %d, want %d", got, before+30)
	}
	if err := coord.RequestSupplement(ctx, "and it is cheap"); err != nil {
		t.Fatalf("second supplement in discussion: err = %v", err)
	}
	if got := coord.machine.Remaining(); got != before+60 {
		t.Errorf("remaining after second supplement = %d, want %d", got, before+60)
	}
	if err := coord.RequestSupplement(ctx, "one more thing"); err != ErrSupplementExhausted {
		t.Fatalf("third supplement in discussion: err = %v, want ErrSupplementExhausted", err)
	}
	if got := coord.machine.Remaining(); got != before+60 {
		t.Errorf("rejected supplement changed remaining: %d, want %d", got, before+60)
	}

	if len(emitter.byType(EventTimeExtended)) != 2 {
		t.Errorf("got %d time_extended events, want 2", len(emitter.byType(EventTimeExtended)))
	}
	supplements := emitter.byType(EventUserSupplement)
	if len(supplements) != 2 {
		t.Fatalf("got %d user_supplement events, want 2", len(supplements))
	}
	if p := supplements[1].Payload.(UserSupplementPayload); p.SupplementsLeft != 0 {
		t.Errorf("SupplementsLeft = %d, want 0", p.SupplementsLeft)
	}

	if err := coord.RequestSupplement(ctx, "   "); err != ErrEmptySupplement {
		t.Errorf("blank supplement: err = %v, want ErrEmptySupplement", err)
	}
}

func TestCoordinatorPredictionGating(t *testing.T) {
	coord, _, _, fake := newTestCoordinator(t, "hm")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	advanceUntil(t, fake, func() bool { return coord.machine.Phase() == domain.PhaseDiscussion })
	if err := coord.SubmitPrediction("client-1", 300, 0.8); err != ErrPredictionNotOpen {
		t.Fatalf("prediction during discussion: err = %v, want ErrPredictionNotOpen", err)
	}

	advanceUntil(t, fake, func() bool { return coord.machine.Phase() == domain.PhasePrediction })
	if err := coord.SubmitPrediction("client-1", 300, 1.7); err != nil {
		t.Fatalf("prediction during prediction phase: err = %v", err)
	}
	if err := coord.SubmitPrediction("client-2", -5, 0.5); err != ErrInvalidPrediction {
		t.Fatalf("negative prediction: err = %v, want ErrInvalidPrediction", err)
	}

	snap := coord.Snapshot()
	if len(snap.Predictions) != 1 {
		t.Fatalf("snapshot has %d predictions, want 1", len(snap.Predictions))
	}
	if snap.Predictions[0].Confidence != 1 {
		t.Errorf("prediction confidence = %v, want clamped to 1", snap.Predictions[0].Confidence)
	}
}

func TestCoordinatorBidRaiseRule(t *testing.T) {
	coord, emitter, _, _ := newTestCoordinator(t, "unused")

	coord.applyBid("alice", 100)
	coord.applyBid("alice", 90) // not a raise
	coord.applyBid("bob", 120)

	updates := emitter.byType(EventBidUpdate)
	if len(updates) != 3 {
		t.Fatalf("got %d bid_update events, want 3", len(updates))
	}
	second := updates[1].Payload.(BidUpdatePayload)
	if second.Accepted {
		t.Error("lower re-bid was accepted, want rejected")
	}
	if second.Bids["alice"] != 100 {
		t.Errorf("alice's standing bid = %v, want 100", second.Bids["alice"])
	}
	last := updates[2].Payload.(BidUpdatePayload)
	if last.HighestBid != 120 || last.HighestBidder != "bob" {
		t.Errorf("highest = %v by %q, want 120 by bob", last.HighestBid, last.HighestBidder)
	}
}

func TestCoordinatorSupportPersona(t *testing.T) {
	coord, emitter, _, _ := newTestCoordinator(t, "unused")

	if err := coord.SupportPersona("alice", true); err != nil {
		t.Fatalf("SupportPersona: err = %v", err)
	}
	if err := coord.SupportPersona("mallory", true); err != ErrUnknownPersona {
		t.Fatalf("unknown persona: err = %v, want ErrUnknownPersona", err)
	}

	states := emitter.byType(EventAgentStates)
	if len(states) != 1 {
		t.Fatalf("got %d agent_states events, want 1", len(states))
	}
	payload := states[0].Payload.(AgentStatesPayload)
	if len(payload.States) != 1 || !payload.States[0].IsSupported {
		t.Error("broadcast state does not mark alice supported")
	}
}

func TestClosestPrediction(t *testing.T) {
	preds := []domain.Prediction{
		{ClientID: "a", Amount: 100},
		{ClientID: "b", Amount: 240},
		{ClientID: "c", Amount: 400},
	}
	winner := closestPrediction(preds, 250)
	if winner == nil || winner.ClientID != "b" {
		t.Fatalf("winner = %+v, want client b", winner)
	}
	if closestPrediction(nil, 250) != nil {
		t.Error("closestPrediction(nil) != nil")
	}
}
