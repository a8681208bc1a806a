package provider

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/auctionhall/auctiond/internal/clock"
	"github.com/auctionhall/auctiond/internal/config"
	"github.com/auctionhall/auctiond/internal/domain"
	"github.com/google/uuid"
)

// FailureReason classifies why a dispatch fell back.
type FailureReason string

const (
	// ReasonNone indicates a successful upstream call.
	ReasonNone FailureReason = ""
	// ReasonUnknownPersona indicates the persona has no provider route.
	ReasonUnknownPersona FailureReason = "unknown_persona"
	// ReasonCircuitOpen indicates the provider is cooling down.
	ReasonCircuitOpen FailureReason = "circuit_open"
	// ReasonRateLimited indicates the sliding window was full.
	ReasonRateLimited FailureReason = "rate_limited"
	// ReasonUpstreamError indicates the call itself failed.
	ReasonUpstreamError FailureReason = "upstream_error"
)

// Request describes one generation dispatch for a persona.
type Request struct {
	PersonaID   string
	Phase       domain.Phase
	Round       int
	IdeaContent string
	Trigger     string
	CurrentBids map[string]float64
	History     []string
}

// Result is the value every dispatch resolves to. Dispatch never
// returns an error: failures degrade to a deterministic fallback so
// the session scheduling loop is never blocked by a bad provider.
type Result struct {
	Message  domain.Message
	Fallback bool
	Reason   FailureReason
	Cost     float64
}

// Dispatcher routes generation requests to concrete providers,
// applying rate limiting and health checks before each call.
type Dispatcher struct {
	roster  *config.AuctionConfig
	limiter *RateLimiter
	health  *HealthRegistry
	caller  Caller
	clk     clock.Clock

	costMu sync.Mutex
	costs  map[string]float64
}

// NewDispatcher wires a dispatcher from its collaborators. Nothing is
// global; construct once in main and inject.
func NewDispatcher(roster *config.AuctionConfig, limiter *RateLimiter, health *HealthRegistry, caller Caller, clk clock.Clock) *Dispatcher {
	return &Dispatcher{
		roster:  roster,
		limiter: limiter,
		health:  health,
		caller:  caller,
		clk:     clk,
		costs:   make(map[string]float64),
	}
}

// Dispatch resolves the persona's provider, checks health and rate
// admission, performs the upstream call and wraps the payload into a
// Message. Every failure path resolves to a fallback Result.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	persona, ok := d.roster.PersonaByID(req.PersonaID)
	if !ok {
		slog.Warn("Dispatch for unknown persona", "persona_id", req.PersonaID)
		return d.fallback(req, ReasonUnknownPersona, 0)
	}
	prov, ok := d.roster.ProviderByID(persona.PreferredProvider)
	if !ok {
		slog.Warn("Persona routed to unknown provider", "persona_id", req.PersonaID, "provider_id", persona.PreferredProvider)
		return d.fallback(req, ReasonUnknownPersona, 0)
	}

	// Unhealthy and rate-limited are distinct failure modes: an open
	// circuit means do not retry before the cooldown; a full window
	// means the next cycle may succeed.
	if !d.health.IsHealthy(prov.ID) {
		return d.fallback(req, ReasonCircuitOpen, 0)
	}
	if !d.limiter.TryAcquire(prov.ID) {
		return d.fallback(req, ReasonRateLimited, 0)
	}

	resp, err := d.caller.Generate(ctx, prov, GenerationRequest{
		SystemPrompt: persona.SystemPrompt,
		UserPrompt:   d.buildPrompt(req),
		Temperature:  0.7,
		MaxTokens:    500,
	})
	if err != nil {
		d.health.ReportFailure(prov.ID)
		slog.Warn("Upstream call failed", "provider_id", prov.ID, "persona_id", req.PersonaID, "error", err)
		return d.fallback(req, ReasonUpstreamError, 0)
	}
	d.health.ReportSuccess(prov.ID)
	d.recordCost(prov.ID, prov.CostPerCall)

	msg := domain.Message{
		ID:         uuid.New().String(),
		PersonaID:  req.PersonaID,
		Phase:      req.Phase,
		Round:      req.Round,
		Type:       messageTypeFor(req.Phase),
		Content:    resp.Content,
		Confidence: 0.8,
		Emotion:    inferEmotion(resp.Content),
		Timestamp:  d.clk.Now(),
	}
	if req.Phase == domain.PhaseBidding {
		msg.BidValue = d.extractBid(resp.Content)
	}

	return Result{Message: msg, Cost: prov.CostPerCall}
}

// DispatchAll fans requests out concurrently and delivers results in
// arrival order. The returned channel closes once all dispatches have
// resolved; callers must not assume results match request order.
func (d *Dispatcher) DispatchAll(ctx context.Context, reqs []Request) <-chan Result {
	out := make(chan Result, len(reqs))
	var wg sync.WaitGroup
	wg.Add(len(reqs))
	for _, req := range reqs {
		go func(req Request) {
			defer wg.Done()
			out <- d.Dispatch(ctx, req)
		}(req)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Costs returns accumulated per-provider call costs.
func (d *Dispatcher) Costs() map[string]float64 {
	d.costMu.Lock()
	defer d.costMu.Unlock()
	out := make(map[string]float64, len(d.costs))
	for id, c := range d.costs {
		out[id] = c
	}
	return out
}

// Health exposes the registry snapshot for the stats endpoint.
func (d *Dispatcher) Health() map[string]bool {
	return d.health.Snapshot()
}

func (d *Dispatcher) recordCost(providerID string, cost float64) {
	d.costMu.Lock()
	d.costs[providerID] += cost
	d.costMu.Unlock()
}

func (d *Dispatcher) fallback(req Request, reason FailureReason, cost float64) Result {
	return Result{
		Message: domain.Message{
			ID:         uuid.New().String(),
			PersonaID:  req.PersonaID,
			Phase:      req.Phase,
			Round:      req.Round,
			Type:       messageTypeFor(req.Phase),
			Content:    fallbackContent,
			Confidence: 0,
			Emotion:    domain.EmotionNeutral,
			Timestamp:  d.clk.Now(),
		},
		Fallback: true,
		Reason:   reason,
		Cost:     cost,
	}
}

// fallbackContent is the canned response used whenever a dispatch
// cannot complete. Zero confidence marks it for the aggregator.
const fallbackContent = "I'm having some technical trouble right now; I'll weigh in on this idea shortly."

func messageTypeFor(phase domain.Phase) domain.MessageType {
	switch phase {
	case domain.PhaseWarmup:
		return domain.MessageIntro
	case domain.PhaseBidding:
		return domain.MessageBid
	case domain.PhasePrediction:
		return domain.MessageQuestion
	default:
		return domain.MessageAnalysis
	}
}

func (d *Dispatcher) buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Idea under review: %s\n", req.IdeaContent)
	fmt.Fprintf(&b, "Current phase: %s\n", req.Phase)
	if req.Round > 0 {
		fmt.Fprintf(&b, "Round: %d\n", req.Round)
	}
	if req.Trigger != "" {
		fmt.Fprintf(&b, "Trigger: %s\n", req.Trigger)
	}
	if len(req.History) > 0 {
		fmt.Fprintf(&b, "Earlier remarks:\n%s\n", strings.Join(req.History, "\n"))
	}
	if len(req.CurrentBids) > 0 {
		b.WriteString("Current bids:\n")
		ids := make([]string, 0, len(req.CurrentBids))
		for id := range req.CurrentBids {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(&b, "%s: %.0f credits\n", id, req.CurrentBids[id])
		}
	}

	switch req.Phase {
	case domain.PhaseWarmup:
		b.WriteString("\nIntroduce yourself briefly and give your first impression of this idea. Stay in character; keep it under 150 words.")
	case domain.PhaseDiscussion:
		b.WriteString("\nAnalyze the strengths and weaknesses of this idea from your specialty. You may challenge the other experts' views.")
	case domain.PhaseBidding:
		fmt.Fprintf(&b, "\nState your bid for this idea between %.0f and %.0f credits and justify it. Format: I bid X credits, because...",
			d.roster.Bidding.MinBid, d.roster.Bidding.MaxBid)
	default:
		b.WriteString("\nEvaluate this idea from your professional perspective.")
	}
	return b.String()
}

var bidPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bid\s*(\d+)`),
	regexp.MustCompile(`(?i)(\d+)\s*credits?`),
	regexp.MustCompile(`(?i)price\s*(\d+)`),
	regexp.MustCompile(`(\d+)`),
}

// extractBid pulls a bid amount out of free-form response text and
// clamps it to the configured range.
func (d *Dispatcher) extractBid(content string) float64 {
	for _, pattern := range bidPatterns {
		m := pattern.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		amount, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if min := d.roster.Bidding.MinBid; amount < min {
			amount = min
		}
		if max := d.roster.Bidding.MaxBid; max > 0 && amount > max {
			amount = max
		}
		return amount
	}
	return d.roster.Bidding.MinBid
}

// inferEmotion derives a displayed mood from response content by
// keyword sentiment, mirroring how the clients animate personas.
func inferEmotion(content string) domain.Emotion {
	normalized := strings.ToLower(content)
	switch {
	case containsAny(normalized, "breakthrough", "excited", "amazing", "love this"):
		return domain.EmotionExcited
	case containsAny(normalized, "concern", "risky", "uncertain", "question", "doubt"):
		return domain.EmotionWorried
	case containsAny(normalized, "confident", "certain", "definitely", "assured"):
		return domain.EmotionConfident
	default:
		return domain.EmotionNeutral
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
