// Package provider implements dispatch to upstream AI backends with
// rate limiting, health tracking and deterministic fallbacks.
package provider

import (
	"sync"
	"time"

	"github.com/auctionhall/auctiond/internal/clock"
)

// rateWindowSpan is the trailing 60 seconds of admission control.
const rateWindowSpan = time.Minute

// RateLimiter applies a sliding-window admission check per provider.
// Each provider has its own lock so independent providers never block
// each other.
type RateLimiter struct {
	clk clock.Clock

	mu      sync.RWMutex
	windows map[string]*providerWindow
}

type providerWindow struct {
	mu    sync.Mutex
	limit int
	// admitted holds timestamps of admitted calls within the window,
	// oldest first. Pruned on every check.
	admitted []time.Time
}

// NewRateLimiter creates a limiter for the given per-provider limits.
func NewRateLimiter(clk clock.Clock, limits map[string]int) *RateLimiter {
	windows := make(map[string]*providerWindow, len(limits))
	for id, limit := range limits {
		windows[id] = &providerWindow{limit: limit}
	}
	return &RateLimiter{clk: clk, windows: windows}
}

// Admit reports whether a call to the provider would currently be
// admitted. It has no side effects; callers that proceed must invoke
// RecordAdmission (or use TryAcquire for an atomic check-and-record).
func (r *RateLimiter) Admit(providerID string) bool {
	w := r.window(providerID)
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(r.clk.Now())
	return len(w.admitted) < w.limit
}

// RecordAdmission records one admitted call for the provider.
func (r *RateLimiter) RecordAdmission(providerID string) {
	w := r.window(providerID)
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.admitted = append(w.admitted, r.clk.Now())
}

// TryAcquire atomically checks and records an admission. Concurrent
// dispatchers use this so the window never exceeds the limit even
// under racing checks.
func (r *RateLimiter) TryAcquire(providerID string) bool {
	w := r.window(providerID)
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	now := r.clk.Now()
	w.prune(now)
	if len(w.admitted) >= w.limit {
		return false
	}
	w.admitted = append(w.admitted, now)
	return true
}

// InWindow returns the number of admitted calls currently inside the
// provider's window.
func (r *RateLimiter) InWindow(providerID string) int {
	w := r.window(providerID)
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(r.clk.Now())
	return len(w.admitted)
}

func (r *RateLimiter) window(providerID string) *providerWindow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.windows[providerID]
}

func (w *providerWindow) prune(now time.Time) {
	cutoff := now.Add(-rateWindowSpan)
	i := 0
	for i < len(w.admitted) && !w.admitted[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.admitted = append(w.admitted[:0], w.admitted[i:]...)
	}
}
