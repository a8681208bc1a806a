package provider

import (
	"sync"
	"time"

	"github.com/auctionhall/auctiond/internal/clock"
)

// DefaultCooldown is how long a provider stays unhealthy after a
// reported failure. Recovery is purely time-based; there is no
// half-open probe.
const DefaultCooldown = 5 * time.Minute

// HealthRegistry tracks per-provider availability. A provider flips
// unhealthy on failure and recovers automatically once the cooldown
// elapses. Access is serialized per provider, never globally.
type HealthRegistry struct {
	clk      clock.Clock
	cooldown time.Duration

	mu      sync.RWMutex
	entries map[string]*healthEntry
}

type healthEntry struct {
	mu             sync.Mutex
	unhealthyUntil time.Time
}

// NewHealthRegistry creates a registry with the given cooldown for the
// listed providers. A zero cooldown uses DefaultCooldown.
func NewHealthRegistry(clk clock.Clock, cooldown time.Duration, providerIDs []string) *HealthRegistry {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	entries := make(map[string]*healthEntry, len(providerIDs))
	for _, id := range providerIDs {
		entries[id] = &healthEntry{}
	}
	return &HealthRegistry{clk: clk, cooldown: cooldown, entries: entries}
}

// IsHealthy reports whether the provider may be dispatched to now.
func (h *HealthRegistry) IsHealthy(providerID string) bool {
	e := h.entry(providerID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return !h.clk.Now().Before(e.unhealthyUntil)
}

// ReportFailure marks the provider unhealthy until now + cooldown.
func (h *HealthRegistry) ReportFailure(providerID string) {
	e := h.entry(providerID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unhealthyUntil = h.clk.Now().Add(h.cooldown)
}

// ReportSuccess clears any pending cooldown. A success while already
// healthy is a no-op.
func (h *HealthRegistry) ReportSuccess(providerID string) {
	e := h.entry(providerID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unhealthyUntil = time.Time{}
}

// UnhealthyUntil returns the recovery deadline, or the zero time when
// the provider is healthy.
func (h *HealthRegistry) UnhealthyUntil(providerID string) time.Time {
	e := h.entry(providerID)
	if e == nil {
		return time.Time{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if h.clk.Now().Before(e.unhealthyUntil) {
		return e.unhealthyUntil
	}
	return time.Time{}
}

// Snapshot returns the current health of every registered provider.
func (h *HealthRegistry) Snapshot() map[string]bool {
	h.mu.RLock()
	ids := make([]string, 0, len(h.entries))
	for id := range h.entries {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = h.IsHealthy(id)
	}
	return out
}

func (h *HealthRegistry) entry(providerID string) *healthEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.entries[providerID]
}
