package transport

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/auctionhall/auctiond/internal/clock"
)

// sendBuffer bounds the per-viewer outbound queue. A viewer that
// cannot drain this many frames is disconnected rather than allowed
// to stall the broadcast path.
const sendBuffer = 64

// viewer is one connected client of a session. The write pump owns
// the connection's write side and drains send.
type viewer struct {
	send      chan []byte
	closeSlow func()
}

// Hub fans session events out to every connected viewer. It
// implements the session emitter interface; broadcasts never block on
// a slow connection.
type Hub struct {
	clk clock.Clock

	mu      sync.RWMutex
	viewers map[string]map[*viewer]struct{}
}

// NewHub creates an empty hub.
func NewHub(clk clock.Clock) *Hub {
	return &Hub{
		clk:     clk,
		viewers: make(map[string]map[*viewer]struct{}),
	}
}

// Emit broadcasts a session event to all of its viewers. The envelope
// is marshaled once and shared.
func (h *Hub) Emit(sessionID, event string, payload any) {
	env, err := NewEnvelope(event, payload, h.clk.Now())
	if err != nil {
		slog.Error("Failed to build envelope", "event", event, "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("Failed to marshal envelope", "event", event, "error", err)
		return
	}
	h.broadcast(sessionID, data)
}

// Register attaches a viewer to a session and announces the new
// viewer count.
func (h *Hub) Register(sessionID string, v *viewer) {
	h.mu.Lock()
	if _, ok := h.viewers[sessionID]; !ok {
		h.viewers[sessionID] = make(map[*viewer]struct{})
	}
	h.viewers[sessionID][v] = struct{}{}
	count := len(h.viewers[sessionID])
	h.mu.Unlock()

	slog.Info("Viewer joined", "session_id", sessionID, "viewers", count)
	h.Emit(sessionID, TypeViewerCount, ViewerCountPayload{Count: count})
}

// Unregister detaches a viewer and announces the new count.
func (h *Hub) Unregister(sessionID string, v *viewer) {
	h.mu.Lock()
	count := -1
	if set, ok := h.viewers[sessionID]; ok {
		if _, exists := set[v]; exists {
			delete(set, v)
			count = len(set)
			if count == 0 {
				delete(h.viewers, sessionID)
			}
		}
	}
	h.mu.Unlock()

	if count < 0 {
		return
	}
	slog.Info("Viewer left", "session_id", sessionID, "viewers", count)
	h.Emit(sessionID, TypeViewerCount, ViewerCountPayload{Count: count})
}

// ViewerCount returns how many clients watch a session.
func (h *Hub) ViewerCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers[sessionID])
}

func (h *Hub) broadcast(sessionID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for v := range h.viewers[sessionID] {
		select {
		case v.send <- data:
		default:
			// Queue full: the viewer cannot keep up.
			go v.closeSlow()
		}
	}
}
