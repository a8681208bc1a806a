package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/auctionhall/auctiond/internal/config"
	"github.com/auctionhall/auctiond/internal/domain"
	"github.com/auctionhall/auctiond/internal/session"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// Handler upgrades viewer connections and bridges them to a session.
type Handler struct {
	hub           *Hub
	sessions      *session.Manager
	cfg           config.TransportConfig
	allowedOrigin string
	isDev         bool
}

// NewHandler creates the WebSocket upgrade handler.
func NewHandler(hub *Hub, sessions *session.Manager, cfg config.TransportConfig, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		hub:           hub,
		sessions:      sessions,
		cfg:           cfg,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	coord, ok := h.sessions.Get(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	v := &viewer{
		send:      make(chan []byte, sendBuffer),
		closeSlow: func() { _ = ws.Close(websocket.StatusPolicyViolation, "too slow to keep up") },
	}
	h.hub.Register(sessionID, v)
	defer h.hub.Unregister(sessionID, v)

	// Late joiners get the full state up front.
	if err := h.sendResync(ctx, ws, coord); err != nil {
		slog.Debug("Failed to send initial resync", "error", err, "session_id", sessionID)
		return
	}

	go h.writePump(ctx, cancel, ws, v)
	h.readLoop(ctx, ws, coord, r.RemoteAddr)
	slog.Info("Viewer connection closed", "session_id", sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// writePump owns the connection's write side: it drains the viewer's
// queue and pings on the heartbeat interval, closing the connection
// when a pong does not arrive in time.
func (h *Handler) writePump(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, v *viewer) {
	defer cancel()
	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case data := <-v.send:
			if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
				slog.Debug("WebSocket write error", "error", err)
				return
			}
		case <-heartbeat.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, h.cfg.HeartbeatTimeout-h.cfg.HeartbeatInterval)
			err := ws.Ping(pingCtx)
			pingCancel()
			if err != nil {
				slog.Debug("Heartbeat failed, dropping viewer", "error", err)
				_ = ws.Close(websocket.StatusPolicyViolation, "heartbeat timeout")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readLoop consumes client messages until the connection drops.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, coord *session.Coordinator, remoteAddr string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client")
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(ctx, ws, "malformed message")
			continue
		}
		if err := msg.Validate(); err != nil {
			h.sendError(ctx, ws, err.Error())
			continue
		}

		switch msg.Type {
		case TypePing:
			h.writeEnvelope(ctx, ws, TypePong, nil)
		case TypeGetMessages:
			if err := h.sendResync(ctx, ws, coord); err != nil {
				slog.Debug("Failed to send resync", "error", err)
				return
			}
		case TypeUserSupplement:
			if err := coord.RequestSupplement(ctx, msg.Content); err != nil {
				h.sendError(ctx, ws, err.Error())
			}
		case TypeSubmitPrediction:
			if err := coord.SubmitPrediction(remoteAddr, msg.Amount, msg.Confidence); err != nil {
				h.sendError(ctx, ws, err.Error())
			}
		case TypeSupportPersona:
			supported := msg.Supported == nil || *msg.Supported
			if err := coord.SupportPersona(msg.PersonaID, supported); err != nil {
				h.sendError(ctx, ws, err.Error())
			}
		}
	}
}

// ResyncPayload carries the full session state for late joiners and
// reconnecting clients.
type ResyncPayload struct {
	Snapshot domain.SessionSnapshot        `json:"snapshot"`
	States   map[string]*domain.AgentState `json:"agent_states"`
}

func (h *Handler) sendResync(ctx context.Context, ws *websocket.Conn, coord *session.Coordinator) error {
	return h.writeEnvelope(ctx, ws, TypeResync, ResyncPayload{
		Snapshot: coord.Snapshot(),
		States:   coord.AgentStates(),
	})
}

func (h *Handler) sendError(ctx context.Context, ws *websocket.Conn, message string) {
	if err := h.writeEnvelope(ctx, ws, TypeError, ErrorPayload{Message: message}); err != nil {
		slog.Debug("Failed to send error envelope", "error", err)
	}
}

func (h *Handler) writeEnvelope(ctx context.Context, ws *websocket.Conn, typ string, payload any) error {
	env, err := NewEnvelope(typ, payload, h.hub.clk.Now())
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		if !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}
