package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/auctionhall/auctiond/internal/session"
	"github.com/auctionhall/auctiond/internal/store"
	"github.com/go-chi/chi/v5"
)

// maxIdeaLength bounds submitted idea text.
const maxIdeaLength = 4000

// SessionHandler handles session lifecycle endpoints.
type SessionHandler struct {
	sessions *session.Manager
	archive  store.Archive
	baseCtx  context.Context
}

// NewSessionHandler creates a session handler. Sessions launched from
// requests are bound to baseCtx, the server lifetime, so they survive
// the creating request.
func NewSessionHandler(baseCtx context.Context, sessions *session.Manager, archive store.Archive) *SessionHandler {
	return &SessionHandler{sessions: sessions, archive: archive, baseCtx: baseCtx}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{sessionID}", h.Get)
		r.Post("/{sessionID}/advance", h.Advance)
		r.Post("/{sessionID}/close", h.Close)
	})
}

type createSessionRequest struct {
	IdeaContent string `json:"idea_content"`
}

// Create starts a new auction session for an idea.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	idea := strings.TrimSpace(req.IdeaContent)
	if idea == "" {
		Error(w, http.StatusBadRequest, "idea_content is required")
		return
	}
	if len(idea) > maxIdeaLength {
		Error(w, http.StatusBadRequest, "idea_content too long")
		return
	}

	coord := h.sessions.Start(h.baseCtx, idea)

	slog.Info("Session created via API", "session_id", coord.ID(), "ip", r.RemoteAddr)
	JSON(w, http.StatusCreated, map[string]string{
		"session_id": coord.ID(),
		"status":     "started",
	})
}

// List returns snapshots of all live sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"sessions": h.sessions.Snapshots(),
	})
}

// Get returns a session's current state, falling back to the archive
// for finished sessions.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	if coord, ok := h.sessions.Get(id); ok {
		JSON(w, http.StatusOK, coord.Snapshot())
		return
	}

	snap, err := h.archive.GetSession(r.Context(), id)
	if err != nil {
		slog.Error("Failed to load archived session", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if snap == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, snap)
}

// Advance forces the session into its next phase.
func (h *SessionHandler) Advance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	coord, ok := h.sessions.Get(id)
	if !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	coord.ForceAdvance(r.Context())
	JSON(w, http.StatusOK, map[string]string{
		"status": "advanced",
		"phase":  string(coord.Snapshot().Phase),
	})
}

// Close stops a session early.
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	coord, ok := h.sessions.Get(id)
	if !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	coord.Close("cancelled")
	JSON(w, http.StatusOK, map[string]string{"status": "closing"})
}

// ArchiveHandler serves finished sessions.
type ArchiveHandler struct {
	archive store.Archive
}

// NewArchiveHandler creates an archive handler.
func NewArchiveHandler(archive store.Archive) *ArchiveHandler {
	return &ArchiveHandler{archive: archive}
}

// RegisterRoutes registers archive routes.
func (h *ArchiveHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/archive", h.List)
}

// List returns recent archived sessions.
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			Error(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	sessions, err := h.archive.ListSessions(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list archived sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}
