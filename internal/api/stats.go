package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/auctionhall/auctiond/internal/provider"
	"github.com/auctionhall/auctiond/internal/store"
	"github.com/go-chi/chi/v5"
)

// StatsHandler exposes provider health and cost accounting.
type StatsHandler struct {
	dispatcher *provider.Dispatcher
}

// NewStatsHandler creates a stats handler.
func NewStatsHandler(dispatcher *provider.Dispatcher) *StatsHandler {
	return &StatsHandler{dispatcher: dispatcher}
}

// RegisterRoutes registers stats routes.
func (h *StatsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/stats/providers", h.Providers)
}

// Providers returns per-provider health and accumulated call costs.
func (h *StatsHandler) Providers(w http.ResponseWriter, r *http.Request) {
	costs := h.dispatcher.Costs()
	var total float64
	for _, c := range costs {
		total += c
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"health":     h.dispatcher.Health(),
		"costs":      costs,
		"total_cost": total,
	})
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	archive store.Archive
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(archive store.Archive) *HealthHandler {
	return &HealthHandler{archive: archive}
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]interface{}{
		"status": "healthy",
		"checks": map[string]string{"api": "ok"},
	}
	statusCode := http.StatusOK

	if err := h.archive.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		status["checks"].(map[string]string)["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		status["checks"].(map[string]string)["database"] = "ok"
	}

	JSON(w, statusCode, status)
}
