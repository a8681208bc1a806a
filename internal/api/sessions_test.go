package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/auctionhall/auctiond/internal/clock"
	"github.com/auctionhall/auctiond/internal/config"
	"github.com/auctionhall/auctiond/internal/domain"
	"github.com/auctionhall/auctiond/internal/provider"
	"github.com/auctionhall/auctiond/internal/session"
	"github.com/auctionhall/auctiond/internal/store"
	"github.com/go-chi/chi/v5"
)

type nopEmitter struct{}

func (nopEmitter) Emit(string, string, any) {}

type cannedCaller struct{}

func (cannedCaller) Generate(context.Context, domain.Provider, provider.GenerationRequest) (provider.GenerationResponse, error) {
	return provider.GenerationResponse{Content: "sounds promising"}, nil
}

func apiRoster() *config.AuctionConfig {
	return &config.AuctionConfig{
		Providers: []domain.Provider{{
			ID:                 "prov-a",
			BaseEndpoint:       "http://localhost:0",
			RateLimitPerMinute: 100,
			CostPerCall:        0.01,
		}},
		Personas: []domain.PersonaProfile{
			{ID: "alice", Name: "Alice", PreferredProvider: "prov-a"},
		},
		Phases:    config.PhaseTimings{Warmup: 30, Discussion: 180, Bidding: 120, Prediction: 60, Result: 30},
		Extension: config.ExtensionPolicy{Enabled: true, MaxPerPhase: 2, ExtensionSeconds: 30},
		Bidding:   config.BiddingPolicy{MinBid: 80, MaxBid: 500, Rounds: 1},
	}
}

func newTestRouter(t *testing.T) (chi.Router, *session.Manager, *store.MemoryArchive) {
	t.Helper()
	fake := clock.NewFake(time.Unix(1700000000, 0))
	roster := apiRoster()
	disp := provider.NewDispatcher(roster, provider.NewRateLimiter(fake, roster.RateLimits()), provider.NewHealthRegistry(fake, 0, roster.ProviderIDs()), cannedCaller{}, fake)
	archive := store.NewMemory()
	writer := store.NewAsyncWriter(archive, 8)
	sessions := session.NewManager(roster, session.BufferConfig{}, disp, nopEmitter{}, writer, fake)
	t.Cleanup(func() {
		sessions.CloseAll("cancelled")
		writer.Close()
	})

	r := chi.NewRouter()
	NewSessionHandler(context.Background(), sessions, archive).RegisterRoutes(r)
	NewArchiveHandler(archive).RegisterRoutes(r)
	NewStatsHandler(disp).RegisterRoutes(r)
	NewHealthHandler(archive).RegisterHealth(r)
	return r, sessions, archive
}

func doRequest(t *testing.T, r chi.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateSession(t *testing.T) {
	r, sessions, _ := newTestRouter(t)

	rec := doRequest(t, r, http.MethodPost, "/api/sessions", `{"idea_content": "a solar-powered toaster"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rec.Code, rec.Body)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["session_id"] == "" {
		t.Fatal("response carries no session_id")
	}
	if _, ok := sessions.Get(resp["session_id"]); !ok {
		t.Error("created session not registered")
	}
}

func TestCreateSessionRejectsBadInput(t *testing.T) {
	r, _, _ := newTestRouter(t)

	for name, body := range map[string]string{
		"malformed json": `{"idea_content": `,
		"blank idea":     `{"idea_content": "   "}`,
		"oversized idea": `{"idea_content": "` + strings.Repeat("x", maxIdeaLength+1) + `"}`,
	} {
		rec := doRequest(t, r, http.MethodPost, "/api/sessions", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
	}
}

func TestGetSessionLiveAndArchived(t *testing.T) {
	r, sessions, archive := newTestRouter(t)

	coord := sessions.Start(context.Background(), "live idea")
	rec := doRequest(t, r, http.MethodGet, "/api/sessions/"+coord.ID(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("live session status = %d, want 200", rec.Code)
	}

	archived := domain.SessionSnapshot{
		ID:          "old-session",
		IdeaContent: "archived idea",
		Status:      domain.SessionEnded,
		Phase:       domain.PhaseResult,
		EndedAt:     time.Unix(1700000000, 0),
	}
	if err := archive.SaveSession(context.Background(), archived); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	rec = doRequest(t, r, http.MethodGet, "/api/sessions/old-session", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("archived session status = %d, want 200", rec.Code)
	}
	var snap domain.SessionSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.IdeaContent != "archived idea" {
		t.Errorf("IdeaContent = %q, want archived idea", snap.IdeaContent)
	}

	rec = doRequest(t, r, http.MethodGet, "/api/sessions/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", rec.Code)
	}
}

func TestArchiveListLimitValidation(t *testing.T) {
	r, _, _ := newTestRouter(t)

	for _, limit := range []string{"0", "-3", "500", "abc"} {
		rec := doRequest(t, r, http.MethodGet, "/api/archive?limit="+limit, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", limit, rec.Code)
		}
	}

	rec := doRequest(t, r, http.MethodGet, "/api/archive?limit=5", "")
	if rec.Code != http.StatusOK {
		t.Errorf("valid limit: status = %d, want 200", rec.Code)
	}
}

func TestProviderStats(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := doRequest(t, r, http.MethodGet, "/api/stats/providers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Health    map[string]bool    `json:"health"`
		Costs     map[string]float64 `json:"costs"`
		TotalCost float64            `json:"total_cost"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if healthy, ok := resp.Health["prov-a"]; !ok || !healthy {
		t.Errorf("Health[prov-a] = %v, %v; want true", healthy, ok)
	}
}

func TestHealthEndpoint(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := doRequest(t, r, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"healthy"`) {
		t.Errorf("body = %s, want healthy status", rec.Body)
	}
}
