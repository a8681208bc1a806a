// auctiond - AI idea auction server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/auctionhall/auctiond/internal/api"
	"github.com/auctionhall/auctiond/internal/clock"
	"github.com/auctionhall/auctiond/internal/config"
	"github.com/auctionhall/auctiond/internal/middleware"
	"github.com/auctionhall/auctiond/internal/provider"
	"github.com/auctionhall/auctiond/internal/session"
	"github.com/auctionhall/auctiond/internal/store"
	"github.com/auctionhall/auctiond/internal/transport"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	roster, err := config.LoadAuction(cfg.AuctionFile)
	if err != nil {
		slog.Error("Failed to load auction config", "error", err, "path", cfg.AuctionFile)
		os.Exit(1)
	}
	slog.Info("Auction roster loaded", "providers", len(roster.Providers), "personas", len(roster.Personas))

	// Initialize dependencies.
	archive, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := archive.Close(); closeErr != nil {
			slog.Error("Failed to close archive", "error", closeErr)
		}
	}()

	if err := archive.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	archiveWriter := store.NewAsyncWriter(archive, cfg.ArchiveQueue)
	defer archiveWriter.Close()

	// Provider dispatch pipeline.
	clk := clock.New()
	limiter := provider.NewRateLimiter(clk, roster.RateLimits())
	health := provider.NewHealthRegistry(clk, provider.DefaultCooldown, roster.ProviderIDs())
	caller := provider.NewHTTPCaller(cfg.UpstreamTimeout)
	dispatcher := provider.NewDispatcher(roster, limiter, health, caller, clk)

	// Session plumbing.
	hub := transport.NewHub(clk)
	bufCfg := session.BufferConfig{
		FlushInterval: cfg.Transport.FlushInterval,
		SizeThreshold: cfg.Transport.MaxBatchSize,
	}
	sessions := session.NewManager(roster, bufCfg, dispatcher, hub, archiveWriter, clk)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize handlers.
	sessionHandler := api.NewSessionHandler(ctx, sessions, archive)
	archiveHandler := api.NewArchiveHandler(archive)
	statsHandler := api.NewStatsHandler(dispatcher)
	healthHandler := api.NewHealthHandler(archive)
	wsHandler := transport.NewHandler(hub, sessions, cfg.Transport, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)
	archiveHandler.RegisterRoutes(r)
	statsHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/sessions/{sessionID}", wsHandler.ServeHTTP)

	// Create server. WriteTimeout stays 0: WebSocket sessions are
	// long-lived.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	sessions.CloseAll("server_shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
