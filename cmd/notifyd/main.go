// Command notifyd is the Gatherly proximity notification service.
//
// It consumes event_created signals from Postgres LISTEN/NOTIFY, runs the
// notification pipeline per event, and serves the callback/metrics API.
//
// Usage:
//
//	notifyd
//	API_PORT=8200 notifyd
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/gatherly/gatherly-notify/internal/api"
	"github.com/gatherly/gatherly-notify/internal/config"
	"github.com/gatherly/gatherly-notify/internal/db"
	"github.com/gatherly/gatherly-notify/internal/gateway"
	"github.com/gatherly/gatherly-notify/internal/listener"
	"github.com/gatherly/gatherly-notify/internal/maintenance"
	"github.com/gatherly/gatherly-notify/internal/notify"
	"github.com/gatherly/gatherly-notify/internal/store"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Connect to database
	logger.Info("Connecting to database...")
	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	// Apply schema and the event_created trigger
	if err := db.Migrate(ctx, pool.Pool); err != nil {
		logger.Error("Migration failed", "error", err)
		os.Exit(1)
	}

	// Wire the pipeline
	st := store.New(pool.Pool)
	gw := gateway.New(cfg.GatewayURL, cfg.GatewayAPIKey, cfg.GatewayRPM, logger)
	if gw == nil {
		logger.Info("Push gateway disabled (no PUSH_GATEWAY_URL); sends will be logged only")
	}
	stats := notify.NewStatsRecorder(0)
	runner := notify.NewRunner(notify.Deps{
		Recipients: st,
		Events:     st,
		History:    st,
		Gateway:    gw,
	}, cfg.Notify, stats, logger)

	// Start LISTEN/NOTIFY consumer for event_created signals
	go listener.Start(ctx, cfg.DatabaseURL, runner, logger)

	// Start catch-up sweep for signals missed during downtime
	go maintenance.Start(ctx, st, runner, cfg.Notify.SweepInterval, logger)

	// Create router
	router := api.NewRouter(pool, st, stats, cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Gatherly Notify",
			"addr", addr,
			"environment", cfg.Environment,
			"radius_km", cfg.Notify.RadiusKm,
			"daily_limit", cfg.Notify.DailyLimit)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
