// Package main runs the gamification engine's offline reconciler as a
// long-running daemon. The award coordinator itself is a library surface
// embedded by the services that receive action events.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gamification-engine/internal/config"
	"gamification-engine/internal/fraud"
	"gamification-engine/internal/level"
	"gamification-engine/internal/pkg/clock"
	"gamification-engine/internal/pkg/db"
	"gamification-engine/internal/repository"
	"gamification-engine/internal/service"
	"gamification-engine/internal/streak"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().
		Int("actions", len(cfg.Actions)).
		Int("levels", len(cfg.Levels)).
		Int("badges", len(cfg.Badges)).
		Msg("Configuration loaded successfully")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := repository.Migrate(ctx, dbPool.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories and calculators
	ledgerRepo := repository.NewLedgerRepository(dbPool.Pool)
	progressRepo := repository.NewProgressRepository(dbPool.Pool)

	levels, err := level.NewCalculator(cfg.Levels)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build level calculator")
	}

	tracker := streak.NewTracker(cfg.Streak.GraceBuffer)
	detector := fraud.NewDetector(cfg.Fraud, clock.System())

	reconciler := service.NewReconciler(
		ledgerRepo, progressRepo, levels, tracker, detector, log.Logger,
	)

	if !cfg.Reconciler.Enabled {
		// One-shot mode: rebuild every aggregate and exit.
		if err := reconciler.RebuildAll(ctx); err != nil {
			log.Fatal().Err(err).Msg("Reconciliation failed")
		}
		log.Info().Msg("Reconciliation completed")
		return
	}

	// Periodic mode
	go func() {
		log.Info().
			Dur("interval", cfg.Reconciler.Interval).
			Msg("Reconciler is starting...")
		reconciler.Run(ctx, cfg.Reconciler.Interval)
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	cancel()
	log.Info().Msg("Reconciler stopped gracefully")
}
