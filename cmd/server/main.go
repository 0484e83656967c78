// Package main is the entry point for the convictiond signal engine. The
// daemon ingests insider, congressional and institutional disclosures,
// clusters and scores them, and manages a paper portfolio under tiered risk
// limits with full audit coverage.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/convictiond/internal/config"
	"github.com/aristath/convictiond/internal/di"
	"github.com/aristath/convictiond/internal/reliability"
	"github.com/aristath/convictiond/internal/server"
	"github.com/aristath/convictiond/pkg/logger"
)

// dataDirEmpty reports whether the data directory holds no databases and no
// portfolio snapshot. Only a fresh deployment qualifies for a restore.
func dataDirEmpty(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, "portfolio.json")); err == nil {
		return false
	}
	dbs, err := filepath.Glob(filepath.Join(dir, "*.db"))
	return err == nil && len(dbs) == 0
}

// main orchestrates the startup sequence:
// 1. Load configuration from environment variables
// 2. Initialize logging
// 3. Restore the data directory from the newest backup (fresh deployments only)
// 4. Wire all dependencies via the DI container
// 5. Start the HTTP server and the job scheduler
// 6. Wait for a shutdown signal and stop gracefully
func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use a fallback logger so the configuration error itself is logged.
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting convictiond")

	// Restore runs BEFORE any database is opened: a fresh deployment pulls
	// the newest archive from object storage, an established one is never
	// touched.
	if cfg.Backup.Enabled && dataDirEmpty(cfg.DataDir) {
		objectStore, err := reliability.NewObjectStore(cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup object store")
		}
		restored, err := reliability.NewBackupService(objectStore, cfg.DataDir, log).RestoreLatest(context.Background())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to restore from backup")
		}
		if restored {
			log.Info().Msg("Data directory restored from backup")
		}
	}

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	srv := server.New(server.Deps{
		Port:      cfg.Port,
		DataDir:   cfg.DataDir,
		Databases: container.Databases(),
		Store:     container.Store,
		Signals:   container.SignalRepo,
		Closed:    container.ClosedRepo,
		Trail:     container.Trail,
		Breaker:   container.Breaker,
		Resets:    container.ResetRepo,
		Events:    container.Events,
		Log:       log,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	container.Scheduler.Start()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop scheduling first and let running jobs drain, then give the HTTP
	// server up to 10 seconds for in-flight requests.
	container.Scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("convictiond stopped")
}
