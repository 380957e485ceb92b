package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pechincha/harvester/app/api"
	"github.com/pechincha/harvester/app/cfg"
	"github.com/pechincha/harvester/app/database"
	"github.com/pechincha/harvester/app/harvest"
	"github.com/pechincha/harvester/app/profile"
	"github.com/pechincha/harvester/app/upstream"
)

func main() {
	config, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if config == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if config.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting Pechincha Harvester", "version", config.Version)

	db, err := database.NewConnection(config.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", config.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", config.DBPath, "schema_version", version, "dirty", dirty)

	listingRepo := database.NewListingRepository(db)
	runRepo := database.NewRunRepository(db)

	if config.Serve {
		runServer(config, listingRepo, runRepo)
		return
	}

	summary, err := runHarvest(config, listingRepo, runRepo)
	if err != nil {
		os.Exit(1)
	}

	if summary.Status == database.RunInterrupted {
		slog.Info("Stopped before completion, run again to resume")
	}
}

// runHarvest executes one harvest to completion, interruption or failure.
// SIGINT and SIGTERM cancel the run context so progress is checkpointed
// before exit.
func runHarvest(config *cfg.Cfg, listingRepo database.ListingRepository,
	runRepo database.RunRepository) (*harvest.Summary, error) {

	searchProfile, err := profile.Load(config.ProfilePath)
	if err != nil {
		slog.Error("Failed to load search profile", "path", config.ProfilePath, "error", err)
		return nil, err
	}
	slog.Info("Search profile loaded", "path", config.ProfilePath,
		"endpoint", searchProfile.Endpoint, "page_size", searchProfile.PageSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Warn("Received signal, stopping after current page", "signal", sig.String())
		cancel()
	}()

	client := upstream.NewClient(searchProfile, config.UserAgent, config.MaxRetries)
	checkpoints := harvest.NewCheckpointManager(config.CheckpointPath)
	ingester := harvest.NewIngester(listingRepo)

	opts := harvest.Options{
		MaxPages:    config.MaxPages,
		Resume:      config.Resume,
		StopOnEmpty: config.StopOnEmpty,
		Sweep:       config.Sweep,
	}

	var summary *harvest.Summary
	if config.Parallel {
		fetcher := upstream.NewParallelFetcher(client, config.Concurrency, config.BatchSize)
		runner := harvest.NewParallelRunner(fetcher, checkpoints, ingester, listingRepo, runRepo,
			opts, config.BatchSize, config.FlushThreshold, config.RetryRounds)
		summary, err = runner.Run(ctx)
	} else {
		pacer := upstream.NewPacer(config.RequestsPerMinute,
			time.Duration(config.MinDelayMs)*time.Millisecond,
			time.Duration(config.MaxDelayMs)*time.Millisecond)
		runner := harvest.NewRunner(client, pacer, checkpoints, ingester, listingRepo, runRepo, opts)
		summary, err = runner.Run(ctx)
	}
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// runServer exposes the read-only HTTP API over the harvested dataset and
// blocks until shutdown.
func runServer(config *cfg.Cfg, listingRepo database.ListingRepository,
	runRepo database.RunRepository) {

	handler := api.NewHandler(listingRepo, runRepo)
	server := api.NewServer(handler, config.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", config.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}
}
