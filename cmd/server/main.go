package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/bamarler/geo-optimizer/internal/app"
	"github.com/bamarler/geo-optimizer/internal/config"
	"github.com/bamarler/geo-optimizer/internal/util"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := util.NewLogger(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("GEO test server starting...",
		zap.String("log_level", cfg.Logging.Level),
		zap.String("reset_policy", string(cfg.Runner.ResetPolicy)),
	)

	// The container's context outlives Build: background runs started later
	// inherit it, so it is cancelled only at shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to assemble application services", zap.Error(err))
		os.Exit(1)
	}
	defer container.Close()

	if !cfg.HasCredentials() {
		logger.Warn("No chat credentials configured; runs will fail at login, " +
			"but scraping, generation and result queries remain available")
	}

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := container.Server.Run(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("Server started, waiting for signals...")

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("Server error", zap.Error(err))
	}

	// Graceful shutdown: cancel in-flight runs, then wait for the
	// coordinator to drain so no half-written run is left behind.
	logger.Info("Shutting down gracefully...")
	cancel()
	container.Coordinator.Wait()

	logger.Info("Shutdown complete")
}
