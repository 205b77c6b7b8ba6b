package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/bamarler/geo-optimizer/internal/app"
	"github.com/bamarler/geo-optimizer/internal/config"
	"github.com/bamarler/geo-optimizer/internal/domain"
	"github.com/bamarler/geo-optimizer/internal/runner"
	"github.com/bamarler/geo-optimizer/internal/util"
)

// geotest executes one bias-test run from the terminal: it loads saved
// persona and prompt bundles, drives the browser session through the full
// grid, and prints per-cell progress as it goes.
func main() {
	personaSetID := flag.String("personas", "", "id of a saved persona set (required)")
	promptSetID := flag.String("prompts", "", "id of a saved prompt set (required)")
	runID := flag.String("run-id", "", "run id override; generated from the clock when empty")
	flag.Parse()

	if *personaSetID == "" || *promptSetID == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := util.NewLogger(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if !cfg.HasCredentials() {
		logger.Error("CHATGPT_EMAIL and CHATGPT_PASSWORD must be set to execute a run")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received signal, aborting run", zap.String("signal", sig.String()))
		cancel()
	}()

	container, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to assemble application services", zap.Error(err))
		os.Exit(1)
	}
	defer container.Close()

	summary, err := execute(ctx, container, *personaSetID, *promptSetID, *runID)
	if summary != nil {
		fmt.Printf("run %s: %s, %d/%d cells succeeded (%.0f%%)\n",
			summary.RunID, summary.State, summary.Succeeded, summary.Total, summary.SuccessRate*100)
	}
	if err != nil {
		logger.Error("Run did not complete", zap.Error(err))
		os.Exit(1)
	}
}

func execute(ctx context.Context, container *app.Container, personaSetID, promptSetID, runID string) (*domain.RunSummary, error) {
	personaSet, err := container.Bundles.GetPersonaSet(ctx, personaSetID)
	if err != nil {
		return nil, fmt.Errorf("load persona set: %w", err)
	}
	if personaSet == nil {
		return nil, fmt.Errorf("persona set %q not found", personaSetID)
	}

	promptSet, err := container.Bundles.GetPromptSet(ctx, promptSetID)
	if err != nil {
		return nil, fmt.Errorf("load prompt set: %w", err)
	}
	if promptSet == nil {
		return nil, fmt.Errorf("prompt set %q not found", promptSetID)
	}

	session, cleanup, err := container.Sessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("open chat session: %w", err)
	}
	defer func() {
		_ = cleanup()
	}()

	r := runner.NewRunner(session, container.Results, nil, container.RunnerOptions, container.Logger)
	r.OnProgress(func(ev runner.ProgressEvent) {
		if ev.Cell == nil {
			fmt.Printf("run %s: %s\n", ev.RunID, ev.RunState)
			return
		}
		line := fmt.Sprintf("  [%d/%d] %s x %s: %s",
			ev.Completed, ev.Total, ev.Cell.PersonaID, ev.Cell.PromptID, ev.CellState)
		if ev.Error != "" {
			line += " (" + ev.Error + ")"
		}
		fmt.Println(line)
	})

	return r.Run(ctx, runID, personaSet, promptSet)
}
