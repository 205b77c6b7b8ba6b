package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/bamarler/geo-optimizer/internal/analysis"
	"github.com/bamarler/geo-optimizer/internal/domain"
	"github.com/bamarler/geo-optimizer/internal/runner"
)

// SessionFactory opens a fresh chat session for one run and returns it with
// its cleanup func. Each run gets its own browser.
type SessionFactory func(ctx context.Context) (runner.ChatSession, func() error, error)

// RunCoordinator starts runs in the background and tracks their summaries.
// Runs execute one at a time: the chat surface cannot share a logged-in
// session between concurrent runs.
type RunCoordinator struct {
	factory  SessionFactory
	results  runner.ResultStore
	opts     runner.Options
	hub      *Hub
	logger   *zap.Logger
	pool     *pool.Pool
	baseCtx  context.Context
	mu       sync.RWMutex
	runs     map[string]*domain.RunSummary
}

func NewRunCoordinator(ctx context.Context, factory SessionFactory, results runner.ResultStore, opts runner.Options, hub *Hub, logger *zap.Logger) *RunCoordinator {
	return &RunCoordinator{
		factory: factory,
		results: results,
		opts:    opts,
		hub:     hub,
		logger:  logger,
		pool:    pool.New().WithMaxGoroutines(1),
		baseCtx: ctx,
		runs:    make(map[string]*domain.RunSummary),
	}
}

// Start queues a run over the two bundles and returns its id immediately.
func (rc *RunCoordinator) Start(personaSet *domain.PersonaSet, promptSet *domain.PromptSet) (string, error) {
	if personaSet == nil || len(personaSet.Personas) == 0 {
		return "", fmt.Errorf("persona set is empty")
	}
	if promptSet == nil || len(promptSet.Prompts) == 0 {
		return "", fmt.Errorf("prompt set is empty")
	}

	runID := runner.StampRunID(time.Now())

	rc.mu.Lock()
	rc.runs[runID] = &domain.RunSummary{
		RunID: runID,
		State: domain.RunInitializing,
		Total: len(personaSet.Personas) * len(promptSet.Prompts),
	}
	rc.mu.Unlock()

	rc.pool.Go(func() {
		rc.execute(runID, personaSet, promptSet)
	})

	rc.logger.Info("run queued",
		zap.String("run_id", runID),
		zap.String("persona_set", personaSet.ID),
		zap.String("prompt_set", promptSet.ID))
	return runID, nil
}

func (rc *RunCoordinator) execute(runID string, personaSet *domain.PersonaSet, promptSet *domain.PromptSet) {
	session, cleanup, err := rc.factory(rc.baseCtx)
	if err != nil {
		rc.logger.Error("failed to open chat session",
			zap.String("run_id", runID), zap.Error(err))
		rc.markAborted(runID)
		return
	}
	defer func() {
		if closeErr := cleanup(); closeErr != nil {
			rc.logger.Warn("session cleanup failed",
				zap.String("run_id", runID), zap.Error(closeErr))
		}
	}()

	r := runner.NewRunner(session, rc.results, analysis.NewClassifier(nil), rc.opts, rc.logger)
	r.OnProgress(func(ev runner.ProgressEvent) {
		rc.recordProgress(ev)
		if rc.hub != nil {
			rc.hub.Broadcast(ev)
		}
	})

	summary, err := r.Run(rc.baseCtx, runID, personaSet, promptSet)
	if err != nil {
		rc.logger.Error("run finished with error",
			zap.String("run_id", runID), zap.Error(err))
	}
	if summary != nil {
		rc.mu.Lock()
		rc.runs[runID] = summary
		rc.mu.Unlock()
	}
}

// recordProgress keeps the tracked summary current from the event stream so
// Get answers mid-run without touching the runner.
func (rc *RunCoordinator) recordProgress(ev runner.ProgressEvent) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	summary, ok := rc.runs[ev.RunID]
	if !ok {
		return
	}
	summary.State = ev.RunState
	if ev.Cell != nil {
		switch ev.CellState {
		case domain.CellPersisted:
			summary.Succeeded++
		case domain.CellFailed:
			summary.Failed++
		}
	}
	if summary.Total > 0 {
		summary.SuccessRate = float64(summary.Succeeded) / float64(summary.Total)
	}
}

func (rc *RunCoordinator) markAborted(runID string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if summary, ok := rc.runs[runID]; ok {
		summary.State = domain.RunAborted
	}
}

// Get returns a copy of the tracked summary for runID.
func (rc *RunCoordinator) Get(runID string) (*domain.RunSummary, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	summary, ok := rc.runs[runID]
	if !ok {
		return nil, false
	}
	copied := *summary
	return &copied, true
}

// Wait blocks until all queued runs have finished. Called on shutdown.
func (rc *RunCoordinator) Wait() {
	rc.pool.Wait()
}
