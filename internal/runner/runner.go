// Package runner drives a full measurement run: the persona-by-prompt grid of
// chat trials, each executed against a freshly reset session and persisted as
// an append-only result record.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bamarler/geo-optimizer/internal/analysis"
	"github.com/bamarler/geo-optimizer/internal/config"
	"github.com/bamarler/geo-optimizer/internal/domain"
	apperrors "github.com/bamarler/geo-optimizer/pkg/errors"
)

// In a fresh thread the test prompt is the first user message, so the
// assistant reply lands at conversation turn 2.
const responseTurnIndex = 2

// ChatSession is the slice of the chat surface the runner needs. Implemented
// by chat.Session; faked in tests.
type ChatSession interface {
	Login(ctx context.Context, email, password string) error
	NewThread(ctx context.Context) error
	ClearMemory(ctx context.Context) error
	SetPersona(ctx context.Context, persona *domain.Persona) error
	Send(ctx context.Context, text string) error
	Extract(ctx context.Context, turnIndex int) (*domain.RawResponse, error)
}

// ResultStore persists successful cells. Failed cells are never written.
type ResultStore interface {
	InsertResult(ctx context.Context, result *domain.TestResult) (string, error)
}

// ProgressEvent is emitted on every run-state transition and cell-state
// change. Cell is nil for run-level events.
type ProgressEvent struct {
	RunID     string           `json:"run_id"`
	RunState  domain.RunState  `json:"run_state"`
	Cell      *domain.TestCell `json:"cell,omitempty"`
	CellState domain.CellState `json:"cell_state,omitempty"`
	Completed int              `json:"completed"`
	Total     int              `json:"total"`
	Error     string           `json:"error,omitempty"`
}

type ProgressFunc func(ProgressEvent)

// Options carries per-run parameters resolved by the caller.
type Options struct {
	ResetPolicy config.ResetPolicy
	Email       string
	Password    string
}

type Runner struct {
	session    ChatSession
	store      ResultStore
	classifier *analysis.Classifier
	opts       Options
	logger     *zap.Logger
	progress   ProgressFunc
	now        func() time.Time
}

func NewRunner(session ChatSession, store ResultStore, classifier *analysis.Classifier, opts Options, logger *zap.Logger) *Runner {
	if classifier == nil {
		classifier = analysis.NewClassifier(nil)
	}
	if opts.ResetPolicy == "" {
		opts.ResetPolicy = config.ResetPolicyAbort
	}
	return &Runner{
		session:    session,
		store:      store,
		classifier: classifier,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// OnProgress registers the progress sink. Must be called before Run.
func (r *Runner) OnProgress(fn ProgressFunc) {
	r.progress = fn
}

// StampRunID renders a run identifier from a wall-clock instant.
func StampRunID(t time.Time) string {
	return "run_" + t.UTC().Format("20060102150405")
}

// NewRunID stamps a fresh run identifier from the current UTC wall clock.
func (r *Runner) NewRunID() string {
	return StampRunID(r.now())
}

// Run executes the full grid: prompts in the outer loop, personas in the
// inner loop, one strictly increasing sequence number per cell. A cell
// failure skips persistence for that cell only; a reset failure under the
// abort policy, a login failure, or context cancellation ends the run with
// state aborted. The summary is returned even when err is non-nil.
//
// An empty runID gets a fresh timestamp id; callers that report the id
// before the run finishes stamp it themselves via NewRunID.
func (r *Runner) Run(ctx context.Context, runID string, personaSet *domain.PersonaSet, promptSet *domain.PromptSet) (*domain.RunSummary, error) {
	if personaSet == nil || len(personaSet.Personas) == 0 {
		return nil, apperrors.NewSetupError("persona set is empty", nil)
	}
	if promptSet == nil || len(promptSet.Prompts) == 0 {
		return nil, apperrors.NewSetupError("prompt set is empty", nil)
	}

	if runID == "" {
		runID = r.NewRunID()
	}
	summary := &domain.RunSummary{
		RunID: runID,
		State: domain.RunInitializing,
		Total: len(personaSet.Personas) * len(promptSet.Prompts),
	}
	r.logger.Info("run starting",
		zap.String("run_id", summary.RunID),
		zap.Int("personas", len(personaSet.Personas)),
		zap.Int("prompts", len(promptSet.Prompts)),
		zap.String("reset_policy", string(r.opts.ResetPolicy)))
	r.emitRun(summary, "")

	summary.State = domain.RunAuthenticating
	r.emitRun(summary, "")
	if err := r.session.Login(ctx, r.opts.Email, r.opts.Password); err != nil {
		return r.abort(summary, err)
	}

	summary.State = domain.RunRunning
	r.emitRun(summary, "")

	sequence := 0
	for _, prompt := range promptSet.Prompts {
		for i := range personaSet.Personas {
			persona := &personaSet.Personas[i]
			sequence++

			if err := ctx.Err(); err != nil {
				return r.abort(summary, err)
			}

			cell := &domain.TestCell{
				RunID:          summary.RunID,
				PersonaID:      persona.ID,
				PromptID:       prompt.ID,
				SequenceNumber: sequence,
			}

			err := r.runCell(ctx, summary, cell, personaSet, promptSet, persona, &prompt)
			if err == nil {
				summary.Succeeded++
				r.emitCell(summary, cell, domain.CellPersisted, "")
				continue
			}

			var resetErr *apperrors.ResetError
			if errors.As(err, &resetErr) && r.opts.ResetPolicy == config.ResetPolicyAbort {
				summary.Failed++
				r.emitCell(summary, cell, domain.CellFailed, err.Error())
				return r.abort(summary, err)
			}

			summary.Failed++
			r.emitCell(summary, cell, domain.CellFailed, err.Error())
			r.logger.Warn("cell failed",
				zap.String("run_id", summary.RunID),
				zap.Int("sequence", cell.SequenceNumber),
				zap.String("persona_id", cell.PersonaID),
				zap.String("prompt_id", cell.PromptID),
				zap.Error(err))
		}
	}

	summary.State = domain.RunCompleted
	summary.SuccessRate = rate(summary.Succeeded, summary.Total)
	r.emitRun(summary, "")
	r.logger.Info("run completed",
		zap.String("run_id", summary.RunID),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// runCell executes one trial end to end. Persistence errors count as cell
// failures like any stage error.
func (r *Runner) runCell(
	ctx context.Context,
	summary *domain.RunSummary,
	cell *domain.TestCell,
	personaSet *domain.PersonaSet,
	promptSet *domain.PromptSet,
	persona *domain.Persona,
	prompt *domain.Prompt,
) error {
	r.emitCell(summary, cell, domain.CellResetting, "")
	if err := r.session.ClearMemory(ctx); err != nil {
		return err
	}

	r.emitCell(summary, cell, domain.CellInjecting, "")
	if err := r.session.SetPersona(ctx, persona); err != nil {
		return err
	}

	r.emitCell(summary, cell, domain.CellSending, "")
	if err := r.session.Send(ctx, prompt.Text); err != nil {
		return err
	}

	r.emitCell(summary, cell, domain.CellExtracting, "")
	response, err := r.session.Extract(ctx, responseTurnIndex)
	if err != nil {
		return err
	}

	r.emitCell(summary, cell, domain.CellClassifying, "")
	flags := r.classifier.Classify(response.Text, response.Citations)
	variants := analysis.BrandVariants(personaSet.WebsiteTitle, personaSet.WebsiteURL)

	result := &domain.TestResult{
		RunID:          cell.RunID,
		PersonaSetID:   personaSet.ID,
		PersonaID:      persona.ID,
		PromptSetID:    promptSet.ID,
		PromptID:       prompt.ID,
		SequenceNumber: cell.SequenceNumber,
		Persona:        *persona,
		Prompt:         *prompt,
		WebsiteURL:     personaSet.WebsiteURL,
		WebsiteTitle:   personaSet.WebsiteTitle,
		ResponseText:   response.Text,
		Citations:      response.Citations,
		HasCitations:   response.HasCitations(),
		BrandMentioned: analysis.BrandMentioned(response.Text, variants),
		Flags:          flags,
		Timestamp:      r.now().UTC(),
		Success:        true,
	}

	if _, err := r.store.InsertResult(ctx, result); err != nil {
		return apperrors.NewStoreError(
			fmt.Sprintf("persisting cell %d failed", cell.SequenceNumber), "insert", err)
	}
	return nil
}

func (r *Runner) abort(summary *domain.RunSummary, cause error) (*domain.RunSummary, error) {
	summary.State = domain.RunAborted
	summary.SuccessRate = rate(summary.Succeeded, summary.Total)
	r.emitRun(summary, cause.Error())
	r.logger.Error("run aborted",
		zap.String("run_id", summary.RunID),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Error(cause))
	return summary, cause
}

func (r *Runner) emitRun(summary *domain.RunSummary, errMsg string) {
	if r.progress == nil {
		return
	}
	r.progress(ProgressEvent{
		RunID:     summary.RunID,
		RunState:  summary.State,
		Completed: summary.Succeeded + summary.Failed,
		Total:     summary.Total,
		Error:     errMsg,
	})
}

func (r *Runner) emitCell(summary *domain.RunSummary, cell *domain.TestCell, state domain.CellState, errMsg string) {
	if r.progress == nil {
		return
	}
	r.progress(ProgressEvent{
		RunID:     summary.RunID,
		RunState:  summary.State,
		Cell:      cell,
		CellState: state,
		Completed: summary.Succeeded + summary.Failed,
		Total:     summary.Total,
		Error:     errMsg,
	})
}

func rate(succeeded, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(succeeded) / float64(total)
}
