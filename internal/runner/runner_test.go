package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bamarler/geo-optimizer/internal/config"
	"github.com/bamarler/geo-optimizer/internal/domain"
	apperrors "github.com/bamarler/geo-optimizer/pkg/errors"
)

type fakeSession struct {
	loginErr     error
	resetErrAt   map[int]error    // 1-based ClearMemory call number -> error
	injectErrFor map[string]error // persona id -> error
	sendErr      error
	extractErr   error
	response     domain.RawResponse

	resetCalls   int
	injectCalls  int
	sent         []string
	onReset      func(call int)
	loggedIn     bool
}

func (f *fakeSession) Login(ctx context.Context, email, password string) error {
	f.loggedIn = true
	return f.loginErr
}

func (f *fakeSession) NewThread(ctx context.Context) error { return nil }

func (f *fakeSession) ClearMemory(ctx context.Context) error {
	f.resetCalls++
	if f.onReset != nil {
		f.onReset(f.resetCalls)
	}
	if err, ok := f.resetErrAt[f.resetCalls]; ok {
		return err
	}
	return nil
}

func (f *fakeSession) SetPersona(ctx context.Context, persona *domain.Persona) error {
	f.injectCalls++
	if err, ok := f.injectErrFor[persona.ID]; ok {
		return err
	}
	return nil
}

func (f *fakeSession) Send(ctx context.Context, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSession) Extract(ctx context.Context, turnIndex int) (*domain.RawResponse, error) {
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	resp := f.response
	return &resp, nil
}

type fakeStore struct {
	results   []*domain.TestResult
	failAfter int // fail every insert once results reaches this count; 0 disables
}

func (f *fakeStore) InsertResult(ctx context.Context, result *domain.TestResult) (string, error) {
	if f.failAfter > 0 && len(f.results)+1 == f.failAfter {
		f.failAfter = 0
		return "", errors.New("connection reset")
	}
	f.results = append(f.results, result)
	return "generated-id", nil
}

func testSets() (*domain.PersonaSet, *domain.PromptSet) {
	personaSet := &domain.PersonaSet{
		ID:           "ps-1",
		WebsiteURL:   "https://broadsheet.com",
		WebsiteTitle: "Broadsheet | Food & Culture",
		Personas: []domain.Persona{
			{ID: "p-ana", Name: "Ana", AgeRange: "in my 30s", Occupation: "nurse",
				Location: domain.Location{City: "Boston", Region: "MA"},
				Goals:    []string{"eat well"}, PainPoints: []string{"no time"}, Behavior: "Reads reviews."},
			{ID: "p-ben", Name: "Ben", AgeRange: "in my 40s", Occupation: "teacher",
				Location: domain.Location{City: "Seattle", Region: "WA"},
				Goals:    []string{"save money"}, PainPoints: []string{"decision fatigue"}, Behavior: "Compares prices."},
		},
	}
	promptSet := &domain.PromptSet{
		ID:           "qs-1",
		WebsiteURL:   personaSet.WebsiteURL,
		WebsiteTitle: personaSet.WebsiteTitle,
		Prompts: []domain.Prompt{
			{ID: "q-1", Text: "Where should I get coffee this weekend?", Category: domain.CategoryInformational},
			{ID: "q-2", Text: "Best site to book a food tour?", Category: domain.CategoryTransactional},
			{ID: "q-3", Text: "Broadsheet vs local blogs for restaurant picks?", Category: domain.CategoryComparison},
		},
	}
	return personaSet, promptSet
}

func newTestRunner(session ChatSession, store ResultStore, policy config.ResetPolicy) *Runner {
	r := NewRunner(session, store, nil, Options{ResetPolicy: policy}, zap.NewNop())
	r.now = func() time.Time {
		return time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)
	}
	return r
}

func TestRunExecutesPromptMajorGrid(t *testing.T) {
	session := &fakeSession{response: domain.RawResponse{
		Text: "Broadsheet lists a great coffee spot in Cambridge at 12 Oak Street.",
		Citations: []domain.Citation{
			{Position: 1, Title: "Guide", URL: "https://broadsheet.com/guide"},
		},
	}}
	store := &fakeStore{}
	personaSet, promptSet := testSets()

	r := newTestRunner(session, store, config.ResetPolicySkip)
	summary, err := r.Run(context.Background(), "", personaSet, promptSet)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.State != domain.RunCompleted {
		t.Fatalf("state = %s, want completed", summary.State)
	}
	if summary.Total != 6 || summary.Succeeded != 6 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want 6/6/0", summary)
	}
	if summary.SuccessRate != 1.0 {
		t.Errorf("success rate = %f, want 1.0", summary.SuccessRate)
	}
	if summary.RunID != "run_20260829103000" {
		t.Errorf("run id = %q", summary.RunID)
	}
	if len(store.results) != 6 {
		t.Fatalf("stored %d results, want 6", len(store.results))
	}

	// Prompt-major order: all personas for prompt 1 first, sequence numbers
	// strictly increasing from 1.
	seen := make(map[int]bool)
	for i, result := range store.results {
		if result.SequenceNumber != i+1 {
			t.Errorf("result %d sequence = %d", i, result.SequenceNumber)
		}
		if seen[result.SequenceNumber] {
			t.Errorf("sequence %d reused", result.SequenceNumber)
		}
		seen[result.SequenceNumber] = true
	}
	if store.results[0].PromptID != "q-1" || store.results[1].PromptID != "q-1" {
		t.Errorf("first two results should belong to q-1, got %s, %s",
			store.results[0].PromptID, store.results[1].PromptID)
	}
	if store.results[0].PersonaID != "p-ana" || store.results[1].PersonaID != "p-ben" {
		t.Errorf("persona order = %s, %s", store.results[0].PersonaID, store.results[1].PersonaID)
	}

	first := store.results[0]
	if !first.Success {
		t.Errorf("stored result not marked successful")
	}
	if !first.BrandMentioned {
		t.Errorf("expected brand mention for text containing Broadsheet")
	}
	if !first.Flags.HasGeographicContent || first.Flags.CitationCount != 1 {
		t.Errorf("flags not populated: %+v", first.Flags)
	}
	if first.Persona.Name != "Ana" || first.Prompt.Text == "" {
		t.Errorf("persona/prompt snapshot missing")
	}
	if !session.loggedIn {
		t.Errorf("login was never attempted")
	}
}

func TestRunAbortPolicyHaltsOnResetFailure(t *testing.T) {
	session := &fakeSession{
		response:   domain.RawResponse{Text: "ok"},
		resetErrAt: map[int]error{3: apperrors.NewResetError("confirm dialog missing", "confirm-reset", nil)},
	}
	store := &fakeStore{}
	personaSet, promptSet := testSets()

	r := newTestRunner(session, store, config.ResetPolicyAbort)
	summary, err := r.Run(context.Background(), "", personaSet, promptSet)
	if err == nil {
		t.Fatalf("expected run error")
	}
	var resetErr *apperrors.ResetError
	if !errors.As(err, &resetErr) {
		t.Fatalf("error = %T, want *ResetError", err)
	}
	if summary.State != domain.RunAborted {
		t.Errorf("state = %s, want aborted", summary.State)
	}
	if summary.Succeeded != 2 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want 2 succeeded, 1 failed", summary)
	}
	if len(store.results) != 2 {
		t.Errorf("stored %d results, want 2 (failed cell must not persist)", len(store.results))
	}
	if session.resetCalls != 3 {
		t.Errorf("reset calls = %d, want 3 (no cells after the abort)", session.resetCalls)
	}
}

func TestRunSkipPolicyContinuesAfterResetFailure(t *testing.T) {
	session := &fakeSession{
		response:   domain.RawResponse{Text: "ok"},
		resetErrAt: map[int]error{2: apperrors.NewResetError("menu never opened", "open-menu", nil)},
	}
	store := &fakeStore{}
	personaSet, promptSet := testSets()

	r := newTestRunner(session, store, config.ResetPolicySkip)
	summary, err := r.Run(context.Background(), "", personaSet, promptSet)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.State != domain.RunCompleted {
		t.Fatalf("state = %s, want completed", summary.State)
	}
	if summary.Succeeded != 5 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want 5 succeeded, 1 failed", summary)
	}
	if summary.Succeeded+summary.Failed != summary.Total {
		t.Errorf("succeeded+failed != total: %+v", summary)
	}
	if len(store.results) != 5 {
		t.Errorf("stored %d results, want 5", len(store.results))
	}
}

func TestRunInjectFailureIsCellFatalOnly(t *testing.T) {
	session := &fakeSession{
		response:     domain.RawResponse{Text: "ok"},
		injectErrFor: map[string]error{"p-ben": apperrors.NewInjectError("no acknowledgement", "p-ben", nil)},
	}
	store := &fakeStore{}
	personaSet, promptSet := testSets()

	r := newTestRunner(session, store, config.ResetPolicyAbort)
	summary, err := r.Run(context.Background(), "", personaSet, promptSet)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Ben fails in every prompt round; Ana succeeds in all three.
	if summary.Succeeded != 3 || summary.Failed != 3 {
		t.Errorf("summary = %+v, want 3 succeeded, 3 failed", summary)
	}
	for _, result := range store.results {
		if result.PersonaID != "p-ana" {
			t.Errorf("unexpected stored persona %s", result.PersonaID)
		}
	}
}

func TestRunPersistenceErrorFailsCell(t *testing.T) {
	session := &fakeSession{response: domain.RawResponse{Text: "ok"}}
	store := &fakeStore{failAfter: 1}
	personaSet, promptSet := testSets()

	r := newTestRunner(session, store, config.ResetPolicySkip)
	summary, err := r.Run(context.Background(), "", personaSet, promptSet)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Succeeded != 5 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want 5 succeeded, 1 failed", summary)
	}
}

func TestRunContextCancellationAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	session := &fakeSession{response: domain.RawResponse{Text: "ok"}}
	session.onReset = func(call int) {
		if call == 2 {
			cancel()
		}
	}
	store := &fakeStore{}
	personaSet, promptSet := testSets()

	r := newTestRunner(session, store, config.ResetPolicySkip)
	summary, err := r.Run(ctx, "", personaSet, promptSet)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if summary.State != domain.RunAborted {
		t.Errorf("state = %s, want aborted", summary.State)
	}
	if len(store.results) >= summary.Total {
		t.Errorf("cancelled run stored all %d results", len(store.results))
	}
}

func TestRunLoginFailureAborts(t *testing.T) {
	session := &fakeSession{loginErr: apperrors.NewSetupError("bad credentials", nil)}
	store := &fakeStore{}
	personaSet, promptSet := testSets()

	r := newTestRunner(session, store, config.ResetPolicyAbort)
	summary, err := r.Run(context.Background(), "", personaSet, promptSet)
	if err == nil {
		t.Fatalf("expected login error")
	}
	if summary.State != domain.RunAborted {
		t.Errorf("state = %s, want aborted", summary.State)
	}
	if session.resetCalls != 0 {
		t.Errorf("cells ran after login failure")
	}
	if len(store.results) != 0 {
		t.Errorf("results stored after login failure")
	}
}

func TestRunEmptySetsRejected(t *testing.T) {
	session := &fakeSession{}
	r := newTestRunner(session, &fakeStore{}, config.ResetPolicyAbort)

	personaSet, promptSet := testSets()
	if _, err := r.Run(context.Background(), "", &domain.PersonaSet{}, promptSet); err == nil {
		t.Errorf("empty persona set accepted")
	}
	if _, err := r.Run(context.Background(), "", personaSet, &domain.PromptSet{}); err == nil {
		t.Errorf("empty prompt set accepted")
	}
}

func TestRunProgressEventsCoverLifecycle(t *testing.T) {
	session := &fakeSession{response: domain.RawResponse{Text: "ok"}}
	store := &fakeStore{}
	personaSet, promptSet := testSets()

	r := newTestRunner(session, store, config.ResetPolicySkip)
	var events []ProgressEvent
	r.OnProgress(func(ev ProgressEvent) { events = append(events, ev) })

	if _, err := r.Run(context.Background(), "", personaSet, promptSet); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var states []string
	for _, ev := range events {
		if ev.Cell == nil {
			states = append(states, ev.RunState.String())
		}
	}
	want := "initializing,authenticating,running,completed"
	if got := strings.Join(states, ","); got != want {
		t.Fatalf("run-level states = %s, want %s", got, want)
	}

	persisted := 0
	for _, ev := range events {
		if ev.Cell != nil && ev.CellState == domain.CellPersisted {
			persisted++
			if ev.RunID != "run_20260829103000" {
				t.Errorf("cell event run id = %q", ev.RunID)
			}
		}
	}
	if persisted != 6 {
		t.Errorf("persisted cell events = %d, want 6", persisted)
	}
	last := events[len(events)-1]
	if last.Completed != 6 || last.Total != 6 {
		t.Errorf("final event progress = %d/%d, want 6/6", last.Completed, last.Total)
	}
}
