package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/bamarler/geo-optimizer/internal/config"
	"github.com/bamarler/geo-optimizer/internal/domain"
	"github.com/bamarler/geo-optimizer/internal/runner"
)

type fakeAnalyzer struct {
	analysis *domain.WebsiteAnalysis
	err      error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, url string) (*domain.WebsiteAnalysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	a := *f.analysis
	a.URL = url
	return &a, nil
}

type fakePersonaSource struct {
	set *domain.PersonaSet
	got int
}

func (f *fakePersonaSource) Generate(ctx context.Context, analysis *domain.WebsiteAnalysis, count int) (*domain.PersonaSet, error) {
	f.got = count
	return f.set, nil
}

type fakePromptSource struct {
	set *domain.PromptSet
}

func (f *fakePromptSource) Generate(ctx context.Context, analysis *domain.WebsiteAnalysis, count int) (*domain.PromptSet, error) {
	return f.set, nil
}

type fakeBundleStore struct {
	personaSets map[string]*domain.PersonaSet
	promptSets  map[string]*domain.PromptSet
	nextID      int
}

func newFakeBundleStore() *fakeBundleStore {
	return &fakeBundleStore{
		personaSets: make(map[string]*domain.PersonaSet),
		promptSets:  make(map[string]*domain.PromptSet),
	}
}

func (f *fakeBundleStore) SavePersonaSet(ctx context.Context, set *domain.PersonaSet) (string, error) {
	f.nextID++
	set.ID = fmt.Sprintf("ps-%d", f.nextID)
	f.personaSets[set.ID] = set
	return set.ID, nil
}

func (f *fakeBundleStore) GetPersonaSet(ctx context.Context, id string) (*domain.PersonaSet, error) {
	return f.personaSets[id], nil
}

func (f *fakeBundleStore) ListPersonaSets(ctx context.Context) ([]*domain.PersonaSet, error) {
	sets := make([]*domain.PersonaSet, 0, len(f.personaSets))
	for _, set := range f.personaSets {
		sets = append(sets, set)
	}
	return sets, nil
}

func (f *fakeBundleStore) SavePromptSet(ctx context.Context, set *domain.PromptSet) (string, error) {
	f.nextID++
	set.ID = fmt.Sprintf("qs-%d", f.nextID)
	f.promptSets[set.ID] = set
	return set.ID, nil
}

func (f *fakeBundleStore) GetPromptSet(ctx context.Context, id string) (*domain.PromptSet, error) {
	return f.promptSets[id], nil
}

func (f *fakeBundleStore) ListPromptSets(ctx context.Context) ([]*domain.PromptSet, error) {
	sets := make([]*domain.PromptSet, 0, len(f.promptSets))
	for _, set := range f.promptSets {
		sets = append(sets, set)
	}
	return sets, nil
}

type fakeResultReader struct {
	results []*domain.TestResult
	stats   *domain.AggregateStats
}

func (f *fakeResultReader) FindByRunID(ctx context.Context, runID string) ([]*domain.TestResult, error) {
	return f.results, nil
}

func (f *fakeResultReader) AggregateStats(ctx context.Context, filter map[string]any) (*domain.AggregateStats, error) {
	return f.stats, nil
}

type fakeResultWriter struct {
	inserted []*domain.TestResult
}

func (f *fakeResultWriter) InsertResult(ctx context.Context, result *domain.TestResult) (string, error) {
	f.inserted = append(f.inserted, result)
	return "id", nil
}

type noopSession struct{}

func (noopSession) Login(ctx context.Context, email, password string) error { return nil }
func (noopSession) NewThread(ctx context.Context) error                     { return nil }
func (noopSession) ClearMemory(ctx context.Context) error                   { return nil }
func (noopSession) SetPersona(ctx context.Context, persona *domain.Persona) error {
	return nil
}
func (noopSession) Send(ctx context.Context, text string) error { return nil }
func (noopSession) Extract(ctx context.Context, turnIndex int) (*domain.RawResponse, error) {
	return &domain.RawResponse{Text: "a reply"}, nil
}

func testServer(t *testing.T) (*Server, *fakeBundleStore, *RunCoordinator, *fakeResultWriter) {
	t.Helper()

	bundles := newFakeBundleStore()
	writer := &fakeResultWriter{}

	factory := func(ctx context.Context) (runner.ChatSession, func() error, error) {
		return noopSession{}, func() error { return nil }, nil
	}
	coordinator := NewRunCoordinator(context.Background(), factory, writer,
		runner.Options{ResetPolicy: config.ResetPolicySkip}, nil, zap.NewNop())

	analysis := &domain.WebsiteAnalysis{
		Title:        "Broadsheet",
		BrandSummary: "A food and culture guide.",
	}
	personaSet := &domain.PersonaSet{
		WebsiteURL:   "https://broadsheet.com",
		WebsiteTitle: "Broadsheet",
		Personas:     []domain.Persona{{ID: "p1", Name: "Ana", Occupation: "Nurse"}},
	}
	promptSet := &domain.PromptSet{
		WebsiteURL:   "https://broadsheet.com",
		WebsiteTitle: "Broadsheet",
		Prompts:      []domain.Prompt{{ID: "q1", Text: "Where to eat?", Category: domain.CategoryInformational}},
	}

	srv := New(
		config.ServerConfig{Host: "127.0.0.1", Port: 0},
		config.GenerationConfig{NumPersonas: 3, NumPrompts: 5},
		Deps{
			Analyzer: &fakeAnalyzer{analysis: analysis},
			Personas: &fakePersonaSource{set: personaSet},
			Prompts:  &fakePromptSource{set: promptSet},
			Bundles:  bundles,
			Results: &fakeResultReader{
				results: []*domain.TestResult{{RunID: "run_x"}},
				stats:   &domain.AggregateStats{Total: 1, WithCitations: 1, CitationRate: 1},
			},
			Runs: coordinator,
		},
		zap.NewNop(),
	)
	return srv, bundles, coordinator, writer
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _, _ := testServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestScrapeRequiresURL(t *testing.T) {
	srv, _, _, _ := testServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/scrape", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/scrape", map[string]any{"url": "https://broadsheet.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Success  bool                    `json:"success"`
		Analysis *domain.WebsiteAnalysis `json:"analysis"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Success || body.Analysis.URL != "https://broadsheet.com" {
		t.Errorf("body = %+v", body)
	}
}

func TestGeneratePersonasUsesConfiguredDefault(t *testing.T) {
	srv, _, _, _ := testServer(t)
	source := srv.personas.(*fakePersonaSource)

	rec := doJSON(t, srv, http.MethodPost, "/api/personas/generate",
		map[string]any{"url": "https://broadsheet.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if source.got != 3 {
		t.Errorf("count = %d, want configured default 3", source.got)
	}

	doJSON(t, srv, http.MethodPost, "/api/personas/generate",
		map[string]any{"url": "https://broadsheet.com", "num_personas": 5})
	if source.got != 5 {
		t.Errorf("count = %d, want explicit 5", source.got)
	}
}

func TestSavePersonasRejectsEmptySet(t *testing.T) {
	srv, bundles, _, _ := testServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/personas/save",
		map[string]any{"website_url": "https://broadsheet.com", "personas": []any{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(bundles.personaSets) != 0 {
		t.Errorf("empty set was saved")
	}
}

func TestRunGeoTestEndToEnd(t *testing.T) {
	srv, bundles, coordinator, writer := testServer(t)

	personaID, _ := bundles.SavePersonaSet(context.Background(), &domain.PersonaSet{
		WebsiteURL:   "https://broadsheet.com",
		WebsiteTitle: "Broadsheet",
		Personas:     []domain.Persona{{ID: "p1", Name: "Ana"}, {ID: "p2", Name: "Ben"}},
	})
	promptID, _ := bundles.SavePromptSet(context.Background(), &domain.PromptSet{
		WebsiteURL: "https://broadsheet.com",
		Prompts:    []domain.Prompt{{ID: "q1", Text: "Where to eat?"}},
	})

	rec := doJSON(t, srv, http.MethodPost, "/api/run-geo-test",
		map[string]any{"persona_set_id": personaID, "prompt_set_id": promptID})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	var accepted struct {
		RunID string `json:"run_id"`
		Total int    `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if accepted.RunID == "" || accepted.Total != 2 {
		t.Fatalf("accepted = %+v", accepted)
	}

	coordinator.Wait()

	summary, ok := coordinator.Get(accepted.RunID)
	if !ok {
		t.Fatalf("run %s not tracked", accepted.RunID)
	}
	if summary.State != domain.RunCompleted {
		t.Errorf("state = %s, want completed", summary.State)
	}
	if len(writer.inserted) != 2 {
		t.Errorf("stored %d results, want 2", len(writer.inserted))
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/runs/"+accepted.RunID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("run lookup status = %d", rec.Code)
	}
}

func TestBundleLookupEndpoints(t *testing.T) {
	srv, bundles, _, _ := testServer(t)

	id, _ := bundles.SavePersonaSet(context.Background(), &domain.PersonaSet{
		WebsiteURL: "https://broadsheet.com",
		Personas:   []domain.Persona{{ID: "p1", Name: "Ana"}},
	})

	rec := doJSON(t, srv, http.MethodGet, "/api/personas/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var set domain.PersonaSet
	if err := json.Unmarshal(rec.Body.Bytes(), &set); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(set.Personas) != 1 || set.Personas[0].Name != "Ana" {
		t.Errorf("set = %+v", set)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/personas/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing bundle status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/personas", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listed struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if listed.Count != 1 {
		t.Errorf("count = %d, want 1", listed.Count)
	}
}

func TestRunGeoTestUnknownBundle(t *testing.T) {
	srv, _, _, _ := testServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/run-geo-test",
		map[string]any{"persona_set_id": "missing", "prompt_set_id": "missing"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTestResultsIncludesStats(t *testing.T) {
	srv, _, _, _ := testServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/test-results/run_x", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		RunID string                 `json:"run_id"`
		Count int                    `json:"count"`
		Stats *domain.AggregateStats `json:"stats"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.RunID != "run_x" || body.Count != 1 {
		t.Errorf("body = %+v", body)
	}
	if body.Stats == nil || body.Stats.Total != 1 {
		t.Errorf("stats = %+v", body.Stats)
	}
}
