package chat

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bamarler/geo-optimizer/internal/browser"
	"github.com/bamarler/geo-optimizer/internal/domain"
	"github.com/bamarler/geo-optimizer/pkg/errors"
	"go.uber.org/zap"
)

// fakeDriver scripts a chat UI: text and links per selector, plus selective
// failures keyed by selector or stage.
type fakeDriver struct {
	texts      map[string]string
	links      map[string][]browser.Link
	failAwait  map[string]error
	failClick  map[string]error
	calls      []string
	filledWith map[string]string
	escapes    int
	closed     bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		texts:      map[string]string{},
		links:      map[string][]browser.Link{},
		failAwait:  map[string]error{},
		failClick:  map[string]error{},
		filledWith: map[string]string{},
	}
}

func (f *fakeDriver) Navigate(_ context.Context, url string) error {
	f.calls = append(f.calls, "navigate:"+url)
	return nil
}

func (f *fakeDriver) AwaitReady(_ context.Context, selector string, _ time.Duration) error {
	f.calls = append(f.calls, "await:"+selector)
	if err, ok := f.failAwait[selector]; ok {
		return err
	}
	return nil
}

func (f *fakeDriver) Fill(_ context.Context, selector, text string) error {
	f.calls = append(f.calls, "fill:"+selector)
	f.filledWith[selector] = text
	return nil
}

func (f *fakeDriver) Click(_ context.Context, selector string, _ time.Duration) error {
	f.calls = append(f.calls, "click:"+selector)
	if err, ok := f.failClick[selector]; ok {
		return err
	}
	return nil
}

func (f *fakeDriver) ClickByText(_ context.Context, selector, text string, _ time.Duration) error {
	key := selector + "|" + text
	f.calls = append(f.calls, "clicktext:"+key)
	if err, ok := f.failClick[key]; ok {
		return err
	}
	return nil
}

func (f *fakeDriver) CurrentText(_ context.Context, selector string) (string, error) {
	return f.texts[selector], nil
}

func (f *fakeDriver) Links(_ context.Context, selector string) ([]browser.Link, error) {
	return f.links[selector], nil
}

func (f *fakeDriver) PressEscape(_ context.Context) error {
	f.escapes++
	return nil
}

func (f *fakeDriver) Close() error {
	f.closed = true
	return nil
}

func newTestSession(d browser.Driver) *Session {
	return NewSession(d, SessionConfig{
		BaseURL:     "https://chat.example.com/",
		StepTimeout: time.Second,
	}, zap.NewNop())
}

func TestExtractCitationsInAppearanceOrder(t *testing.T) {
	d := newFakeDriver()
	turn := turnSelector(2)
	d.texts[turn] = "Try Broadsheet Coffee in Cambridge"
	d.links[turn] = []browser.Link{
		{URL: "https://broadsheet.com", DisplayText: "Broadsheet Coffee"},
		{URL: "https://example.com/map", DisplayText: "  "},
	}

	s := newTestSession(d)
	resp, err := s.Extract(context.Background(), 2)
	if err != nil {
		t.Fatalf("expected extraction to succeed, got %v", err)
	}

	if resp.Text != "Try Broadsheet Coffee in Cambridge" {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
	if len(resp.Citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(resp.Citations))
	}
	if resp.Citations[0].Position != 1 || resp.Citations[1].Position != 2 {
		t.Fatalf("citation positions not 1-based in order: %+v", resp.Citations)
	}
	if resp.Citations[0].Title != "Broadsheet Coffee" {
		t.Fatalf("unexpected first title: %q", resp.Citations[0].Title)
	}
	// Blank display text falls back to a positional title.
	if resp.Citations[1].Title != "Citation 2" {
		t.Fatalf("expected fallback title, got %q", resp.Citations[1].Title)
	}
}

func TestExtractTimeoutSurfacesExtractError(t *testing.T) {
	d := newFakeDriver()
	d.failAwait[turnSelector(2)] = fmt.Errorf("%w: turn", browser.ErrTimeout)

	s := newTestSession(d)
	_, err := s.Extract(context.Background(), 2)

	var extractErr *errors.ExtractError
	if !stderrors.As(err, &extractErr) {
		t.Fatalf("expected ExtractError, got %v", err)
	}
	if extractErr.TurnIndex != 2 {
		t.Fatalf("expected turn index 2, got %d", extractErr.TurnIndex)
	}
	if !stderrors.Is(err, browser.ErrTimeout) {
		t.Fatalf("expected wrapped timeout, got %v", err)
	}
}

func TestClearMemoryReportsFailingStageAndRecovers(t *testing.T) {
	d := newFakeDriver()
	d.failClick[confirmResetSelector] = fmt.Errorf("%w: confirm", browser.ErrElementNotFound)

	s := newTestSession(d)
	err := s.ClearMemory(context.Background())

	var resetErr *errors.ResetError
	if !stderrors.As(err, &resetErr) {
		t.Fatalf("expected ResetError, got %v", err)
	}
	if resetErr.Stage != "confirm-reset" {
		t.Fatalf("expected confirm-reset stage, got %q", resetErr.Stage)
	}
	if d.escapes == 0 {
		t.Fatal("expected escape recovery before surfacing the error")
	}
}

func TestClearMemoryFallsBackToProfileButton(t *testing.T) {
	d := newFakeDriver()
	d.failClick[menuButtonSelector] = fmt.Errorf("%w: menu", browser.ErrElementNotFound)

	s := newTestSession(d)
	if err := s.ClearMemory(context.Background()); err != nil {
		t.Fatalf("expected fallback menu open to succeed, got %v", err)
	}

	joined := strings.Join(d.calls, " ")
	if !strings.Contains(joined, "click:"+profileButtonSelector) {
		t.Fatalf("expected profile-button fallback, calls: %v", d.calls)
	}
	// Reset must end on a fresh thread, not the settings surface.
	if d.calls[len(d.calls)-1] != "await:"+composerSelector {
		t.Fatalf("expected final composer wait, calls end: %v", d.calls[len(d.calls)-3:])
	}
}

func TestSetPersonaDiscardsInjectionThread(t *testing.T) {
	d := newFakeDriver()
	d.texts[turnSelector(2)] = "Got it, I'll remember that."

	persona := &domain.Persona{
		ID:         "p1",
		Name:       "Ana",
		AgeRange:   "25-34",
		Occupation: "nurse",
		Location:   domain.Location{City: "Boston", Region: "MA"},
		Goals:      []string{"quick lunches"},
		PainPoints: []string{"long shifts"},
		Behavior:   "asks for nearby options",
	}

	s := newTestSession(d)
	if err := s.SetPersona(context.Background(), persona); err != nil {
		t.Fatalf("expected injection to succeed, got %v", err)
	}

	sent := d.filledWith[composerSelector]
	if !strings.HasPrefix(sent, injectionMessagePrefix) {
		t.Fatalf("expected memory-write prefix, got %q", sent)
	}
	if !strings.Contains(sent, persona.MemoryText()) {
		t.Fatalf("expected memory text in injection, got %q", sent)
	}

	joined := strings.Join(d.calls, " ")
	if !strings.Contains(joined, "navigate:https://chat.example.com/") {
		t.Fatalf("expected fresh thread after injection, calls: %v", d.calls)
	}
}

func TestSetPersonaWithoutAcknowledgementFailsCell(t *testing.T) {
	d := newFakeDriver()
	d.failAwait[turnSelector(2)] = fmt.Errorf("%w: turn", browser.ErrTimeout)

	s := newTestSession(d)
	err := s.SetPersona(context.Background(), &domain.Persona{ID: "p1", Name: "Ana"})

	var injectErr *errors.InjectError
	if !stderrors.As(err, &injectErr) {
		t.Fatalf("expected InjectError, got %v", err)
	}
	if injectErr.PersonaID != "p1" {
		t.Fatalf("expected persona id in error, got %q", injectErr.PersonaID)
	}
}
