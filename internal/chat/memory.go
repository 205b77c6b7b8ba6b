package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/bamarler/geo-optimizer/internal/browser"
	"github.com/bamarler/geo-optimizer/internal/domain"
	"github.com/bamarler/geo-optimizer/pkg/errors"
	"go.uber.org/zap"
)

// Selectors for the provider's persistent-memory management surface. Change
// together with the UI; a bulk failure here usually means the surface moved.
var (
	menuButtonSelector       = `button[id^="headlessui-menu-button"]`
	profileButtonSelector    = browser.TestID("profile-button")
	menuItemSelector         = `[role="menuitem"]`
	resetMemoriesSelector    = browser.TestID("reset-memories-button")
	confirmResetSelector     = browser.TestID("confirm-reset-memories-button")
	memoriesModalCloseSel    = browser.TestID("modal-memories") + " " + browser.TestID("close-button")
	settingsTablistCloseSel  = `[role="tablist"] ` + browser.TestID("close-button")
	injectionMessagePrefix   = "Save this to memory: "
	acknowledgementTurnIndex = 2
)

// ClearMemory erases the provider's persisted conversational memory so the
// next cell is an independent trial. Not safe to skip on failure: a stale
// memory silently contaminates every later measurement, so any step that
// cannot complete surfaces a ResetError after overlay recovery.
func (s *Session) ClearMemory(ctx context.Context) error {
	steps := []struct {
		stage string
		run   func(context.Context) error
	}{
		{"open-menu", s.openAccountMenu},
		{"open-personalization", func(ctx context.Context) error {
			return s.driver.ClickByText(ctx, menuItemSelector, "Personalization", s.cfg.stepTimeout())
		}},
		{"open-manage", func(ctx context.Context) error {
			return s.driver.ClickByText(ctx, "button", "Manage", s.cfg.stepTimeout())
		}},
		{"reset", func(ctx context.Context) error {
			return s.driver.Click(ctx, resetMemoriesSelector, s.cfg.stepTimeout())
		}},
		{"confirm-reset", func(ctx context.Context) error {
			return s.driver.Click(ctx, confirmResetSelector, s.cfg.stepTimeout())
		}},
		{"close-memories-modal", func(ctx context.Context) error {
			return s.driver.Click(ctx, memoriesModalCloseSel, s.cfg.stepTimeout())
		}},
		{"close-settings", func(ctx context.Context) error {
			return s.driver.Click(ctx, settingsTablistCloseSel, s.cfg.stepTimeout())
		}},
	}

	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			s.logger.Warn("Memory clear step failed",
				zap.String("stage", step.stage),
				zap.Error(err),
			)
			s.recoverOverlays(ctx)
			return errors.NewResetError("memory clear failed", step.stage, err)
		}
	}

	// A fresh thread, not a continuation: the settings flow leaves the prior
	// conversation on screen.
	if err := s.NewThread(ctx); err != nil {
		s.recoverOverlays(ctx)
		return errors.NewResetError("memory clear failed", "new-thread", err)
	}

	s.logger.Debug("Memory cleared")
	return nil
}

// openAccountMenu tries the primary menu control and falls back to the
// profile button; the provider has shipped both.
func (s *Session) openAccountMenu(ctx context.Context) error {
	err := s.driver.Click(ctx, menuButtonSelector, s.cfg.stepTimeout())
	if err == nil {
		return nil
	}
	if fallbackErr := s.driver.Click(ctx, profileButtonSelector, s.cfg.stepTimeout()); fallbackErr == nil {
		return nil
	}
	return err
}

// recoverOverlays dismisses stuck modals with escape presses, a known failure
// mode of UI-driven automation. Best effort: the reset still fails.
func (s *Session) recoverOverlays(ctx context.Context) {
	for i := 0; i < 2; i++ {
		if err := s.driver.PressEscape(ctx); err != nil {
			return
		}
	}
}

// SetPersona writes the persona into the provider's persistent memory by
// sending a memory-write instruction as a regular chat message, waiting for
// the acknowledgement turn, then discarding the exchange with a fresh thread.
// The injected fact persists in memory; the visible context window does not
// carry the injection prompt, so the first real answer afterwards is turn 2.
func (s *Session) SetPersona(ctx context.Context, persona *domain.Persona) error {
	if err := s.Send(ctx, injectionMessagePrefix+persona.MemoryText()); err != nil {
		return errors.NewInjectError("failed to send persona memory", persona.ID, err)
	}

	if _, err := s.Extract(ctx, acknowledgementTurnIndex); err != nil {
		return errors.NewInjectError("no acknowledgement for persona memory", persona.ID, err)
	}

	if err := s.NewThread(ctx); err != nil {
		return errors.NewInjectError("failed to discard injection thread", persona.ID, err)
	}

	s.logger.Debug("Persona injected",
		zap.String("persona_id", persona.ID),
		zap.String("persona", persona.Name),
	)
	return nil
}

// verify is a small helper shared by login and run setup: the session is
// usable when the composer is reachable.
func (s *Session) verify(ctx context.Context, timeout time.Duration) error {
	if err := s.driver.AwaitReady(ctx, composerSelector, timeout); err != nil {
		return fmt.Errorf("composer not reachable: %w", err)
	}
	return nil
}
