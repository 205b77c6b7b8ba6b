package chat

import (
	"context"
	"time"

	"github.com/bamarler/geo-optimizer/pkg/errors"
	"go.uber.org/zap"
)

var (
	emailFieldSelector    = `input[type="email"]`
	passwordFieldSelector = `input[type="password"]`
)

// Login navigates to the chat provider and authenticates if the session is
// not already live. Any failure here is a setup error: nothing can run
// without an authenticated session.
func (s *Session) Login(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return errors.NewSetupError("missing chat credentials", nil)
	}

	if err := s.driver.Navigate(ctx, s.cfg.BaseURL); err != nil {
		return errors.NewSetupError("chat provider unreachable", err)
	}

	// Already logged in if the composer renders without a login prompt.
	if err := s.verify(ctx, 3*time.Second); err == nil {
		s.logger.Info("Chat session already authenticated")
		return nil
	}

	s.logger.Info("Authenticating chat session")

	if err := s.driver.ClickByText(ctx, "button", "Log in", 5*time.Second); err != nil {
		return errors.NewSetupError("login button not found", err)
	}
	if err := s.driver.Fill(ctx, emailFieldSelector, email); err != nil {
		return errors.NewSetupError("failed to enter email", err)
	}
	if err := s.driver.ClickByText(ctx, "button", "Continue", s.cfg.stepTimeout()); err != nil {
		return errors.NewSetupError("failed to submit email", err)
	}
	if err := s.driver.Fill(ctx, passwordFieldSelector, password); err != nil {
		return errors.NewSetupError("failed to enter password", err)
	}
	if err := s.driver.ClickByText(ctx, "button", "Continue", s.cfg.stepTimeout()); err != nil {
		return errors.NewSetupError("failed to submit password", err)
	}

	if err := s.verify(ctx, 15*time.Second); err != nil {
		return errors.NewSetupError("login did not reach the chat interface", err)
	}

	s.logger.Info("Chat session authenticated", zap.String("email", email))
	return nil
}
