// Package chat wraps the browser driver into the chat-session operations the
// runner needs: login, dispatch, extraction, memory reset and persona
// injection. One Session owns one authenticated browser session exclusively.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bamarler/geo-optimizer/internal/browser"
	"github.com/bamarler/geo-optimizer/internal/domain"
	"github.com/bamarler/geo-optimizer/pkg/errors"
	"go.uber.org/zap"
)

const composerSelector = "#prompt-textarea"

var sendButtonSelector = browser.TestID("send-button")

func turnSelector(turnIndex int) string {
	return browser.TestID(fmt.Sprintf("conversation-turn-%d", turnIndex))
}

type SessionConfig struct {
	BaseURL        string
	StepTimeout    time.Duration
	ExtractTimeout time.Duration
	// SettleDelay is the pause after a reply appears, giving the UI time to
	// attach citation links before extraction reads them.
	SettleDelay time.Duration
}

func (c SessionConfig) stepTimeout() time.Duration {
	if c.StepTimeout <= 0 {
		return 15 * time.Second
	}
	return c.StepTimeout
}

func (c SessionConfig) extractTimeout() time.Duration {
	if c.ExtractTimeout <= 0 {
		return 60 * time.Second
	}
	return c.ExtractTimeout
}

// Session is the exclusive handle over one chat UI session. Not safe for
// concurrent use: the conversation state is a single shared surface, so all
// operations must come from one goroutine.
type Session struct {
	driver browser.Driver
	cfg    SessionConfig
	logger *zap.Logger
}

func NewSession(driver browser.Driver, cfg SessionConfig, logger *zap.Logger) *Session {
	return &Session{
		driver: driver,
		cfg:    cfg,
		logger: logger,
	}
}

// NewThread abandons the current conversation and returns the session to a
// clean composer. The prior thread's visible context is gone afterwards;
// persisted memory is untouched.
func (s *Session) NewThread(ctx context.Context) error {
	if err := s.driver.Navigate(ctx, s.cfg.BaseURL); err != nil {
		return fmt.Errorf("navigate home: %w", err)
	}
	if err := s.driver.AwaitReady(ctx, composerSelector, s.cfg.stepTimeout()); err != nil {
		return fmt.Errorf("await composer: %w", err)
	}
	return nil
}

// Send deposits text into the composer and triggers submission.
func (s *Session) Send(ctx context.Context, text string) error {
	if err := s.driver.Fill(ctx, composerSelector, text); err != nil {
		return errors.NewSendError("failed to fill composer", err)
	}
	if err := s.driver.Click(ctx, sendButtonSelector, s.cfg.stepTimeout()); err != nil {
		return errors.NewSendError("failed to click send", err)
	}
	return nil
}

// Extract blocks until the reply at turnIndex is present, then returns its
// full text and every embedded hyperlink in appearance order. The timeout is
// reported, not retried: a reply that never finishes is a cell failure.
func (s *Session) Extract(ctx context.Context, turnIndex int) (*domain.RawResponse, error) {
	selector := turnSelector(turnIndex)

	if err := s.driver.AwaitReady(ctx, selector, s.cfg.extractTimeout()); err != nil {
		return nil, errors.NewExtractError("reply did not appear", turnIndex, err)
	}

	if delay := s.cfg.SettleDelay; delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, errors.NewExtractError("cancelled while settling", turnIndex, ctx.Err())
		}
	}

	text, err := s.driver.CurrentText(ctx, selector)
	if err != nil {
		return nil, errors.NewExtractError("failed to read reply text", turnIndex, err)
	}

	links, err := s.driver.Links(ctx, selector)
	if err != nil {
		return nil, errors.NewExtractError("failed to read reply links", turnIndex, err)
	}

	citations := make([]domain.Citation, 0, len(links))
	for i, link := range links {
		title := strings.TrimSpace(link.DisplayText)
		if title == "" {
			title = fmt.Sprintf("Citation %d", i+1)
		}
		citations = append(citations, domain.Citation{
			Position: i + 1,
			Title:    title,
			URL:      link.URL,
		})
	}

	s.logger.Debug("Response extracted",
		zap.Int("turn", turnIndex),
		zap.Int("length", len(text)),
		zap.Int("citations", len(citations)),
	)

	return &domain.RawResponse{Text: text, Citations: citations}, nil
}

// Close releases the underlying browser session.
func (s *Session) Close() error {
	return s.driver.Close()
}
