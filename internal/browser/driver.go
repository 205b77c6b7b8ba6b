// Package browser defines the narrow capability contract the test
// orchestration core consumes, plus a Chrome DevTools implementation of it.
// Everything above this package is testable with a scripted fake driver.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel failure kinds every driver operation may surface. Callers
// translate these into stage-specific error types.
var (
	ErrElementNotFound = errors.New("element not found")
	ErrTimeout         = errors.New("timed out waiting for element")
)

// Link is a hyperlink found inside a target, in appearance order.
type Link struct {
	URL         string
	DisplayText string
}

// Driver is the blocking, timeout-bounded UI capability contract. Targets are
// CSS selectors; TestID builds the selector for a data-testid attribute.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	AwaitReady(ctx context.Context, selector string, timeout time.Duration) error
	Fill(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	// ClickByText clicks the first element matching selector whose visible
	// text matches the given pattern. Covers controls addressable only by
	// accessible name (menu items, labelled buttons).
	ClickByText(ctx context.Context, selector, text string, timeout time.Duration) error
	CurrentText(ctx context.Context, selector string) (string, error)
	Links(ctx context.Context, selector string) ([]Link, error)
	// PressEscape is the stuck-overlay recovery input. It targets the page,
	// not an element, so it cannot fail with ErrElementNotFound.
	PressEscape(ctx context.Context) error
	Close() error
}

// TestID returns the selector for an element carrying the given data-testid.
func TestID(id string) string {
	return fmt.Sprintf(`[data-testid=%q]`, id)
}
