package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

type RodConfig struct {
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	NavTimeout     time.Duration
}

func (c RodConfig) navTimeout() time.Duration {
	if c.NavTimeout <= 0 {
		return 30 * time.Second
	}
	return c.NavTimeout
}

// RodDriver drives one Chrome page over the DevTools protocol. One driver
// owns exactly one page: the chat session is a stateful, non-shareable
// resource, so there is no pooling here.
type RodDriver struct {
	cfg      RodConfig
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	logger   *zap.Logger
}

// NewRodDriver launches Chrome and opens a blank page. The caller owns the
// driver for the lifetime of one run and must Close it on every exit path.
func NewRodDriver(cfg RodConfig, logger *zap.Logger) (*RodDriver, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		Set("disable-blink-features", "AutomationControlled")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		l.Cleanup()
		return nil, fmt.Errorf("create page: %w", err)
	}

	width := cfg.ViewportWidth
	if width == 0 {
		width = 1280
	}
	height := cfg.ViewportHeight
	if height == 0 {
		height = 720
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logger.Warn("Failed to set viewport", zap.Error(err))
	}

	logger.Info("Browser session started",
		zap.Bool("headless", cfg.Headless),
		zap.Int("viewport_width", width),
		zap.Int("viewport_height", height),
	)

	return &RodDriver{
		cfg:      cfg,
		browser:  b,
		page:     page,
		launcher: l,
		logger:   logger,
	}, nil
}

func (d *RodDriver) Navigate(ctx context.Context, url string) error {
	page := d.page.Context(ctx).Timeout(d.cfg.navTimeout())
	if err := page.Navigate(url); err != nil {
		return translateErr(err, url)
	}
	if err := page.WaitLoad(); err != nil {
		return translateErr(err, url)
	}
	return nil
}

func (d *RodDriver) AwaitReady(ctx context.Context, selector string, timeout time.Duration) error {
	_, err := d.element(ctx, selector, timeout)
	return err
}

func (d *RodDriver) Fill(ctx context.Context, selector, text string) error {
	el, err := d.element(ctx, selector, d.cfg.navTimeout())
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err == nil {
		_ = el.Input("")
	}
	if err := el.Input(text); err != nil {
		return translateErr(err, selector)
	}
	return nil
}

func (d *RodDriver) Click(ctx context.Context, selector string, timeout time.Duration) error {
	el, err := d.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return translateErr(err, selector)
	}
	return nil
}

func (d *RodDriver) ClickByText(ctx context.Context, selector, text string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = d.cfg.navTimeout()
	}
	el, err := d.page.Context(ctx).Timeout(timeout).ElementR(selector, text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s %q", ErrTimeout, selector, text)
		}
		return fmt.Errorf("%w: %s %q: %v", ErrElementNotFound, selector, text, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return translateErr(err, selector)
	}
	return nil
}

func (d *RodDriver) CurrentText(ctx context.Context, selector string) (string, error) {
	el, err := d.element(ctx, selector, d.cfg.navTimeout())
	if err != nil {
		return "", err
	}
	text, err := el.Text()
	if err != nil {
		return "", translateErr(err, selector)
	}
	return text, nil
}

func (d *RodDriver) Links(ctx context.Context, selector string) ([]Link, error) {
	container, err := d.element(ctx, selector, d.cfg.navTimeout())
	if err != nil {
		return nil, err
	}

	anchors, err := container.Elements("a[href]")
	if err != nil {
		return nil, translateErr(err, selector)
	}

	links := make([]Link, 0, len(anchors))
	for _, a := range anchors {
		href, err := a.Attribute("href")
		if err != nil || href == nil || *href == "" {
			continue
		}
		text, _ := a.Text()
		links = append(links, Link{URL: *href, DisplayText: text})
	}
	return links, nil
}

func (d *RodDriver) PressEscape(ctx context.Context) error {
	page := d.page.Context(ctx)
	if err := page.Keyboard.Press(input.Escape); err != nil {
		return fmt.Errorf("press escape: %w", err)
	}
	return nil
}

func (d *RodDriver) Close() error {
	var errs []error
	if d.page != nil {
		if err := d.page.Close(); err != nil {
			errs = append(errs, err)
		}
		d.page = nil
	}
	if d.browser != nil {
		if err := d.browser.Close(); err != nil {
			errs = append(errs, err)
		}
		d.browser = nil
	}
	if d.launcher != nil {
		d.launcher.Cleanup()
		d.launcher = nil
	}
	d.logger.Info("Browser session closed")
	return errors.Join(errs...)
}

func (d *RodDriver) element(ctx context.Context, selector string, timeout time.Duration) (*rod.Element, error) {
	if timeout <= 0 {
		timeout = d.cfg.navTimeout()
	}
	el, err := d.page.Context(ctx).Timeout(timeout).Element(selector)
	if err != nil {
		// Element lookups block until the element appears, so any failure
		// here is either the deadline or the element never materializing.
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, selector)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrElementNotFound, selector, err)
	}
	return el, nil
}

func translateErr(err error, target string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, target)
	}
	return fmt.Errorf("%s: %w", target, err)
}
