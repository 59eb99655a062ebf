// Package browser drives a single headless Chrome page for the browser_*
// tools and vision screenshots.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	userAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	elementTimeout    = 5 * time.Second
	navigationTimeout = 30 * time.Second
)

// Config controls how the browser is started.
type Config struct {
	// Bin is the Chrome binary. Empty lets rod find or download one.
	Bin string `yaml:"bin"`

	// ControlURL attaches to an already running browser instead of launching.
	ControlURL string `yaml:"control_url"`

	Headless bool `yaml:"headless"`
}

// Session lazily launches Chrome on first use and keeps one active page.
type Session struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
}

// New creates a session. Nothing is launched until the first call.
func New(cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{cfg: cfg, logger: logger.With("component", "browser")}
}

// Navigate opens url and waits for the page load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	page, err := s.activePage()
	if err != nil {
		return err
	}
	p := page.Context(ctx).Timeout(navigationTimeout)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("waiting for %s: %w", url, err)
	}
	s.logger.Info("navigated", "url", url)
	return nil
}

// Click waits up to five seconds for selector and clicks it.
func (s *Session) Click(ctx context.Context, selector string) error {
	page, err := s.activePage()
	if err != nil {
		return err
	}
	el, err := page.Context(ctx).Timeout(elementTimeout).Element(selector)
	if err != nil {
		return fmt.Errorf("element %q not found: %w", selector, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// Type waits for selector and types text into it.
func (s *Session) Type(ctx context.Context, selector, text string) error {
	page, err := s.activePage()
	if err != nil {
		return err
	}
	el, err := page.Context(ctx).Timeout(elementTimeout).Element(selector)
	if err != nil {
		return fmt.Errorf("element %q not found: %w", selector, err)
	}
	return el.Input(text)
}

// Text returns the visible text of the page body.
func (s *Session) Text(ctx context.Context) (string, error) {
	page, err := s.activePage()
	if err != nil {
		return "", err
	}
	body, err := page.Context(ctx).Timeout(elementTimeout).Element("body")
	if err != nil {
		return "", fmt.Errorf("page has no body: %w", err)
	}
	return body.Text()
}

// HTML returns the page markup.
func (s *Session) HTML(ctx context.Context) (string, error) {
	page, err := s.activePage()
	if err != nil {
		return "", err
	}
	return page.Context(ctx).HTML()
}

// Screenshot captures the viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	page, err := s.activePage()
	if err != nil {
		return nil, err
	}
	return page.Context(ctx).Screenshot(false, nil)
}

// Close shuts the browser down.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser == nil {
		return nil
	}
	err := s.browser.Close()
	s.browser, s.page = nil, nil
	return err
}

func (s *Session) activePage() (*rod.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page != nil {
		return s.page, nil
	}
	if s.browser == nil {
		if err := s.startLocked(); err != nil {
			return nil, err
		}
	}

	page, err := s.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("opening page: %w", err)
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent}); err != nil {
		s.logger.Debug("failed to set user agent", "error", err)
	}
	s.page = page
	return page, nil
}

func (s *Session) startLocked() error {
	controlURL := s.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(s.cfg.Headless).Set("no-sandbox").Set("disable-setuid-sandbox")
		if s.cfg.Bin != "" {
			l = l.Bin(s.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	s.browser = b
	s.logger.Info("browser started", "headless", s.cfg.Headless)
	return nil
}
