package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/sitediff/sites"
)

// BrowserConfig configures the headless browser fetcher.
type BrowserConfig struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome. Empty
	// launches a local headless Chrome on first use.
	RemoteURL string
	// Timeout bounds navigation plus the network-idle wait. Default: 30s.
	Timeout time.Duration
	Logger  *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser renders pages in headless Chrome and returns the resulting DOM.
// The browser process is started lazily and reused until Close.
type Browser struct {
	cfg BrowserConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

var _ Getter = (*Browser)(nil)

// NewBrowser creates a browser fetcher. No process is started yet.
func NewBrowser(cfg BrowserConfig) *Browser {
	cfg.defaults()
	return &Browser{cfg: cfg}
}

func (b *Browser) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	wsURL := b.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		wsURL = u
		b.lnch = l
		b.cfg.Logger.Info("fetch: launched local chrome", "url", wsURL)
	}

	br := rod.New().ControlURL(wsURL)
	if err := br.Connect(); err != nil {
		return nil, fmt.Errorf("connect chrome: %w", err)
	}
	b.browser = br
	return br, nil
}

// Get navigates a fresh stealth tab to url, waits for the network to go
// idle and returns the serialised document.
func (b *Browser) Get(ctx context.Context, url string) (string, error) {
	fail := func(err error) (string, error) {
		return "", &Error{URL: url, Mode: sites.Dynamic, Cause: err}
	}

	br, err := b.connect()
	if err != nil {
		return fail(err)
	}

	page, err := stealth.Page(br)
	if err != nil {
		return fail(fmt.Errorf("open tab: %w", err))
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	p := page.Context(navCtx)

	if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: UserAgent(url)}); err != nil {
		b.cfg.Logger.Warn("fetch: set user agent failed", "url", url, "error", err)
	}

	wait := p.WaitNavigation(proto.PageLifecycleEventNameNetworkIdle)
	if err := p.Navigate(url); err != nil {
		return fail(fmt.Errorf("navigate: %w", err))
	}
	wait()
	if err := navCtx.Err(); err != nil {
		return fail(fmt.Errorf("wait for network idle: %w", err))
	}

	html, err := p.HTML()
	if err != nil {
		return fail(fmt.Errorf("read document: %w", err))
	}
	b.cfg.Logger.Debug("fetch: rendered", "url", url, "size", len(html))
	return html, nil
}

// Close shuts the browser down. A later Get starts a new one.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Kill()
		b.lnch = nil
	}
	return err
}
