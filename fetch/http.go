package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/hazyhaar/sitediff/horosafe"
	"github.com/hazyhaar/sitediff/sites"
)

// HTTPConfig configures the static fetcher.
type HTTPConfig struct {
	Timeout      time.Duration // Default: 15s.
	MaxBytes     int64         // Default: horosafe.MaxPageBody.
	AllowPrivate bool          // permit loopback and private targets
	Client       *http.Client  // Default: a client with Timeout.
	Logger       *slog.Logger
}

func (c *HTTPConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = horosafe.MaxPageBody
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// HTTP fetches pages with a single GET.
type HTTP struct {
	client *http.Client
	cfg    HTTPConfig
}

var _ Getter = (*HTTP)(nil)

// NewHTTP creates a static fetcher. Redirects are re-checked against the
// private address policy.
func NewHTTP(cfg HTTPConfig) *HTTP {
	cfg.defaults()
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if client.CheckRedirect == nil {
		allow := cfg.AllowPrivate
		c := *client
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after %d redirects", len(via))
			}
			if err := horosafe.CheckURL(req.URL.String(), allow); err != nil {
				return fmt.Errorf("redirect blocked: %w", err)
			}
			return nil
		}
		client = &c
	}
	return &HTTP{client: client, cfg: cfg}
}

// Get downloads url and returns its body decoded to UTF-8. Status codes of
// 400 and above are errors.
func (f *HTTP) Get(ctx context.Context, url string) (string, error) {
	fail := func(status int, err error) (string, error) {
		return "", &Error{URL: url, Mode: sites.Static, Status: status, Cause: err}
	}
	if err := horosafe.CheckURL(url, f.cfg.AllowPrivate); err != nil {
		return fail(0, err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fail(0, err)
	}
	req.Header.Set("User-Agent", UserAgent(url))
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fail(resp.StatusCode, fmt.Errorf("%s", resp.Status))
	}

	data, err := horosafe.LimitedReadAll(resp.Body, f.cfg.MaxBytes)
	if err != nil {
		return fail(0, err)
	}

	ct := resp.Header.Get("Content-Type")
	enc, name, _ := charset.DetermineEncoding(data, ct)
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return fail(0, fmt.Errorf("decode %s: %w", name, err))
	}

	f.cfg.Logger.Debug("fetch: fetched",
		"url", url, "status", resp.StatusCode, "size", len(data), "charset", name)
	return string(decoded), nil
}
