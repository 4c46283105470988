// Package fetch retrieves watched pages, either with a plain HTTP GET or
// through a headless browser for pages that build their content with
// scripts. Every failure comes back as a *fetch.Error with an empty body.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hazyhaar/sitediff/sites"
)

const (
	// MobileUserAgent is sent to hosts starting with "m.".
	MobileUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 14_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0 Mobile/15E148 Safari/604.1"
	// DesktopUserAgent is sent everywhere else.
	DesktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"
)

// ErrNoBrowser is the cause when a dynamic site is fetched without a
// browser configured.
var ErrNoBrowser = errors.New("fetch: no browser configured")

// Error describes a failed retrieval.
type Error struct {
	URL    string
	Mode   sites.FetchMode
	Status int // HTTP status, 0 when no response was received
	Cause  error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s (%s): HTTP %d", e.URL, e.Mode, e.Status)
	}
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Mode, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Getter retrieves one page body.
type Getter interface {
	Get(ctx context.Context, url string) (string, error)
}

// Fetcher retrieves a page in the given mode.
type Fetcher interface {
	Fetch(ctx context.Context, url string, mode sites.FetchMode) (string, error)
}

// Router dispatches by fetch mode. Dynamic may be nil when no site needs a
// browser.
type Router struct {
	Static  Getter
	Dynamic Getter
}

var _ Fetcher = (*Router)(nil)

// Fetch implements Fetcher.
func (r *Router) Fetch(ctx context.Context, url string, mode sites.FetchMode) (string, error) {
	g := r.Static
	if mode == sites.Dynamic {
		g = r.Dynamic
	}
	if g == nil {
		return "", &Error{URL: url, Mode: mode, Cause: ErrNoBrowser}
	}
	body, err := g.Get(ctx, url)
	if err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			return "", fe
		}
		return "", &Error{URL: url, Mode: mode, Cause: err}
	}
	return body, nil
}

// UserAgent picks the mobile agent for hosts that start with "m." and the
// desktop agent otherwise.
func UserAgent(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err == nil && strings.HasPrefix(strings.ToLower(u.Hostname()), "m.") {
		return MobileUserAgent
	}
	return DesktopUserAgent
}
