// Package sites parses the watched-site list.
//
// The list is plain text, one site per line as "mode|url". Blank lines and
// lines starting with '#' are ignored. Modes:
//
//	dynamic  render with a headless browser, compare formatted markup
//	txt      plain HTTP GET, compare the body as text
//	md       plain HTTP GET, compare sanitised Markdown
//	other    plain HTTP GET, compare formatted markup
//
// Only the exact words above are special. "md" is the one addition to the
// historical dynamic/txt/other set: a list that used "md" as an arbitrary
// static label must rename it (for example to "static") to keep markup
// comparison.
package sites

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// FetchMode selects how a page is retrieved.
type FetchMode int

const (
	Static FetchMode = iota
	Dynamic
)

func (m FetchMode) String() string {
	if m == Dynamic {
		return "dynamic"
	}
	return "static"
}

// ContentMode selects how a body is prepared before comparison.
type ContentMode int

const (
	Markup ContentMode = iota
	Plain
	Markdown
)

func (m ContentMode) String() string {
	switch m {
	case Plain:
		return "plain"
	case Markdown:
		return "markdown"
	default:
		return "markup"
	}
}

// Site is one watched URL.
type Site struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

// FetchMode derives the retrieval mode from Kind.
func (s Site) FetchMode() FetchMode {
	if s.Kind == "dynamic" {
		return Dynamic
	}
	return Static
}

// ContentMode derives the preparation mode from Kind.
func (s Site) ContentMode() ContentMode {
	switch s.Kind {
	case "txt":
		return Plain
	case "md":
		return Markdown
	default:
		return Markup
	}
}

func (s Site) String() string { return s.Kind + "|" + s.URL }

// LineError reports a malformed list line.
type LineError struct {
	Line   int
	Text   string
	Reason string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("sites: line %d: %s: %q", e.Line, e.Reason, e.Text)
}

// Parse reads a site list. The first malformed line aborts parsing.
func Parse(r io.Reader) ([]Site, error) {
	var out []Site
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		kind, url, ok := strings.Cut(line, "|")
		if !ok {
			return nil, &LineError{Line: n, Text: line, Reason: "missing '|' separator"}
		}
		kind = strings.TrimSpace(kind)
		url = strings.TrimSpace(url)
		if kind == "" {
			return nil, &LineError{Line: n, Text: line, Reason: "empty mode"}
		}
		if url == "" {
			return nil, &LineError{Line: n, Text: line, Reason: "empty url"}
		}
		out = append(out, Site{Kind: kind, URL: url})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("sites: read: %w", err)
	}
	return out, nil
}

// Load parses the site list at path.
func Load(path string) ([]Site, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sites: open: %w", err)
	}
	defer f.Close()
	return Parse(f)
}
