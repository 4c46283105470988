// Package markup canonicalises fetched pages so that two captures of the
// same document diff cleanly.
//
// The Formatter interface is the only thing the rest of the pipeline sees;
// HTML is the default implementation on top of golang.org/x/net/html for the
// document tree and douceur for embedded stylesheets.
//
//	f := markup.NewHTML(logger)
//	stable := f.FormatMarkup(page)
package markup

import (
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/sitediff/normalize"
)

// Formatter re-serialises content into a stable, diff-friendly form.
type Formatter interface {
	// FormatMarkup never fails: on a parse error it returns src unchanged.
	FormatMarkup(src string) string
	// FormatStylesheet reformats CSS text. Callers keep the original text
	// when it returns an error.
	FormatStylesheet(src string) (string, error)
}

// MaxBlankRun is the longest run of consecutive blank lines kept in
// formatted output.
const MaxBlankRun = 2

// voidElements never have children or closing tags.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// HTML is the default Formatter.
type HTML struct {
	logger *slog.Logger
}

var _ Formatter = (*HTML)(nil)

// NewHTML creates an HTML formatter. A nil logger uses slog.Default().
func NewHTML(logger *slog.Logger) *HTML {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTML{logger: logger}
}

// FormatMarkup parses src, collapses whitespace in text, reformats
// stylesheets and re-serialises the tree with one space of indentation per
// level. Entities are decoded; only the characters that would change the
// tree on a second parse are escaped again.
func (f *HTML) FormatMarkup(src string) string {
	out, err := f.format(src)
	if err != nil {
		f.logger.Warn("markup: format failed, keeping original", "error", err)
		return src
	}
	return out
}

func (f *HTML) format(src string) (string, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("markup: parse: %w", err)
	}
	var sb strings.Builder
	f.writeNode(&sb, doc, 0)
	return normalize.Text(CollapseBlankLines(sb.String(), MaxBlankRun)), nil
}

func (f *HTML) writeNode(sb *strings.Builder, n *html.Node, depth int) {
	switch n.Type {
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f.writeNode(sb, c, depth)
		}

	case html.DoctypeNode:
		writeLine(sb, depth, "<!DOCTYPE "+n.Data+">")

	case html.CommentNode:
		writeLine(sb, depth, "<!-- "+CollapseSpace(n.Data)+" -->")

	case html.TextNode:
		if n.Parent != nil && n.Parent.Type == html.ElementNode && n.Parent.Data == "style" {
			f.writeStylesheet(sb, n.Data, depth)
			return
		}
		text := CollapseSpace(n.Data)
		if text == "" {
			return
		}
		if !isRawText(n.Parent) {
			text = textEscaper.Replace(text)
		}
		writeLine(sb, depth, text)

	case html.ElementNode:
		tag := n.Data
		attrs := formatAttrs(n.Attr)
		if voidElements[tag] {
			writeLine(sb, depth, "<"+tag+attrs+"/>")
			return
		}
		writeLine(sb, depth, "<"+tag+attrs+">")
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f.writeNode(sb, c, depth+1)
		}
		writeLine(sb, depth, "</"+tag+">")
	}
}

func (f *HTML) writeStylesheet(sb *strings.Builder, css string, depth int) {
	formatted, err := f.FormatStylesheet(css)
	fallback := err != nil
	if fallback {
		f.logger.Debug("markup: stylesheet kept as-is", "error", err)
		formatted = normalize.Text(css)
	}
	if formatted == "" {
		return
	}
	for _, l := range strings.Split(formatted, "\n") {
		if strings.TrimSpace(l) == "" {
			sb.WriteByte('\n')
			continue
		}
		// Unformatted lines carry the indentation of an earlier pass.
		if fallback {
			l = strings.TrimSpace(l)
		}
		writeLine(sb, depth, l)
	}
}

// isRawText reports whether n holds text the HTML parser does not decode.
func isRawText(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	switch n.Data {
	case "script", "style", "xmp", "iframe", "noembed", "noframes", "noscript", "plaintext":
		return true
	}
	return false
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", `"`, "&quot;")
)

func formatAttrs(attrs []html.Attribute) string {
	if len(attrs) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, a := range attrs {
		sb.WriteByte(' ')
		if a.Namespace != "" {
			sb.WriteString(a.Namespace)
			sb.WriteByte(':')
		}
		sb.WriteString(a.Key)
		sb.WriteString(`="`)
		sb.WriteString(attrEscaper.Replace(CollapseSpace(a.Val)))
		sb.WriteByte('"')
	}
	return sb.String()
}

func writeLine(sb *strings.Builder, depth int, s string) {
	sb.WriteString(strings.Repeat(" ", depth))
	sb.WriteString(s)
	sb.WriteByte('\n')
}

// CollapseSpace trims s and replaces every internal whitespace run with a
// single space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CollapseBlankLines keeps at most max consecutive blank (whitespace-only)
// lines.
func CollapseBlankLines(s string, max int) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := 0
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			blank++
			if blank > max {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}
