// Package layout wraps diff lines to a pixel budget using a caller-supplied
// text measurement function.
//
// Wrapping is greedy: tokens are appended to the current line until the next
// one would overflow, whitespace is kept as its own token so words are never
// glued together, and a token wider than the budget is emitted alone rather
// than split.
package layout

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hazyhaar/sitediff/diff"
)

// Measure returns the rendered width of s in pixels.
type Measure func(s string) int

// Line is one drawable line after wrapping.
type Line struct {
	// Source is the 1-based index of the raw line this came from. Wrapped
	// continuation lines carry 0.
	Source int
	Kind   diff.Kind
	Text   string
}

// Tokenize splits line into maximal runs of non-space characters and single
// whitespace characters, in order. Concatenating the tokens yields line.
func Tokenize(line string) []string {
	var tokens []string
	start := -1
	for i, r := range line {
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, line[start:i])
				start = -1
			}
			tokens = append(tokens, line[i:i+utf8.RuneLen(r)])
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, line[start:])
	}
	return tokens
}

// Wrap breaks line into lines no wider than maxWidth where possible.
// Every returned line has its trailing whitespace removed.
func Wrap(line string, measure Measure, maxWidth int) []string {
	if line == "" {
		return []string{""}
	}
	var out []string
	var cur strings.Builder
	for _, tok := range Tokenize(line) {
		candidate := cur.String() + tok
		if cur.Len() > 0 && measure(candidate) > maxWidth {
			out = append(out, strings.TrimRightFunc(cur.String(), unicode.IsSpace))
			cur.Reset()
			cur.WriteString(tok)
			continue
		}
		cur.Reset()
		cur.WriteString(candidate)
	}
	if cur.Len() > 0 {
		out = append(out, strings.TrimRightFunc(cur.String(), unicode.IsSpace))
	}
	return out
}

// Expand classifies each raw unified-diff line, optionally strips its marker
// character, and wraps it when it does not fit budget. Continuations inherit
// the kind of their raw line.
func Expand(raw []string, stripMarkers bool, measure Measure, budget int) []Line {
	out := make([]Line, 0, len(raw))
	for i, r := range raw {
		kind := diff.KindOf(r)
		text := r
		if stripMarkers {
			text = StripMarker(r)
		}
		if measure(text) <= budget {
			out = append(out, Line{Source: i + 1, Kind: kind, Text: text})
			continue
		}
		for j, part := range Wrap(text, measure, budget) {
			l := Line{Kind: kind, Text: part}
			if j == 0 {
				l.Source = i + 1
			}
			out = append(out, l)
		}
	}
	return out
}

// StripMarker removes the leading "+", "-" or " " of a diff body line. Hunk
// headers are returned unchanged.
func StripMarker(line string) string {
	if line == "" {
		return line
	}
	switch line[0] {
	case '+', '-', ' ':
		return line[1:]
	}
	return line
}
