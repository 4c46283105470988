// Package diff computes line-based unified diffs between two normalised
// captures of a page.
//
// Grouping follows the classic difflib algorithm (via go-difflib) so hunks
// match what `diff -u` style tools print: three lines of context on each side
// of a change, hunks in document order, removed lines before added lines
// inside a replaced block.
package diff

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// ContextLines is the number of unchanged lines kept around each change.
const ContextLines = 3

// Kind classifies one line of a unified diff.
type Kind int

const (
	Context Kind = iota // unchanged line
	Added               // present only in the new text
	Removed             // present only in the old text
	Hunk                // "@@ -a,b +c,d @@" header
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Hunk:
		return "hunk"
	default:
		return "context"
	}
}

// Marker returns the leading character used for the kind in unified output.
func (k Kind) Marker() string {
	switch k {
	case Added:
		return "+"
	case Removed:
		return "-"
	case Hunk:
		return "@"
	default:
		return " "
	}
}

// KindOf classifies a rendered unified-diff line by its first character.
func KindOf(line string) Kind {
	if line == "" {
		return Context
	}
	switch line[0] {
	case '+':
		return Added
	case '-':
		return Removed
	case '@':
		return Hunk
	default:
		return Context
	}
}

// Line is one line of a unified diff. Text excludes the marker character,
// except for Hunk lines which carry their full header.
type Line struct {
	Kind Kind
	Text string
}

// String renders the line with its marker.
func (l Line) String() string {
	if l.Kind == Hunk {
		return l.Text
	}
	return l.Kind.Marker() + l.Text
}

// Result is a computed diff. Lines is empty when HasChanges is false.
type Result struct {
	HasChanges bool
	Lines      []Line
}

// Stats counts added and removed lines.
type Stats struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Hunks   int `json:"hunks"`
}

// Compute diffs oldText against newText line by line.
func Compute(oldText, newText string) Result {
	if oldText == newText {
		return Result{}
	}
	a, b := SplitLines(oldText), SplitLines(newText)

	m := difflib.NewMatcher(a, b)
	var lines []Line
	for _, group := range m.GetGroupedOpCodes(ContextLines) {
		first, last := group[0], group[len(group)-1]
		lines = append(lines, Line{
			Kind: Hunk,
			Text: fmt.Sprintf("@@ -%s +%s @@",
				unifiedRange(first.I1, last.I2), unifiedRange(first.J1, last.J2)),
		})
		for _, op := range group {
			if op.Tag == 'e' {
				for _, s := range a[op.I1:op.I2] {
					lines = append(lines, Line{Kind: Context, Text: s})
				}
				continue
			}
			if op.Tag == 'r' || op.Tag == 'd' {
				for _, s := range a[op.I1:op.I2] {
					lines = append(lines, Line{Kind: Removed, Text: s})
				}
			}
			if op.Tag == 'r' || op.Tag == 'i' {
				for _, s := range b[op.J1:op.J2] {
					lines = append(lines, Line{Kind: Added, Text: s})
				}
			}
		}
	}
	return Result{HasChanges: true, Lines: lines}
}

// Text renders the diff body, one marker-prefixed line per diff line.
func (r Result) Text() string {
	var sb strings.Builder
	for i, l := range r.Lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(l.String())
	}
	return sb.String()
}

// Unified renders the diff with "---"/"+++" file headers, for terminals and
// patch files. It returns "" when there are no changes.
func (r Result) Unified(from, to string) string {
	if !r.HasChanges {
		return ""
	}
	return "--- " + from + "\n+++ " + to + "\n" + r.Text() + "\n"
}

// Stats counts the added, removed and hunk lines of r.
func (r Result) Stats() Stats {
	var s Stats
	for _, l := range r.Lines {
		switch l.Kind {
		case Added:
			s.Added++
		case Removed:
			s.Removed++
		case Hunk:
			s.Hunks++
		}
	}
	return s
}

// SplitLines splits s on "\n" without keeping terminators. The empty string
// has no lines.
func SplitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// unifiedRange formats a [start, stop) range in unified-diff notation.
func unifiedRange(start, stop int) string {
	beginning := start + 1
	length := stop - start
	if length == 1 {
		return fmt.Sprintf("%d", beginning)
	}
	if length == 0 {
		beginning--
	}
	return fmt.Sprintf("%d,%d", beginning, length)
}
