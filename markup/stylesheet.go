package markup

import (
	"fmt"
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
)

// cssIndent is the indentation unit inside stylesheet blocks.
const cssIndent = "  "

// FormatStylesheet parses src and re-serialises it with two-space indented
// blocks and opening braces on their own line. Comments are dropped.
func (f *HTML) FormatStylesheet(src string) (string, error) {
	if strings.TrimSpace(src) == "" {
		return "", nil
	}
	sheet, err := parser.Parse(src)
	if err != nil {
		return "", fmt.Errorf("markup: parse stylesheet: %w", err)
	}
	if len(sheet.Rules) == 0 {
		return "", fmt.Errorf("markup: stylesheet has no rules")
	}
	var sb strings.Builder
	for _, r := range sheet.Rules {
		writeRule(&sb, r, 0)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func writeRule(sb *strings.Builder, r *css.Rule, depth int) {
	pad := strings.Repeat(cssIndent, depth)

	var head string
	switch {
	case r.Kind == css.QualifiedRule && len(r.Selectors) > 0:
		head = strings.Join(r.Selectors, ", ")
	case r.Kind == css.QualifiedRule:
		head = r.Prelude
	case r.Prelude != "":
		head = r.Name + " " + r.Prelude
	default:
		head = r.Name
	}
	head = CollapseSpace(head)

	hasBlock := r.Kind == css.QualifiedRule || r.EmbedsRules() || len(r.Declarations) > 0
	if !hasBlock {
		sb.WriteString(pad + head + ";\n")
		return
	}

	sb.WriteString(pad + head + "\n")
	sb.WriteString(pad + "{\n")
	if r.EmbedsRules() {
		for _, sub := range r.Rules {
			writeRule(sb, sub, depth+1)
		}
	} else {
		inner := pad + cssIndent
		for _, d := range r.Declarations {
			sb.WriteString(inner + formatDeclaration(d) + "\n")
		}
	}
	sb.WriteString(pad + "}\n")
}

func formatDeclaration(d *css.Declaration) string {
	s := strings.TrimSpace(d.Property) + ": " + CollapseSpace(d.Value)
	if d.Important {
		s += " !important"
	}
	return s + ";"
}
