package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/sitediff/config"
	"github.com/hazyhaar/sitediff/diff"
	"github.com/hazyhaar/sitediff/markup"
	"github.com/hazyhaar/sitediff/monitor"
	"github.com/hazyhaar/sitediff/render"
	"github.com/hazyhaar/sitediff/sites"
)

var (
	flagKind        string
	flagOut         string
	flagPDFOut      string
	flagFont        string
	flagLineNumbers bool
)

var diffCmd = &cobra.Command{
	Use:   "diff <old> <new>",
	Short: "Diff two local files the way a watched page is diffed",
	Long: `Diff prepares both files like a site of the given --kind (static markup
is re-formatted, md is converted to Markdown, txt is only normalized), prints
the colored unified diff and optionally renders it to PNG and PDF.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := sites.Site{Kind: flagKind}.ContentMode()
		var bodies [2]string
		for i, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			bodies[i], err = monitor.Prepare(markup.NewHTML(logger), mode, string(data))
			if err != nil {
				logger.Warn("sitediff: markdown conversion failed, using raw body", "file", path, "error", err)
			}
		}

		res := diff.Compute(bodies[0], bodies[1])
		out := cmd.OutOrStdout()
		if !res.HasChanges {
			fmt.Fprintln(out, "no changes")
			return nil
		}
		printDiff(out, res.Unified(args[0], args[1]))
		st := res.Stats()
		fmt.Fprintf(out, "\n%d hunks, +%d -%d\n", st.Hunks, st.Added, st.Removed)

		if flagOut != "" {
			if err := renderPNG(flagOut, res.Text()); err != nil {
				return err
			}
			fmt.Fprintln(out, "image:", flagOut)
		}
		if flagPDFOut != "" {
			title := args[0] + " → " + args[1]
			if err := render.WritePDFFile(flagPDFOut, title, res.Text(), render.DefaultPalette()); err != nil {
				return err
			}
			fmt.Fprintln(out, "pdf:", flagPDFOut)
		}
		return nil
	},
}

func init() {
	diffCmd.Flags().StringVar(&flagKind, "kind", "static", "site kind: static, dynamic (markup), md or txt")
	diffCmd.Flags().StringVarP(&flagOut, "output", "o", "", "write the diff image to this PNG file")
	diffCmd.Flags().StringVar(&flagPDFOut, "pdf", "", "write the full diff to this PDF file")
	diffCmd.Flags().StringVar(&flagFont, "font", "", "TrueType font for the image (default: config fallbacks)")
	diffCmd.Flags().BoolVar(&flagLineNumbers, "line-numbers", false, "draw a line-number gutter")
	rootCmd.AddCommand(diffCmd)
}

func renderPNG(path, diffText string) error {
	rc := config.Default().Render
	face, src, _ := render.LoadFace(flagFont, rc.Fallbacks, rc.FontSize)
	if flagFont != "" && src.Kind != "primary" {
		logger.Warn("sitediff: font unavailable", "font", flagFont, "using", src.Kind)
	}
	rc.LineNumbers = flagLineNumbers
	r, err := render.New(face, renderOptions(rc))
	if err != nil {
		return err
	}
	img, err := r.Render(diffText)
	if err != nil {
		return err
	}
	if img.Cropped {
		logger.Info("sitediff: image cropped", "drawn", img.Drawn, "lines", len(img.Lines))
	}
	return render.WritePNG(path, img.Image)
}

var (
	styleHeader  = lipgloss.NewStyle().Bold(true)
	styleHunk    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	styleAdded   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleRemoved = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	styleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	styleFaint   = lipgloss.NewStyle().Faint(true)
)

// printDiff writes a unified diff with one style per line kind. The two
// file header lines are bold.
func printDiff(w io.Writer, unified string) {
	for i, line := range strings.Split(strings.TrimRight(unified, "\n"), "\n") {
		var st lipgloss.Style
		switch {
		case i < 2 && (strings.HasPrefix(line, "---") || strings.HasPrefix(line, "+++")):
			st = styleHeader
		default:
			switch diff.KindOf(line) {
			case diff.Hunk:
				st = styleHunk
			case diff.Added:
				st = styleAdded
			case diff.Removed:
				st = styleRemoved
			default:
				fmt.Fprintln(w, line)
				continue
			}
		}
		fmt.Fprintln(w, st.Render(line))
	}
}

// printReport writes the pass summary and one line per failed site.
func printReport(w io.Writer, rep monitor.Report) {
	fmt.Fprintf(w, "%d checked: %d changed, %d unchanged, %d first run, %d failed",
		len(rep.Results),
		rep.Count(monitor.Changed),
		rep.Count(monitor.Unchanged),
		rep.Count(monitor.FirstRun),
		rep.Count(monitor.FetchFailed)+rep.Count(monitor.ChangeFailed))
	if rep.Skipped > 0 {
		fmt.Fprintf(w, ", %d skipped", rep.Skipped)
	}
	fmt.Fprintln(w, styleFaint.Render(fmt.Sprintf(" (%s)", rep.Finished.Sub(rep.Started).Round(time.Millisecond))))
	for _, r := range rep.Failures() {
		fmt.Fprintf(w, "  %s %s: %s\n", styleFailed.Render(r.Outcome.String()), r.URL, r.Detail)
	}
}
