package render

import (
	"image/color"

	"github.com/hazyhaar/sitediff/diff"
)

// Palette maps diff kinds and canvas regions to colours.
type Palette struct {
	Background color.RGBA
	Gutter     color.RGBA
	LineNumber color.RGBA
	Default    color.RGBA
	Added      color.RGBA
	Removed    color.RGBA
	Hunk       color.RGBA
}

// DefaultPalette is white paper with green additions, red removals and blue
// hunk headers.
func DefaultPalette() Palette {
	return Palette{
		Background: color.RGBA{255, 255, 255, 255},
		Gutter:     color.RGBA{240, 240, 240, 255},
		LineNumber: color.RGBA{128, 128, 128, 255},
		Default:    color.RGBA{0, 0, 0, 255},
		Added:      color.RGBA{0, 128, 0, 255},
		Removed:    color.RGBA{255, 0, 0, 255},
		Hunk:       color.RGBA{0, 0, 255, 255},
	}
}

// For returns the text colour of a diff kind.
func (p Palette) For(k diff.Kind) color.RGBA {
	switch k {
	case diff.Added:
		return p.Added
	case diff.Removed:
		return p.Removed
	case diff.Hunk:
		return p.Hunk
	default:
		return p.Default
	}
}

// Options bounds and styles the canvas.
type Options struct {
	MinWidth        int
	MaxWidth        int
	MaxHeight       int
	MarginLeft      int
	MarginRight     int
	TopPadding      int
	VerticalPadding int // added to lineHeight*lines for the canvas height
	LinePadding     int // added to the font height for the line height
	GutterPadding   int // on each side of the line numbers
	LineNumbers     bool
	TabWidth        int
	Palette         Palette
}

// Default canvas bounds.
const (
	DefaultMinWidth  = 400
	DefaultMaxWidth  = 1200
	DefaultMaxHeight = 2000
)

// DefaultOptions returns the standard layout: 400–1200px wide, at most
// 2000px tall, 10px margins, no gutter.
func DefaultOptions() Options {
	return Options{
		MinWidth:        DefaultMinWidth,
		MaxWidth:        DefaultMaxWidth,
		MaxHeight:       DefaultMaxHeight,
		MarginLeft:      10,
		MarginRight:     10,
		TopPadding:      10,
		VerticalPadding: 20,
		LinePadding:     8,
		GutterPadding:   6,
		TabWidth:        4,
		Palette:         DefaultPalette(),
	}
}

func (o *Options) defaults() {
	d := DefaultOptions()
	if o.MinWidth <= 0 {
		o.MinWidth = d.MinWidth
	}
	if o.MaxWidth <= 0 {
		o.MaxWidth = d.MaxWidth
	}
	if o.MaxWidth < o.MinWidth {
		o.MaxWidth = o.MinWidth
	}
	if o.MaxHeight <= 0 || o.MaxHeight > DefaultMaxHeight {
		o.MaxHeight = DefaultMaxHeight
	}
	if o.TabWidth <= 0 {
		o.TabWidth = d.TabWidth
	}
	if o.Palette == (Palette{}) {
		o.Palette = d.Palette
	}
}
