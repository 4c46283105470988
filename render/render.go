// Package render rasterises a unified diff into a bounded, colour-coded
// image.
//
// Width is clamped to [MinWidth, MaxWidth]; height never exceeds MaxHeight
// and lines past it are cropped. Long lines are wrapped by the layout
// package and keep the colour of the diff line they came from.
package render

import (
	"errors"
	"image"
	"image/draw"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"github.com/hazyhaar/sitediff/diff"
	"github.com/hazyhaar/sitediff/layout"
)

// ErrNoFace is returned by New when no font face is supplied.
var ErrNoFace = errors.New("render: nil font face")

// Result is a rendered diff.
type Result struct {
	Image *image.RGBA
	// Cropped is set when the laid-out lines did not fit under MaxHeight.
	Cropped bool
	// Lines is every laid-out line, drawn or not.
	Lines []layout.Line
	// Drawn is how many of Lines are visible on the canvas.
	Drawn int
}

// Renderer draws diffs with one font face. A font.Face is not safe for
// concurrent use, so neither is a Renderer.
type Renderer struct {
	face font.Face
	opts Options
}

// New creates a Renderer. Zero-valued options fall back to DefaultOptions.
func New(face font.Face, opts Options) (*Renderer, error) {
	if face == nil {
		return nil, ErrNoFace
	}
	opts.defaults()
	return &Renderer{face: face, opts: opts}, nil
}

// Options returns the effective options.
func (r *Renderer) Options() Options { return r.opts }

// Measure returns the advance width of s in whole pixels.
func (r *Renderer) Measure(s string) int {
	return font.MeasureString(r.face, s).Ceil()
}

// LineHeight is the font height plus line padding.
func (r *Renderer) LineHeight() int {
	return r.face.Metrics().Height.Ceil() + r.opts.LinePadding
}

// Render lays out diffText (a unified diff, one line per "\n") and draws it.
// With line numbers enabled the marker column is dropped and the gutter
// carries the raw line number instead.
func (r *Renderer) Render(diffText string) (*Result, error) {
	o := r.opts
	raw := diff.SplitLines(strings.ReplaceAll(diffText, "\t", strings.Repeat(" ", o.TabWidth)))

	gutter := 0
	if o.LineNumbers {
		gutter = r.Measure(strconv.Itoa(len(raw))) + 2*o.GutterPadding
	}
	budget := o.MaxWidth - o.MarginLeft - o.MarginRight - gutter
	if budget < 1 {
		budget = 1
	}
	lines := layout.Expand(raw, o.LineNumbers, r.Measure, budget)

	widest := 0
	for _, l := range lines {
		if w := r.Measure(l.Text); w > widest {
			widest = w
		}
	}
	width := clamp(widest+o.MarginLeft+o.MarginRight+gutter, o.MinWidth, o.MaxWidth)

	lh := r.LineHeight()
	want := lh*len(lines) + o.VerticalPadding
	height := want
	cropped := false
	if height > o.MaxHeight {
		height = o.MaxHeight
		cropped = true
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(o.Palette.Background), image.Point{}, draw.Src)
	if gutter > 0 {
		draw.Draw(img, image.Rect(0, 0, gutter, height), image.NewUniform(o.Palette.Gutter), image.Point{}, draw.Src)
	}

	ascent := r.face.Metrics().Ascent.Ceil()
	d := &font.Drawer{Dst: img, Face: r.face}
	y := o.TopPadding
	drawn := 0
	for _, l := range lines {
		if y+lh > height {
			break
		}
		if gutter > 0 && l.Source > 0 {
			num := strconv.Itoa(l.Source)
			d.Src = image.NewUniform(o.Palette.LineNumber)
			d.Dot = fixed.P(gutter-o.GutterPadding-r.Measure(num), y+ascent)
			d.DrawString(num)
		}
		d.Src = image.NewUniform(o.Palette.For(l.Kind))
		d.Dot = fixed.P(gutter+o.MarginLeft, y+ascent)
		d.DrawString(l.Text)
		y += lh
		drawn++
	}

	return &Result{Image: img, Cropped: cropped, Lines: lines, Drawn: drawn}, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
