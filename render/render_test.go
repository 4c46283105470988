package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/image/font/basicfont"
)

func newTestRenderer(t *testing.T, opts Options) *Renderer {
	t.Helper()
	r, err := New(basicfont.Face7x13, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

// hasColor reports whether any pixel in rows [y0, y1) equals c.
func hasColor(img *image.RGBA, y0, y1 int, c color.RGBA) bool {
	b := img.Bounds()
	if y1 > b.Max.Y {
		y1 = b.Max.Y
	}
	for y := y0; y < y1; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.RGBAAt(x, y) == c {
				return true
			}
		}
	}
	return false
}

func TestNew_NilFace(t *testing.T) {
	if _, err := New(nil, DefaultOptions()); err != ErrNoFace {
		t.Fatalf("err = %v, want ErrNoFace", err)
	}
}

func TestRender_HeightCapped(t *testing.T) {
	// WHAT: A 500-line diff is cropped to MaxHeight.
	// WHY: Messaging platforms reject very tall images.
	r := newTestRenderer(t, DefaultOptions())
	var sb strings.Builder
	sb.WriteString("@@ -1,500 +1,500 @@\n")
	for i := 0; i < 500; i++ {
		sb.WriteString("+line\n")
	}
	res, err := r.Render(sb.String())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if h := res.Image.Bounds().Dy(); h != DefaultMaxHeight {
		t.Errorf("height = %d, want %d", h, DefaultMaxHeight)
	}
	if !res.Cropped {
		t.Error("Cropped should be set")
	}
	if res.Drawn >= len(res.Lines) {
		t.Errorf("drawn %d of %d lines, expected a crop", res.Drawn, len(res.Lines))
	}
}

func TestRender_WidthClamped(t *testing.T) {
	r := newTestRenderer(t, DefaultOptions())

	small, err := r.Render("@@ -1 +1 @@\n-a\n+b")
	if err != nil {
		t.Fatal(err)
	}
	if w := small.Image.Bounds().Dx(); w != DefaultMinWidth {
		t.Errorf("short diff width = %d, want %d", w, DefaultMinWidth)
	}
	if small.Cropped {
		t.Error("short diff should not be cropped")
	}
	lh := r.LineHeight()
	if h := small.Image.Bounds().Dy(); h != 3*lh+r.Options().VerticalPadding {
		t.Errorf("height = %d, want %d", h, 3*lh+r.Options().VerticalPadding)
	}

	long := "+" + strings.Repeat("word ", 400)
	big, err := r.Render(long)
	if err != nil {
		t.Fatal(err)
	}
	if w := big.Image.Bounds().Dx(); w < DefaultMinWidth || w > DefaultMaxWidth {
		t.Errorf("width %d outside [%d, %d]", w, DefaultMinWidth, DefaultMaxWidth)
	}
	if len(big.Lines) < 2 {
		t.Errorf("long line should wrap, got %d lines", len(big.Lines))
	}
}

func TestRender_Colors(t *testing.T) {
	r := newTestRenderer(t, DefaultOptions())
	res, err := r.Render("@@ -1 +1 @@\n-old\n+new\n same")
	if err != nil {
		t.Fatal(err)
	}
	p := DefaultPalette()
	lh := r.LineHeight()
	top := r.Options().TopPadding
	band := func(i int) (int, int) { return top + i*lh, top + (i+1)*lh }

	checks := []struct {
		line int
		c    color.RGBA
		name string
	}{
		{0, p.Hunk, "hunk"},
		{1, p.Removed, "removed"},
		{2, p.Added, "added"},
		{3, p.Default, "context"},
	}
	for _, c := range checks {
		y0, y1 := band(c.line)
		if !hasColor(res.Image, y0, y1, c.c) {
			t.Errorf("%s line not drawn in %v", c.name, c.c)
		}
	}
	if px := res.Image.RGBAAt(0, 0); px != p.Background {
		t.Errorf("background = %v", px)
	}
}

func TestRender_WrappedLinesKeepColor(t *testing.T) {
	// WHAT: Continuation lines of a wrapped addition are drawn green.
	opts := DefaultOptions()
	opts.MinWidth = 100
	opts.MaxWidth = 100
	r := newTestRenderer(t, opts)
	res, err := r.Render("+" + strings.Repeat("abc ", 30))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Lines) < 3 {
		t.Fatalf("expected wrapping, got %d lines", len(res.Lines))
	}
	lh := r.LineHeight()
	top := r.Options().TopPadding
	for i := 1; i < len(res.Lines); i++ {
		if res.Lines[i].Source != 0 {
			t.Errorf("line %d: continuation Source = %d", i, res.Lines[i].Source)
		}
		if !hasColor(res.Image, top+i*lh, top+(i+1)*lh, DefaultPalette().Added) {
			t.Errorf("continuation line %d not green", i)
		}
	}
}

func TestRender_LineNumbers(t *testing.T) {
	opts := DefaultOptions()
	opts.LineNumbers = true
	r := newTestRenderer(t, opts)
	res, err := r.Render("@@ -1 +1 @@\n-old\n+new")
	if err != nil {
		t.Fatal(err)
	}
	if px := res.Image.RGBAAt(0, 0); px != DefaultPalette().Gutter {
		t.Errorf("gutter pixel = %v", px)
	}
	if res.Lines[1].Text != "old" || res.Lines[2].Text != "new" {
		t.Errorf("markers not stripped: %+v", res.Lines)
	}
	if res.Lines[0].Text != "@@ -1 +1 @@" {
		t.Errorf("hunk header changed: %q", res.Lines[0].Text)
	}
}

func TestRender_Empty(t *testing.T) {
	r := newTestRenderer(t, DefaultOptions())
	res, err := r.Render("")
	if err != nil {
		t.Fatal(err)
	}
	if res.Image.Bounds().Dy() != r.Options().VerticalPadding || len(res.Lines) != 0 {
		t.Errorf("empty render: %v lines=%d", res.Image.Bounds(), len(res.Lines))
	}
}

func TestLoadFace_Builtin(t *testing.T) {
	saved := FontDirs
	FontDirs = []string{t.TempDir()}
	defer func() { FontDirs = saved }()

	face, src, errs := LoadFace(filepath.Join(t.TempDir(), "missing.ttf"), []string{"Nope.ttf"}, 16)
	if face == nil || !src.Builtin() {
		t.Fatalf("expected builtin face, got %+v", src)
	}
	if len(errs) != 2 {
		t.Errorf("errs = %v, want 2 entries", errs)
	}
}

func TestLoadFace_BadPrimary(t *testing.T) {
	saved := FontDirs
	FontDirs = nil
	defer func() { FontDirs = saved }()

	bad := filepath.Join(t.TempDir(), "bad.ttf")
	if err := os.WriteFile(bad, []byte("not a font"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, src, errs := LoadFace(bad, nil, 16)
	if !src.Builtin() || len(errs) != 1 {
		t.Errorf("src=%+v errs=%v", src, errs)
	}
}

func TestWritePNG(t *testing.T) {
	r := newTestRenderer(t, DefaultOptions())
	res, err := r.Render("+x")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "sub", "d.png")
	if err := WritePNG(path, res.Image); err != nil {
		t.Fatalf("WritePNG: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds() != res.Image.Bounds() {
		t.Errorf("bounds %v != %v", img.Bounds(), res.Image.Bounds())
	}
}

func TestWritePDF(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePDF(&buf, "example.com", "@@ -1 +1 @@\n-a\n+b", Palette{}); err != nil {
		t.Fatalf("WritePDF: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF")) {
		t.Errorf("not a PDF: %q", buf.Bytes()[:8])
	}
}
