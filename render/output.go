package render

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/jung-kurt/gofpdf"

	"github.com/hazyhaar/sitediff/diff"
)

// WritePNG encodes img to path. The file is created, written and closed
// before returning; a partial file is removed on error.
func WritePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("render: mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("render: create png: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("render: encode png: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("render: close png: %w", err)
	}
	return nil
}

// EncodePNG writes img as PNG to w.
func EncodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

// WritePDF writes the whole diff as a paginated A4 document. It is the
// companion to a cropped image: nothing is cut, long lines wrap.
func WritePDF(w io.Writer, title, diffText string, p Palette) error {
	if p == (Palette{}) {
		p = DefaultPalette()
	}
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetAutoPageBreak(true, 12)
	doc.SetTitle(title, true)
	tr := doc.UnicodeTranslatorFromDescriptor("")
	doc.AddPage()

	if title != "" {
		doc.SetFont("Helvetica", "B", 12)
		doc.MultiCell(0, 6, tr(title), "", "L", false)
		doc.Ln(2)
	}
	doc.SetFont("Courier", "", 8)
	for _, line := range diff.SplitLines(diffText) {
		c := p.For(diff.KindOf(line))
		doc.SetTextColor(int(c.R), int(c.G), int(c.B))
		doc.MultiCell(0, 3.6, tr(line), "", "L", false)
	}
	if err := doc.Output(w); err != nil {
		return fmt.Errorf("render: pdf: %w", err)
	}
	return nil
}

// WritePDFFile is WritePDF to a file at path.
func WritePDFFile(path, title, diffText string, p Palette) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("render: create pdf: %w", err)
	}
	if err := WritePDF(f, title, diffText, p); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
