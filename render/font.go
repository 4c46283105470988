package render

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
)

// DefaultFallbacks are looked up in FontDirs when the primary font is
// unusable.
var DefaultFallbacks = []string{"Arial.ttf", "arial.ttf", "DejaVuSans.ttf"}

// FontDirs are searched, recursively, for fallback font names.
var FontDirs = []string{
	"/usr/share/fonts",
	"/usr/local/share/fonts",
	"/Library/Fonts",
	"/System/Library/Fonts",
	`C:\Windows\Fonts`,
}

// FaceSource describes where a face came from.
type FaceSource struct {
	Kind string // "primary", "fallback" or "builtin"
	Path string
}

// Builtin reports whether the bitmap fallback was used.
func (s FaceSource) Builtin() bool { return s.Kind == "builtin" }

// LoadFace returns a face for the primary font file, else the first
// resolvable fallback name, else the built-in 7x13 bitmap face. It never
// fails; errs lists what went wrong along the way.
func LoadFace(primary string, fallbacks []string, size float64) (face font.Face, src FaceSource, errs []error) {
	if size <= 0 {
		size = 16
	}
	if primary != "" {
		f, err := openFace(primary, size)
		if err == nil {
			return f, FaceSource{Kind: "primary", Path: primary}, errs
		}
		errs = append(errs, err)
	}
	for _, name := range fallbacks {
		path, ok := resolveFont(name)
		if !ok {
			errs = append(errs, fmt.Errorf("render: font %s not found", name))
			continue
		}
		f, err := openFace(path, size)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return f, FaceSource{Kind: "fallback", Path: path}, errs
	}
	return basicfont.Face7x13, FaceSource{Kind: "builtin"}, errs
}

func openFace(path string, size float64) (font.Face, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("render: read font: %w", err)
	}
	ft, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("render: parse font %s: %w", path, err)
	}
	face, err := opentype.NewFace(ft, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("render: face %s: %w", path, err)
	}
	return face, nil
}

// resolveFont finds name as given, then by base name under FontDirs.
func resolveFont(name string) (string, bool) {
	if fi, err := os.Stat(name); err == nil && !fi.IsDir() {
		return name, true
	}
	base := filepath.Base(name)
	for _, dir := range FontDirs {
		var found string
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return fs.SkipDir
			}
			if !d.IsDir() && d.Name() == base {
				found = path
				return fs.SkipAll
			}
			return nil
		})
		if found != "" {
			return found, true
		}
	}
	return "", false
}
