package monitor

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/sitediff/diff"
	"github.com/hazyhaar/sitediff/render"
)

func fetchFailedText(url, at string, err error) string {
	return fmt.Sprintf("⚠️ Cannot reach: %s\nTime: %s\nError: %v", url, at, err)
}

func firstRunText(url, at string) string {
	return fmt.Sprintf("📥 First capture: %s\nTime: %s", url, at)
}

func changeFailedText(url, at string, err error) string {
	return fmt.Sprintf("⚠️ Comparison failed: %s\nTime: %s\nError: %v", url, at, err)
}

func processingFailedText(url string, err error) string {
	return fmt.Sprintf("⚠️ Processing failed: %s\nError: %v", url, err)
}

// SiteListFailedText is the admin alert for an unreadable site list.
func SiteListFailedText(path string, err error) string {
	return fmt.Sprintf("⚠️ Cannot read site list %s: %v", path, err)
}

// FontMissingText is the admin alert sent at start-up when the configured
// font could not be used.
func FontMissingText(path string, src render.FaceSource) string {
	using := "the built-in bitmap font"
	if !src.Builtin() {
		using = src.Path
	}
	return fmt.Sprintf("⚠️ Font file %s is unusable, falling back to %s", path, using)
}

func changedCaption(url, at, title string, st diff.Stats, out *render.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 Content updated: %s\nTime: %s", url, at)
	if title != "" {
		fmt.Fprintf(&sb, "\nPage: %s", title)
	}
	fmt.Fprintf(&sb, "\nLines: +%d -%d", st.Added, st.Removed)
	if out != nil && out.Cropped {
		fmt.Fprintf(&sb, "\nImage cropped: %d of %d lines shown", out.Drawn, len(out.Lines))
	}
	return sb.String()
}
