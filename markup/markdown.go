package markup

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/sitediff/normalize"
)

// Markdown sanitises src and converts it to Markdown. Scripts, styles and
// event handlers are gone before conversion, so only reader-visible content
// reaches the diff.
func Markdown(src string) (string, error) {
	clean := bluemonday.UGCPolicy().Sanitize(src)
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	md, err := conv.ConvertString(clean)
	if err != nil {
		return "", fmt.Errorf("markup: markdown: %w", err)
	}
	return normalize.Text(CollapseBlankLines(md, MaxBlankRun)), nil
}

// Title returns the whitespace-collapsed text of the first <title>, or "".
func Title(src string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return ""
	}
	return CollapseSpace(doc.Find("title").First().Text())
}
