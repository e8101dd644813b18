// Package normalize turns raw harvested records into canonical records:
// markup cleaning, plain-text extraction, fingerprinting, language
// detection, category filtering and dedup.
package normalize

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	markupPolicy = newMarkupPolicy()
	textPolicy   = bluemonday.StrictPolicy()

	collapseSpace = regexp.MustCompile(`[ \t\x{00a0}]+`)
	collapseBlank = regexp.MustCompile(`\n{3,}`)
	zeroWidth     = strings.NewReplacer("\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "")
)

// newMarkupPolicy allows only structural and content elements. Scripts,
// styles, frames, forms and event handlers never survive.
func newMarkupPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "div", "span", "br", "hr",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li",
		"table", "thead", "tbody", "tr", "th", "td",
		"strong", "em", "b", "i", "u", "sub", "sup",
		"blockquote", "pre", "code",
	)
	p.AllowAttrs("href").OnElements("a")
	p.AllowElements("a")
	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowElements("img")
	return p
}

// CleanMarkup strips unsafe and decorative markup, keeping the content
// skeleton of the original document.
func CleanMarkup(markup string) string {
	return strings.TrimSpace(markupPolicy.Sanitize(markup))
}

// ExtractText renders markup down to plain text with normalized
// whitespace. Entities are decoded and zero-width characters removed.
func ExtractText(markup string) string {
	// Block-level closers become newlines so paragraphs stay separated
	// after tags are stripped.
	withBreaks := strings.NewReplacer(
		"</p>", "</p>\n", "</div>", "</div>\n", "</li>", "</li>\n",
		"</h1>", "</h1>\n", "</h2>", "</h2>\n", "</h3>", "</h3>\n",
		"</h4>", "</h4>\n", "</h5>", "</h5>\n", "</h6>", "</h6>\n",
		"</tr>", "</tr>\n", "</blockquote>", "</blockquote>\n",
		"<br>", "\n", "<br/>", "\n", "<br />", "\n",
	).Replace(markup)

	text := textPolicy.Sanitize(withBreaks)
	text = html.UnescapeString(text)
	text = zeroWidth.Replace(text)
	text = collapseSpace.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = collapseBlank.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
