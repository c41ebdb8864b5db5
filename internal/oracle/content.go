package oracle

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const truncationMarker = "... (truncated)"

// PageText reduces the extension's content snapshot to visible text. Plain
// text passes through; markup is parsed and stripped of non-visible nodes.
func PageText(content string) string {
	trimmed := strings.TrimSpace(content)
	if !looksLikeHTML(trimmed) {
		return trimmed
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(trimmed))
	if err != nil {
		return trimmed
	}
	doc.Find("script, style, noscript, template, svg, iframe").Remove()

	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Truncate caps content at limit runes, appending a marker when cut.
// A non-positive limit disables the cap.
func Truncate(content string, limit int) string {
	if limit <= 0 {
		return content
	}
	r := []rune(content)
	if len(r) <= limit {
		return content
	}
	return string(r[:limit]) + truncationMarker
}

func looksLikeHTML(s string) bool {
	if !strings.HasPrefix(s, "<") {
		return false
	}
	lower := strings.ToLower(s[:min(len(s), 200)])
	for _, tag := range []string{"<html", "<body", "<div", "<!doctype", "<main", "<head", "<p", "<span", "<section"} {
		if strings.Contains(lower, tag) {
			return true
		}
	}
	return false
}
