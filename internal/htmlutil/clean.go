package htmlutil

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/k3a/html2text"
)

// ToText converts HTML to plain text using a proper HTML parser.
// Handles entities, strips tags, and preserves readable text.
func ToText(s string) string {
	return strings.TrimSpace(html2text.HTML2Text(s))
}

// Text returns the whitespace-collapsed text of a selection, joining text
// nodes with single spaces.
func Text(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}

// TrimLabel strips a leading "Label:" from s and trims whitespace.
func TrimLabel(s, label string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, label)
	return strings.TrimSpace(s)
}
