package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func TestToText(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"<p>Hola</p>", "Hola"},
		{"<strong>Bache</strong> profundo", "Bache profundo"},
		{"Sin etiquetas", "Sin etiquetas"},
		{"Calle &amp; avenida", "Calle & avenida"},
	}
	for _, tt := range tests {
		if got := ToText(tt.input); got != tt.expected {
			t.Errorf("ToText(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestText_CollapsesWhitespace(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<div id=x>  No.\n   123/2022  <span>folio</span></div>"))
	if err != nil {
		t.Fatal(err)
	}
	if got := Text(doc.Find("#x")); got != "No. 123/2022 folio" {
		t.Errorf("Text = %q", got)
	}
}

func TestTrimLabel(t *testing.T) {
	if got := TrimLabel("  Colonias: Centro ", "Colonias:"); got != "Centro" {
		t.Errorf("TrimLabel = %q", got)
	}
	if got := TrimLabel("Centro", "Colonias:"); got != "Centro" {
		t.Errorf("TrimLabel without label = %q", got)
	}
}
