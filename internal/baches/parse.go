package baches

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/lox/hmomobility/internal/htmlutil"
)

// Details is the information shown in a report's modal.
type Details struct {
	NoReparemos   string
	Folio         string
	FechaReporte  string
	FechaAtencion string
	Material      string
	Colonia       string
	Direccion     string
	Descripcion   string
	Imagenes      []string
}

var reNoReparemos = regexp.MustCompile(`No\. ([\d/]+)`)

// ParseDetails extracts the report fields from the detail HTML. Missing
// fields are left empty.
func ParseDetails(fragment string) Details {
	d := Details{Imagenes: []string{}}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return d
	}

	if header := doc.Find("h5#potholeModalLabel").First(); header.Length() > 0 {
		if m := reNoReparemos.FindStringSubmatch(htmlutil.Text(header)); m != nil {
			d.NoReparemos = m[1]
		}
		if folio := findNext(doc, header, "span.fw-400"); folio != nil {
			d.Folio = strings.TrimSpace(folio.Text())
		}
	}

	if s := label(doc, "Reporte"); s != nil {
		d.FechaReporte = siblingText(s)
	}
	if s := label(doc, "Atención"); s != nil {
		d.FechaAtencion = siblingText(s)
	}
	if s := label(doc, "Material"); s != nil {
		if span := findNext(doc, s, "span"); span != nil {
			d.Material = strings.TrimSpace(span.Text())
		}
	}
	if s := label(doc, "Colonia"); s != nil {
		d.Colonia = htmlutil.TrimLabel(htmlutil.Text(s.Parent()), "Colonias:")
	}
	if s := label(doc, "Dirección"); s != nil {
		d.Direccion = htmlutil.TrimLabel(htmlutil.Text(s.Parent()), "Dirección:")
	}
	if s := label(doc, "Descripción"); s != nil {
		inner, err := s.Parent().Html()
		if err == nil {
			d.Descripcion = htmlutil.TrimLabel(htmlutil.ToText(inner), "Descripción:")
		}
	}

	doc.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		d.Imagenes = append(d.Imagenes, src)
	})
	return d
}

// Record returns the details as fields to merge into a report. Absent values
// are null, images an empty list.
func (d Details) Record() *Record {
	r := NewRecord()
	for _, f := range []struct {
		key, value string
	}{
		{"no_reparemos", d.NoReparemos},
		{"folio", d.Folio},
		{"fecha_reporte", d.FechaReporte},
		{"fecha_atencion", d.FechaAtencion},
		{"material", d.Material},
		{"colonia", d.Colonia},
		{"direccion", d.Direccion},
		{"descripcion", d.Descripcion},
	} {
		if f.value == "" {
			r.Set(f.key, nil)
		} else {
			r.Set(f.key, f.value)
		}
	}
	imgs := make([]any, len(d.Imagenes))
	for i, s := range d.Imagenes {
		imgs[i] = s
	}
	r.Set("imagenes", imgs)
	return r
}

// label returns the first <strong> whose own text contains name.
func label(doc *goquery.Document, name string) *goquery.Selection {
	s := doc.Find("strong").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), name)
	}).First()
	if s.Length() == 0 {
		return nil
	}
	return s
}

// siblingText is the trimmed text node right after the selection.
func siblingText(s *goquery.Selection) string {
	n := s.Get(0).NextSibling
	if n == nil || n.Type != html.TextNode {
		return ""
	}
	return strings.TrimSpace(n.Data)
}

// findNext returns the first element matching selector that follows from in
// document order, descendants included.
func findNext(doc *goquery.Document, from *goquery.Selection, selector string) *goquery.Selection {
	target := from.Get(0)
	var found bool
	var next *goquery.Selection
	doc.Find("*").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Get(0) == target {
			found = true
			return true
		}
		if found && s.Is(selector) {
			next = s
			return false
		}
		return true
	})
	return next
}
