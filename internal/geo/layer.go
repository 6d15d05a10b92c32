// Package geo holds vector layers and the readers and writers the
// geographic stages need: shapefiles in, GeoPackage and GeoJSON out.
package geo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
)

type FieldType string

const (
	Text    FieldType = "TEXT"
	Integer FieldType = "INTEGER"
	Real    FieldType = "REAL"
	Boolean FieldType = "BOOLEAN"
)

// Field is an attribute column of a layer.
type Field struct {
	Name string
	Type FieldType
}

// Feature is one geometry with its attributes. Property values are string,
// int64, float64, bool or nil.
type Feature struct {
	Geometry geom.T
	Props    map[string]any
}

// String returns the property as text, or "" when absent.
func (f *Feature) String(name string) string {
	switch v := f.Props[name].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the property as an integer, converting numeric strings.
func (f *Feature) Int(name string) (int64, bool) {
	switch v := f.Props[name].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), v == float64(int64(v))
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// Layer is a named feature collection in one spatial reference system.
type Layer struct {
	Name     string
	SRS      *SRS
	Fields   []Field
	Features []*Feature
}

func (l *Layer) Len() int { return len(l.Features) }

func (l *Layer) fieldIndex(name string) int {
	for i, f := range l.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// HasField reports whether the layer defines name.
func (l *Layer) HasField(name string) bool { return l.fieldIndex(name) >= 0 }

// LowerFields lower-cases every field name and property key.
func (l *Layer) LowerFields() {
	names := make(map[string]string, len(l.Fields))
	for _, f := range l.Fields {
		names[f.Name] = strings.ToLower(f.Name)
	}
	l.Rename(names)
}

// LowerStrings lower-cases the values of every text field.
func (l *Layer) LowerStrings() {
	for _, fld := range l.Fields {
		if fld.Type != Text {
			continue
		}
		for _, f := range l.Features {
			if s, ok := f.Props[fld.Name].(string); ok {
				f.Props[fld.Name] = strings.ToLower(s)
			}
		}
	}
}

// Drop removes fields; names the layer does not have are ignored.
func (l *Layer) Drop(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	fields := make([]Field, 0, len(l.Fields))
	for _, f := range l.Fields {
		if !drop[f.Name] {
			fields = append(fields, f)
		}
	}
	l.Fields = fields
	for _, f := range l.Features {
		for n := range drop {
			delete(f.Props, n)
		}
	}
}

// Rename renames fields by old→new. The field slice is replaced, never
// written through, so layers may share a schema.
func (l *Layer) Rename(names map[string]string) {
	fields := make([]Field, len(l.Fields))
	for i, f := range l.Fields {
		if n, ok := names[f.Name]; ok {
			f.Name = n
		}
		fields[i] = f
	}
	l.Fields = fields
	for _, f := range l.Features {
		props := make(map[string]any, len(f.Props))
		for k, v := range f.Props {
			if n, ok := names[k]; ok {
				k = n
			}
			props[k] = v
		}
		f.Props = props
	}
}

// Replace maps the values of a text field through m; values not in m are kept.
func (l *Layer) Replace(field string, m map[string]string) {
	for _, f := range l.Features {
		if s, ok := f.Props[field].(string); ok {
			if r, ok := m[s]; ok {
				f.Props[field] = r
			}
		}
	}
}

// Filter keeps the features for which keep returns true.
func (l *Layer) Filter(keep func(*Feature) bool) {
	features := l.Features[:0]
	for _, f := range l.Features {
		if keep(f) {
			features = append(features, f)
		}
	}
	l.Features = features
}

// Reproject returns a copy of the layer with coordinates transformed to srs.
func (l *Layer) Reproject(srs *SRS) (*Layer, error) {
	out := &Layer{
		Name:     l.Name,
		SRS:      srs,
		Fields:   append([]Field(nil), l.Fields...),
		Features: make([]*Feature, len(l.Features)),
	}
	for i, f := range l.Features {
		g, err := transform(f.Geometry, l.SRS, srs)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		props := make(map[string]any, len(f.Props))
		for k, v := range f.Props {
			props[k] = v
		}
		out.Features[i] = &Feature{Geometry: g, Props: props}
	}
	return out, nil
}

func cloneGeometry(g geom.T) (geom.T, error) {
	switch g := g.(type) {
	case *geom.Point:
		return g.Clone(), nil
	case *geom.MultiPoint:
		return g.Clone(), nil
	case *geom.LineString:
		return g.Clone(), nil
	case *geom.MultiLineString:
		return g.Clone(), nil
	case *geom.Polygon:
		return g.Clone(), nil
	case *geom.MultiPolygon:
		return g.Clone(), nil
	default:
		return nil, fmt.Errorf("unsupported geometry %T", g)
	}
}

// inferFields derives field types from property values in first-seen key order.
func inferFields(features []*Feature, order []string) []Field {
	fields := make([]Field, 0, len(order))
	for _, name := range order {
		fields = append(fields, Field{Name: name, Type: inferType(features, name)})
	}
	return fields
}

func inferType(features []*Feature, name string) FieldType {
	var typ FieldType
	for _, f := range features {
		var t FieldType
		switch v := f.Props[name].(type) {
		case nil:
			continue
		case bool:
			t = Boolean
		case int64:
			t = Integer
		case float64:
			t = Real
			if v == float64(int64(v)) {
				t = Integer
			}
		default:
			return Text
		}
		switch {
		case typ == "":
			typ = t
		case typ == t:
		case (typ == Integer && t == Real) || (typ == Real && t == Integer):
			typ = Real
		default:
			return Text
		}
	}
	if typ == "" {
		return Text
	}
	return typ
}

// normalize coerces property values to the declared field types.
func normalize(l *Layer) {
	for _, fld := range l.Fields {
		for _, f := range l.Features {
			v, ok := f.Props[fld.Name]
			if !ok || v == nil {
				continue
			}
			switch fld.Type {
			case Integer:
				if x, ok := v.(float64); ok {
					f.Props[fld.Name] = int64(x)
				}
			case Text:
				switch x := v.(type) {
				case string:
				case float64:
					f.Props[fld.Name] = strconv.FormatFloat(x, 'f', -1, 64)
				default:
					f.Props[fld.Name] = fmt.Sprint(x)
				}
			}
		}
	}
}
