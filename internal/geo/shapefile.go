package geo

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"golang.org/x/text/encoding/charmap"
)

// ReadShapefile loads a shapefile and its DBF attributes. Polygons become
// MultiPolygons: clockwise rings start a new polygon, counter-clockwise rings
// are holes of the preceding one.
func ReadShapefile(path string) (*Layer, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer r.Close()

	dbf := r.Fields()
	layer := &Layer{
		Name:   stem(path),
		SRS:    readPRJ(path),
		Fields: make([]Field, len(dbf)),
	}
	for i, f := range dbf {
		layer.Fields[i] = Field{Name: f.String(), Type: dbfType(f)}
	}

	for r.Next() {
		n, shape := r.Shape()
		g, err := shapeGeometry(shape)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", n, err)
		}
		props := make(map[string]any, len(dbf))
		for i, fld := range layer.Fields {
			props[fld.Name] = parseAttribute(r.ReadAttribute(n, i), fld.Type)
		}
		layer.Features = append(layer.Features, &Feature{Geometry: g, Props: props})
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("read shapefile: %w", err)
	}
	return layer, nil
}

func dbfType(f shp.Field) FieldType {
	switch f.Fieldtype {
	case 'N', 'F':
		if f.Precision == 0 && f.Fieldtype == 'N' {
			return Integer
		}
		return Real
	case 'L':
		return Boolean
	default:
		return Text
	}
}

// parseAttribute converts a raw DBF cell. Text that is not valid UTF-8 is
// decoded as Latin-1, the encoding of older INEGI products.
func parseAttribute(raw string, t FieldType) any {
	raw = strings.TrimRight(raw, "\x00")
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	switch t {
	case Integer:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		return nil
	case Real:
		if x, err := strconv.ParseFloat(s, 64); err == nil {
			return x
		}
		return nil
	case Boolean:
		switch s {
		case "T", "t", "Y", "y":
			return true
		case "F", "f", "N", "n":
			return false
		}
		return nil
	}
	if !utf8.ValidString(s) {
		if dec, err := charmap.ISO8859_1.NewDecoder().String(s); err == nil {
			return dec
		}
	}
	return s
}

func shapeGeometry(s shp.Shape) (geom.T, error) {
	switch s := s.(type) {
	case *shp.Null:
		return nil, nil
	case *shp.Point:
		return geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{s.X, s.Y}), nil
	case *shp.PointZ:
		return geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{s.X, s.Y}), nil
	case *shp.MultiPoint:
		return geom.NewMultiPoint(geom.XY).MustSetCoords(coords(s.Points)), nil
	case *shp.PolyLine:
		return geom.NewMultiLineString(geom.XY).MustSetCoords(parts(s.Parts, s.Points)), nil
	case *shp.PolyLineZ:
		return geom.NewMultiLineString(geom.XY).MustSetCoords(parts(s.Parts, s.Points)), nil
	case *shp.Polygon:
		return polygons(parts(s.Parts, s.Points)), nil
	case *shp.PolygonZ:
		return polygons(parts(s.Parts, s.Points)), nil
	default:
		return nil, fmt.Errorf("unsupported shape type %T", s)
	}
}

func coords(points []shp.Point) []geom.Coord {
	out := make([]geom.Coord, len(points))
	for i, p := range points {
		out[i] = geom.Coord{p.X, p.Y}
	}
	return out
}

func parts(starts []int32, points []shp.Point) [][]geom.Coord {
	out := make([][]geom.Coord, 0, len(starts))
	for i, start := range starts {
		end := len(points)
		if i+1 < len(starts) {
			end = int(starts[i+1])
		}
		if int(start) >= end {
			continue
		}
		out = append(out, coords(points[start:end]))
	}
	return out
}

func polygons(rings [][]geom.Coord) *geom.MultiPolygon {
	var polys [][][]geom.Coord
	for _, ring := range rings {
		if len(ring) < 4 {
			continue
		}
		flat := make([]float64, 0, 2*len(ring))
		for _, c := range ring {
			flat = append(flat, c[0], c[1])
		}
		hole := xy.IsRingCounterClockwise(geom.XY, flat)
		if hole && len(polys) > 0 {
			last := len(polys) - 1
			polys[last] = append(polys[last], ring)
			continue
		}
		polys = append(polys, [][]geom.Coord{ring})
	}
	return geom.NewMultiPolygon(geom.XY).MustSetCoords(polys)
}
