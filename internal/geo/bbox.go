package geo

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/lineintersector"
)

// BBox is an axis-aligned rectangle.
type BBox struct {
	MinX, MinY, MaxX, MaxY float64
}

func (b BBox) contains(c geom.Coord) bool {
	return c[0] >= b.MinX && c[0] <= b.MaxX && c[1] >= b.MinY && c[1] <= b.MaxY
}

func (b BBox) ring() []float64 {
	return []float64{
		b.MinX, b.MinY,
		b.MaxX, b.MinY,
		b.MaxX, b.MaxY,
		b.MinX, b.MaxY,
		b.MinX, b.MinY,
	}
}

// Intersects reports whether g shares at least one point with the box. Lines
// crossing the box with no vertex inside it count; geometries whose envelope
// overlaps the box but whose shape does not, do not.
func (b BBox) Intersects(g geom.T) bool {
	if g == nil || g.Empty() {
		return false
	}
	env := g.Bounds()
	if env.Max(0) < b.MinX || env.Min(0) > b.MaxX || env.Max(1) < b.MinY || env.Min(1) > b.MaxY {
		return false
	}

	switch g := g.(type) {
	case *geom.Point:
		return b.contains(g.Coords())
	case *geom.MultiPoint:
		return b.path(g.FlatCoords(), g.Stride(), false)
	case *geom.LineString:
		return b.path(g.FlatCoords(), g.Stride(), true)
	case *geom.MultiLineString:
		for i := 0; i < g.NumLineStrings(); i++ {
			ls := g.LineString(i)
			if b.path(ls.FlatCoords(), ls.Stride(), true) {
				return true
			}
		}
	case *geom.Polygon:
		return b.polygon(g)
	case *geom.MultiPolygon:
		for i := 0; i < g.NumPolygons(); i++ {
			if b.polygon(g.Polygon(i)) {
				return true
			}
		}
	case *geom.GeometryCollection:
		for _, c := range g.Geoms() {
			if b.Intersects(c) {
				return true
			}
		}
	}
	return false
}

// path tests the vertices of flat and, when segments is set, every segment
// against the box edges.
func (b BBox) path(flat []float64, stride int, segments bool) bool {
	for i := 0; i+1 < len(flat); i += stride {
		if b.contains(geom.Coord{flat[i], flat[i+1]}) {
			return true
		}
	}
	if !segments {
		return false
	}
	edges := b.ring()
	for i := 0; i+stride+1 < len(flat); i += stride {
		p1 := geom.Coord{flat[i], flat[i+1]}
		p2 := geom.Coord{flat[i+stride], flat[i+stride+1]}
		for j := 0; j+3 < len(edges); j += 2 {
			e1 := geom.Coord{edges[j], edges[j+1]}
			e2 := geom.Coord{edges[j+2], edges[j+3]}
			res := lineintersector.LineIntersectsLine(lineintersector.RobustLineIntersector{}, p1, p2, e1, e2)
			if res.HasIntersection() {
				return true
			}
		}
	}
	return false
}

func (b BBox) polygon(p *geom.Polygon) bool {
	if p.NumLinearRings() == 0 {
		return false
	}
	for i := 0; i < p.NumLinearRings(); i++ {
		r := p.LinearRing(i)
		if b.path(r.FlatCoords(), r.Stride(), true) {
			return true
		}
	}
	// No boundary touches the box, so it is either fully inside the polygon
	// or fully outside it.
	corner := geom.Coord{b.MinX, b.MinY}
	if !xy.IsPointInRing(p.Layout(), corner, p.LinearRing(0).FlatCoords()) {
		return false
	}
	for i := 1; i < p.NumLinearRings(); i++ {
		if xy.IsPointInRing(p.Layout(), corner, p.LinearRing(i).FlatCoords()) {
			return false
		}
	}
	return true
}
