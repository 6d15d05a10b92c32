package vialidades

import (
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/twpayne/go-geom"

	"github.com/lox/hmomobility/internal/geo"
)

const earthRadius = 6371009 // metres, mean radius used by OSMnx

// Node is a graph vertex: a way endpoint or an intersection.
type Node struct {
	ID          int64
	Lat, Lon    float64
	StreetCount int
	Highway     string
}

// Edge is a directed road piece between two graph nodes.
type Edge struct {
	U, V     int64
	Key      int
	OSMID    int64
	Tags     map[string]string
	Coords   []geom.Coord
	Length   float64
	Oneway   bool
	Reversed bool
}

// Graph is a simplified directed multigraph of the road network.
type Graph struct {
	Nodes map[int64]*Node
	Edges []*Edge
}

// edgeTags are copied from the way onto its edges.
var edgeTags = []string{"highway", "name", "lanes", "maxspeed", "ref", "bridge", "tunnel", "width", "junction", "access", "service"}

// BuildGraph turns Overpass elements into a graph. Ways are split at nodes
// shared with other ways (and at their endpoints); two-way roads get one edge
// per direction, the second marked reversed.
func BuildGraph(elements []Element) *Graph {
	points := make(map[int64]Element)
	var ways []Element
	for _, e := range elements {
		switch e.Type {
		case "node":
			points[e.ID] = e
		case "way":
			ways = append(ways, e)
		}
	}

	// A node is kept when it ends a way or appears more than once overall.
	uses := make(map[int64]int)
	endpoint := make(map[int64]bool)
	for i := range ways {
		ways[i].Nodes = knownNodes(ways[i].Nodes, points)
		refs := ways[i].Nodes
		if len(refs) < 2 {
			continue
		}
		for _, id := range refs {
			uses[id]++
		}
		endpoint[refs[0]] = true
		endpoint[refs[len(refs)-1]] = true
	}

	g := &Graph{Nodes: make(map[int64]*Node)}
	isGraphNode := func(id int64) bool { return endpoint[id] || uses[id] > 1 }
	addNode := func(id int64) {
		if _, ok := g.Nodes[id]; ok {
			return
		}
		p := points[id]
		g.Nodes[id] = &Node{ID: id, Lat: p.Lat, Lon: p.Lon, Highway: p.Tags["highway"]}
	}
	keys := make(map[[2]int64]int)
	addEdge := func(e *Edge) {
		k := [2]int64{e.U, e.V}
		e.Key = keys[k]
		keys[k]++
		g.Edges = append(g.Edges, e)
	}

	for _, w := range ways {
		refs := w.Nodes
		if len(refs) < 2 {
			continue
		}
		oneway, backward := onewayOf(w.Tags)
		if backward {
			refs = reversedIDs(refs)
		}
		tags := make(map[string]string, len(edgeTags))
		for _, t := range edgeTags {
			if v, ok := w.Tags[t]; ok {
				tags[t] = v
			}
		}

		start := 0
		for i := 1; i < len(refs); i++ {
			if !isGraphNode(refs[i]) && i != len(refs)-1 {
				continue
			}
			piece := refs[start : i+1]
			start = i
			addNode(piece[0])
			addNode(piece[len(piece)-1])

			coords := make([]geom.Coord, len(piece))
			for j, id := range piece {
				coords[j] = geom.Coord{points[id].Lon, points[id].Lat}
			}
			length := pathLength(coords)

			addEdge(&Edge{
				U: piece[0], V: piece[len(piece)-1], OSMID: w.ID, Tags: tags,
				Coords: coords, Length: length, Oneway: oneway,
			})
			if !oneway {
				addEdge(&Edge{
					U: piece[len(piece)-1], V: piece[0], OSMID: w.ID, Tags: tags,
					Coords: reversedCoords(coords), Length: length, Reversed: true,
				})
			}
		}
	}

	// Street count is the number of undirected road pieces meeting at a node.
	seen := make(map[[3]int64]bool)
	for _, e := range g.Edges {
		u, v := e.U, e.V
		if u > v {
			u, v = v, u
		}
		k := [3]int64{u, v, e.OSMID}
		if seen[k] {
			continue
		}
		seen[k] = true
		g.Nodes[e.U].StreetCount++
		if e.U != e.V {
			g.Nodes[e.V].StreetCount++
		}
	}
	return g
}

func knownNodes(refs []int64, points map[int64]Element) []int64 {
	out := refs[:0:0]
	for _, id := range refs {
		if _, ok := points[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// onewayOf interprets the oneway tag the way OSMnx does for driving networks.
// backward is set for oneway=-1 ways, which run against their node order.
func onewayOf(tags map[string]string) (oneway, backward bool) {
	switch strings.ToLower(tags["oneway"]) {
	case "yes", "true", "1":
		return true, false
	case "-1", "reverse":
		return true, true
	}
	if tags["junction"] == "roundabout" {
		return true, false
	}
	return false, false
}

func reversedIDs(ids []int64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = id
	}
	return out
}

func reversedCoords(cs []geom.Coord) []geom.Coord {
	out := make([]geom.Coord, len(cs))
	for i, c := range cs {
		out[len(cs)-1-i] = c
	}
	return out
}

func pathLength(cs []geom.Coord) float64 {
	var total float64
	for i := 1; i < len(cs); i++ {
		total += haversine(cs[i-1][1], cs[i-1][0], cs[i][1], cs[i][0])
	}
	return total
}

// haversine returns the great-circle distance in metres.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return earthRadius * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

var nodeFields = []geo.Field{
	{Name: "osmid", Type: geo.Integer},
	{Name: "y", Type: geo.Real},
	{Name: "x", Type: geo.Real},
	{Name: "street_count", Type: geo.Integer},
	{Name: "highway", Type: geo.Text},
}

var edgeFields = []geo.Field{
	{Name: "u", Type: geo.Integer},
	{Name: "v", Type: geo.Integer},
	{Name: "key", Type: geo.Integer},
	{Name: "osmid", Type: geo.Integer},
	{Name: "highway", Type: geo.Text},
	{Name: "name", Type: geo.Text},
	{Name: "oneway", Type: geo.Boolean},
	{Name: "reversed", Type: geo.Boolean},
	{Name: "length", Type: geo.Real},
	{Name: "lanes", Type: geo.Text},
	{Name: "maxspeed", Type: geo.Text},
	{Name: "ref", Type: geo.Text},
	{Name: "bridge", Type: geo.Text},
	{Name: "tunnel", Type: geo.Text},
	{Name: "width", Type: geo.Text},
	{Name: "junction", Type: geo.Text},
	{Name: "access", Type: geo.Text},
	{Name: "service", Type: geo.Text},
}

// NodesLayer returns the graph nodes as WGS 84 points ordered by id.
func (g *Graph) NodesLayer(name string) *geo.Layer {
	ids := make([]int64, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	l := &geo.Layer{Name: name, SRS: geo.WGS84, Fields: slices.Clone(nodeFields)}
	for _, id := range ids {
		n := g.Nodes[id]
		props := map[string]any{
			"osmid":        n.ID,
			"y":            n.Lat,
			"x":            n.Lon,
			"street_count": int64(n.StreetCount),
			"highway":      nil,
		}
		if n.Highway != "" {
			props["highway"] = n.Highway
		}
		l.Features = append(l.Features, &geo.Feature{
			Geometry: geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{n.Lon, n.Lat}),
			Props:    props,
		})
	}
	return l
}

// EdgesLayer returns the graph edges as WGS 84 line strings.
func (g *Graph) EdgesLayer(name string) *geo.Layer {
	l := &geo.Layer{Name: name, SRS: geo.WGS84, Fields: slices.Clone(edgeFields)}
	for _, e := range g.Edges {
		props := map[string]any{
			"u":        e.U,
			"v":        e.V,
			"key":      int64(e.Key),
			"osmid":    e.OSMID,
			"oneway":   e.Oneway,
			"reversed": e.Reversed,
			"length":   math.Round(e.Length*1000) / 1000,
		}
		for _, t := range edgeTags {
			if v, ok := e.Tags[t]; ok {
				props[t] = v
			} else {
				props[t] = nil
			}
		}
		l.Features = append(l.Features, &geo.Feature{
			Geometry: geom.NewLineString(geom.XY).MustSetCoords(e.Coords),
			Props:    props,
		})
	}
	return l
}
