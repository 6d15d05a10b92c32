package geo

import (
	"database/sql"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
)

func TestLCC_Origin(t *testing.T) {
	x, y := INEGILCC.Proj.Forward(-102, 12)
	if math.Abs(x-2500000) > 1e-6 || math.Abs(y) > 1e-6 {
		t.Errorf("Forward(origin) = (%f, %f), want (2500000, 0)", x, y)
	}
}

func TestLCC_RoundTrip(t *testing.T) {
	points := [][2]float64{
		{-110.9773, 29.1026}, // Hermosillo
		{-99.1332, 19.4326},  // Ciudad de México
		{-117.0382, 32.5149}, // Tijuana
		{-86.8515, 21.1619},  // Cancún
	}
	for _, p := range points {
		x, y := INEGILCC.Proj.Forward(p[0], p[1])
		lon, lat := INEGILCC.Proj.Inverse(x, y)
		if math.Abs(lon-p[0]) > 1e-8 || math.Abs(lat-p[1]) > 1e-8 {
			t.Errorf("round trip %v -> (%f, %f) -> (%f, %f)", p, x, y, lon, lat)
		}
	}
}

func TestLCC_WestOfCentralMeridian(t *testing.T) {
	x, y := INEGILCC.Proj.Forward(-110.9773, 29.1026)
	if x >= 2500000 {
		t.Errorf("x = %f, want west of false easting", x)
	}
	if y <= 0 {
		t.Errorf("y = %f, want north of origin", y)
	}
}

var urban = BBox{MinX: -111.075, MinY: 28.000, MaxX: -110.900, MaxY: 29.250}

func line(coords ...float64) *geom.LineString {
	return geom.NewLineStringFlat(geom.XY, coords)
}

func TestBBox_Intersects(t *testing.T) {
	square := func(minX, minY, maxX, maxY float64) [][]geom.Coord {
		return [][]geom.Coord{{{minX, minY}, {minX, maxY}, {maxX, maxY}, {maxX, minY}, {minX, minY}}}
	}

	tests := []struct {
		name string
		g    geom.T
		want bool
	}{
		{"point inside", geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{-110.9773, 29.1026}), true},
		{"point outside", geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{-110.5, 29.1}), false},
		{"point on edge", geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{-110.900, 29.0}), true},
		{"line inside", line(-111.0, 29.0, -110.95, 29.1), true},
		{"line outside", line(-112.0, 29.0, -111.5, 29.1), false},
		{"line crossing with no vertex inside", line(-111.2, 29.0, -110.8, 29.0), true},
		{
			"line whose envelope overlaps but path does not",
			line(-111.2, 29.3, -111.2, 27.9, -110.8, 27.9),
			false,
		},
		{
			"multilinestring with one crossing part",
			geom.NewMultiLineString(geom.XY).MustSetCoords([][]geom.Coord{
				{{-112, 30}, {-112, 31}},
				{{-111.0, 27.5}, {-111.0, 29.5}},
			}),
			true,
		},
		{"polygon overlapping", geom.NewPolygon(geom.XY).MustSetCoords(square(-111.1, 28.9, -111.0, 29.0)), true},
		{"polygon containing box", geom.NewPolygon(geom.XY).MustSetCoords(square(-112, 27, -110, 30)), true},
		{"polygon outside", geom.NewPolygon(geom.XY).MustSetCoords(square(-115, 20, -114, 21)), false},
		{
			"box inside polygon hole",
			geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{
				square(-112, 27, -110, 30)[0],
				{{-111.5, 27.5}, {-110.5, 27.5}, {-110.5, 29.5}, {-111.5, 29.5}, {-111.5, 27.5}},
			}),
			false,
		},
		{"nil geometry", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := urban.Intersects(tt.g); got != tt.want {
				t.Errorf("Intersects() = %v, want %v", got, tt.want)
			}
		})
	}
}

func writeTestShapefile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "colonias.shp")
	w, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		t.Fatalf("create shapefile: %v", err)
	}
	outer := []shp.Point{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0}}
	hole := []shp.Point{{X: 2, Y: 2}, {X: 4, Y: 2}, {X: 4, Y: 4}, {X: 2, Y: 4}, {X: 2, Y: 2}}
	second := []shp.Point{{X: 20, Y: 20}, {X: 20, Y: 30}, {X: 30, Y: 30}, {X: 30, Y: 20}, {X: 20, Y: 20}}

	if err := w.SetFields([]shp.Field{
		shp.StringField("NOM_COL", 40),
		shp.NumberField("CVE_ENT", 2),
		shp.FloatField("AREA", 12, 2),
	}); err != nil {
		t.Fatalf("set fields: %v", err)
	}

	p1 := shp.Polygon(*shp.NewPolyLine([][]shp.Point{outer, hole}))
	n := int(w.Write(&p1))
	w.WriteAttribute(n, 0, "Col\xf3n")
	w.WriteAttribute(n, 1, 26)
	w.WriteAttribute(n, 2, 96.0)

	p2 := shp.Polygon(*shp.NewPolyLine([][]shp.Point{second}))
	n = int(w.Write(&p2))
	w.WriteAttribute(n, 0, "Centro")
	w.WriteAttribute(n, 1, 2)
	w.WriteAttribute(n, 2, 100.0)
	w.Close()
	renameDBF(t, path)

	prj := filepath.Join(dir, "colonias.prj")
	if err := os.WriteFile(prj, []byte(INEGILCC.Definition), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// renameDBF moves the attribute file go-shp writes as "<stem>dbf" to the
// "<stem>.dbf" name every reader expects.
func renameDBF(t *testing.T, shpPath string) {
	t.Helper()
	stem := strings.TrimSuffix(shpPath, ".shp")
	if _, err := os.Stat(stem + "dbf"); err != nil {
		return
	}
	if err := os.Rename(stem+"dbf", stem+".dbf"); err != nil {
		t.Fatalf("rename dbf: %v", err)
	}
}

func TestReadShapefile(t *testing.T) {
	layer, err := ReadShapefile(writeTestShapefile(t, t.TempDir()))
	if err != nil {
		t.Fatalf("ReadShapefile: %v", err)
	}

	if layer.Name != "colonias" {
		t.Errorf("Name = %q", layer.Name)
	}
	if layer.SRS != INEGILCC {
		t.Errorf("SRS = %v, want INEGILCC from .prj", layer.SRS)
	}
	wantFields := []Field{{"NOM_COL", Text}, {"CVE_ENT", Integer}, {"AREA", Real}}
	if !reflect.DeepEqual(layer.Fields, wantFields) {
		t.Errorf("Fields = %v, want %v", layer.Fields, wantFields)
	}
	if layer.Len() != 2 {
		t.Fatalf("Len = %d, want 2", layer.Len())
	}

	f := layer.Features[0]
	if got := f.String("NOM_COL"); got != "Colón" {
		t.Errorf("NOM_COL = %q, want Latin-1 decoded Colón", got)
	}
	if n, ok := f.Int("CVE_ENT"); !ok || n != 26 {
		t.Errorf("CVE_ENT = %v, %v", n, ok)
	}
	mp, ok := f.Geometry.(*geom.MultiPolygon)
	if !ok {
		t.Fatalf("geometry = %T, want MultiPolygon", f.Geometry)
	}
	if mp.NumPolygons() != 1 || mp.Polygon(0).NumLinearRings() != 2 {
		t.Errorf("want one polygon with a hole, got %d polygons", mp.NumPolygons())
	}
}

func TestLayerOps_Idempotent(t *testing.T) {
	build := func() *Layer {
		return &Layer{
			Fields: []Field{{"NOM_COL", Text}, {"CVE_ENT", Integer}, {"FECHA_ACT", Text}},
			Features: []*Feature{
				{Props: map[string]any{"NOM_COL": "Villa de SERIS", "CVE_ENT": int64(26), "FECHA_ACT": "2020"}},
			},
		}
	}
	apply := func(l *Layer) {
		l.LowerFields()
		l.LowerStrings()
		l.Rename(map[string]string{"nom_col": "colonia"})
		l.Drop("fecha_act", "missing")
	}

	once, twice := build(), build()
	apply(once)
	apply(twice)
	apply(twice)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("layer ops not idempotent:\n once=%+v\ntwice=%+v", once.Fields, twice.Fields)
	}
	want := map[string]any{"colonia": "villa de seris", "cve_ent": int64(26)}
	if !reflect.DeepEqual(once.Features[0].Props, want) {
		t.Errorf("Props = %v, want %v", once.Features[0].Props, want)
	}
}

func TestGeoJSON_RoundTripReprojects(t *testing.T) {
	x, y := INEGILCC.Proj.Forward(-110.9773, 29.1026)
	layer := &Layer{
		Name:   "puntos",
		SRS:    INEGILCC,
		Fields: []Field{{"zeta", Text}, {"alfa", Integer}, {"largo", Real}},
		Features: []*Feature{{
			Geometry: geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{x, y}),
			Props:    map[string]any{"zeta": "a", "alfa": int64(7), "largo": 12.5},
		}},
	}

	path := filepath.Join(t.TempDir(), "out", "puntos.geojson")
	if err := WriteGeoJSON(path, layer); err != nil {
		t.Fatalf("WriteGeoJSON: %v", err)
	}
	got, err := ReadGeoJSON(path)
	if err != nil {
		t.Fatalf("ReadGeoJSON: %v", err)
	}

	wantFields := []Field{{"zeta", Text}, {"alfa", Integer}, {"largo", Real}}
	if !reflect.DeepEqual(got.Fields, wantFields) {
		t.Errorf("Fields = %v, want %v", got.Fields, wantFields)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"properties":{"zeta":"a","alfa":7,"largo":12.5}`) {
		t.Errorf("properties not in field order: %s", raw)
	}
	c := got.Features[0].Geometry.(*geom.Point).Coords()
	if math.Abs(c[0]+110.9773) > 1e-7 || math.Abs(c[1]-29.1026) > 1e-7 {
		t.Errorf("coords = %v, want WGS 84 Hermosillo", c)
	}
	if v := got.Features[0].Props["alfa"]; v != int64(7) {
		t.Errorf("alfa = %#v, want int64(7)", v)
	}
	// The source layer keeps its projected coordinates.
	if src := layer.Features[0].Geometry.(*geom.Point).X(); src != x {
		t.Errorf("source layer mutated: x = %f", src)
	}
}

func TestWriteGeoPackage(t *testing.T) {
	layer, err := ReadShapefile(writeTestShapefile(t, t.TempDir()))
	if err != nil {
		t.Fatalf("ReadShapefile: %v", err)
	}
	layer.Name = "colonias_hmo"

	path := filepath.Join(t.TempDir(), "colonias_hmo.gpkg")
	if err := WriteGeoPackage(path, layer); err != nil {
		t.Fatalf("WriteGeoPackage: %v", err)
	}
	// Overwrite must succeed.
	if err := WriteGeoPackage(path, layer); err != nil {
		t.Fatalf("WriteGeoPackage again: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var appID, userVersion int
	db.QueryRow("PRAGMA application_id").Scan(&appID)
	db.QueryRow("PRAGMA user_version").Scan(&userVersion)
	if appID != 1196444487 || userVersion != 10200 {
		t.Errorf("application_id = %d, user_version = %d", appID, userVersion)
	}

	var geomType string
	var srsID int
	if err := db.QueryRow(`SELECT geometry_type_name, srs_id FROM gpkg_geometry_columns WHERE table_name = 'colonias_hmo'`).
		Scan(&geomType, &srsID); err != nil {
		t.Fatalf("geometry_columns: %v", err)
	}
	if geomType != "MULTIPOLYGON" || srsID != 900914 {
		t.Errorf("geometry column = %s/%d", geomType, srsID)
	}

	var wgs84Rows int
	db.QueryRow(`SELECT count(*) FROM gpkg_spatial_ref_sys WHERE srs_id = 4326`).Scan(&wgs84Rows)
	if wgs84Rows != 1 {
		t.Errorf("EPSG:4326 rows = %d, want 1", wgs84Rows)
	}

	var def string
	if err := db.QueryRow(`SELECT definition FROM gpkg_spatial_ref_sys WHERE srs_id = 900914`).Scan(&def); err != nil {
		t.Fatalf("srs row: %v", err)
	}
	if def != INEGILCC.Definition {
		t.Errorf("definition = %q", def)
	}

	var minX, maxY float64
	db.QueryRow(`SELECT min_x, max_y FROM gpkg_contents WHERE table_name = 'colonias_hmo'`).Scan(&minX, &maxY)
	if minX != 0 || maxY != 30 {
		t.Errorf("extent min_x = %f max_y = %f, want 0 and 30", minX, maxY)
	}

	var blob []byte
	var name string
	if err := db.QueryRow(`SELECT geom, NOM_COL FROM colonias_hmo ORDER BY fid LIMIT 1`).Scan(&blob, &name); err != nil {
		t.Fatalf("select feature: %v", err)
	}
	if name != "Colón" {
		t.Errorf("NOM_COL = %q", name)
	}
	if string(blob[:2]) != "GP" || blob[2] != 0 || blob[3] != 0x03 {
		t.Fatalf("header = % x", blob[:4])
	}
	if got := int32(binary.LittleEndian.Uint32(blob[4:8])); got != 900914 {
		t.Errorf("srs_id in header = %d", got)
	}
	envMaxX := math.Float64frombits(binary.LittleEndian.Uint64(blob[16:24]))
	if envMaxX != 10 {
		t.Errorf("envelope max_x = %f, want 10", envMaxX)
	}
	g, err := wkb.Unmarshal(blob[40:])
	if err != nil {
		t.Fatalf("wkb: %v", err)
	}
	if _, ok := g.(*geom.MultiPolygon); !ok {
		t.Errorf("geometry = %T, want MultiPolygon", g)
	}
}

func TestSaveLayer(t *testing.T) {
	layer, err := ReadShapefile(writeTestShapefile(t, t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	gpkg, gj, err := SaveLayer(layer, dir, "colonias_hmo")
	if err != nil {
		t.Fatalf("SaveLayer: %v", err)
	}
	for _, p := range []string{gpkg, gj} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing output %s", p)
		}
	}
	if layer.Name != "colonias" {
		t.Errorf("SaveLayer renamed the input layer to %q", layer.Name)
	}
}

func TestWriteGeoPackage_WGS84Layer(t *testing.T) {
	layer := &Layer{
		Name:   "nodos",
		SRS:    WGS84,
		Fields: []Field{{"osmid", Integer}},
		Features: []*Feature{{
			Geometry: geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{-110.9773, 29.1026}),
			Props:    map[string]any{"osmid": int64(1)},
		}},
	}
	path := filepath.Join(t.TempDir(), "nodos.gpkg")
	if err := WriteGeoPackage(path, layer); err != nil {
		t.Fatalf("WriteGeoPackage: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT count(*) FROM gpkg_spatial_ref_sys`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("spatial_ref_sys rows = %d, want 3 (-1, 0, 4326)", n)
	}
}
