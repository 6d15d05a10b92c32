package geo

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	_ "modernc.org/sqlite"
)

const (
	gpkgApplicationID = 0x47504B47 // "GPKG"
	gpkgUserVersion   = 10200
	geometryColumn    = "geom"
)

var gpkgSchema = []string{
	`CREATE TABLE gpkg_spatial_ref_sys (
		srs_name TEXT NOT NULL,
		srs_id INTEGER PRIMARY KEY,
		organization TEXT NOT NULL,
		organization_coordsys_id INTEGER NOT NULL,
		definition TEXT NOT NULL,
		description TEXT
	)`,
	`CREATE TABLE gpkg_contents (
		table_name TEXT NOT NULL PRIMARY KEY,
		data_type TEXT NOT NULL,
		identifier TEXT UNIQUE,
		description TEXT DEFAULT '',
		last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		min_x DOUBLE,
		min_y DOUBLE,
		max_x DOUBLE,
		max_y DOUBLE,
		srs_id INTEGER,
		CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
	)`,
	`CREATE TABLE gpkg_geometry_columns (
		table_name TEXT NOT NULL,
		column_name TEXT NOT NULL,
		geometry_type_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL,
		z TINYINT NOT NULL,
		m TINYINT NOT NULL,
		CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
		CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
		CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys (srs_id)
	)`,
	`INSERT INTO gpkg_spatial_ref_sys VALUES
		('Undefined cartesian SRS', -1, 'NONE', -1, 'undefined', 'undefined cartesian coordinate reference system'),
		('Undefined geographic SRS', 0, 'NONE', 0, 'undefined', 'undefined geographic coordinate reference system')`,
}

// WriteGeoPackage writes the layer as a single feature table in a new
// GeoPackage 1.2 file, replacing any existing file.
func WriteGeoPackage(path string, layer *Layer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open geopackage: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := writeGeoPackage(db, layer); err != nil {
		return fmt.Errorf("write geopackage %s: %w", filepath.Base(path), err)
	}
	return db.Close()
}

func writeGeoPackage(db *sql.DB, layer *Layer) error {
	srs := layer.SRS
	if srs == nil {
		srs = &SRS{ID: -1}
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA application_id = %d", gpkgApplicationID),
		fmt.Sprintf("PRAGMA user_version = %d", gpkgUserVersion),
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range gpkgSchema {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	// EPSG:4326 is mandatory in every GeoPackage.
	for _, s := range []*SRS{WGS84, srs} {
		if s.ID <= 0 || (s != WGS84 && s.ID == WGS84.ID) {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO gpkg_spatial_ref_sys VALUES (?, ?, ?, ?, ?, NULL)`,
			s.Name, s.ID, s.Organization, s.OrgID, s.Definition); err != nil {
			return err
		}
	}

	table := quoteIdent(layer.Name)
	cols := []string{"fid INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL", geometryColumn + " " + geometryTypeName(layer)}
	for _, f := range layer.Fields {
		cols = append(cols, quoteIdent(f.Name)+" "+string(f.Type))
	}
	if _, err := tx.Exec(fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(cols, ", "))); err != nil {
		return err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(layer.Fields)+1), ", ")
	names := []string{geometryColumn}
	for _, f := range layer.Fields {
		names = append(names, quoteIdent(f.Name))
	}
	stmt, err := tx.Prepare(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(names, ", "), placeholders))
	if err != nil {
		return err
	}
	defer stmt.Close()

	extent := geom.NewBounds(geom.XY)
	for i, f := range layer.Features {
		blob, err := encodeGeometry(f.Geometry, srs.ID)
		if err != nil {
			return fmt.Errorf("feature %d: %w", i, err)
		}
		if f.Geometry != nil && !f.Geometry.Empty() {
			extent.Extend(f.Geometry)
		}
		args := []any{blob}
		for _, fld := range layer.Fields {
			args = append(args, sqlValue(f.Props[fld.Name]))
		}
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("feature %d: %w", i, err)
		}
	}

	var minX, minY, maxX, maxY any
	if !extent.IsEmpty() {
		minX, minY, maxX, maxY = extent.Min(0), extent.Min(1), extent.Max(0), extent.Max(1)
	}
	if _, err := tx.Exec(`INSERT INTO gpkg_contents
		(table_name, data_type, identifier, description, last_change, min_x, min_y, max_x, max_y, srs_id)
		VALUES (?, 'features', ?, '', ?, ?, ?, ?, ?, ?)`,
		layer.Name, layer.Name, time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		minX, minY, maxX, maxY, srs.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO gpkg_geometry_columns VALUES (?, ?, ?, ?, 0, 0)`,
		layer.Name, geometryColumn, geometryTypeName(layer), srs.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// encodeGeometry builds a GeoPackage binary blob: the "GP" header with a
// little-endian XY envelope followed by WKB.
func encodeGeometry(g geom.T, srsID int) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	buf.WriteString("GP")
	buf.WriteByte(0) // version 1

	empty := g.Empty()
	flags := byte(0x01) // little endian
	if empty {
		flags |= 0x10
	} else {
		flags |= 1 << 1 // envelope [minx, maxx, miny, maxy]
	}
	buf.WriteByte(flags)
	binary.Write(&buf, binary.LittleEndian, int32(srsID))

	if !empty {
		b := g.Bounds()
		for _, v := range []float64{b.Min(0), b.Max(0), b.Min(1), b.Max(1)} {
			binary.Write(&buf, binary.LittleEndian, v)
		}
	}

	body, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("encode wkb: %w", err)
	}
	buf.Write(body)
	return buf.Bytes(), nil
}

func geometryTypeName(layer *Layer) string {
	name := ""
	for _, f := range layer.Features {
		if f.Geometry == nil {
			continue
		}
		n := wkbTypeName(f.Geometry)
		switch {
		case name == "":
			name = n
		case name != n:
			return "GEOMETRY"
		}
	}
	if name == "" {
		return "GEOMETRY"
	}
	return name
}

func wkbTypeName(g geom.T) string {
	switch g.(type) {
	case *geom.Point:
		return "POINT"
	case *geom.LineString:
		return "LINESTRING"
	case *geom.Polygon:
		return "POLYGON"
	case *geom.MultiPoint:
		return "MULTIPOINT"
	case *geom.MultiLineString:
		return "MULTILINESTRING"
	case *geom.MultiPolygon:
		return "MULTIPOLYGON"
	}
	return "GEOMETRY"
}

func sqlValue(v any) any {
	switch v := v.(type) {
	case nil, string, int64, float64, bool:
		return v
	case int:
		return int64(v)
	default:
		return fmt.Sprint(v)
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
