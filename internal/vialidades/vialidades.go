// Package vialidades extracts Hermosillo's drivable road network from
// OpenStreetMap and cleans it to the urban area.
package vialidades

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/hmomobility/internal/config"
	"github.com/lox/hmomobility/internal/geo"
	"github.com/lox/hmomobility/internal/logging"
	"github.com/lox/hmomobility/internal/metrics"
	"github.com/lox/hmomobility/internal/store"
)

const (
	Dataset = "vialidades"

	DefaultNetworkType = "drive"

	nodesName = "hermosillo_nodes"
	edgesName = "hermosillo_edges"
	docName   = "documentacion_vialidades.txt"
	urbanName = "vialidades_hmo_urb"
	cleanName = "vialidades_hmo"
)

// UrbanBBox is Hermosillo's urban area in WGS 84.
var UrbanBBox = geo.BBox{
	MinX: config.UrbanMinX, MinY: config.UrbanMinY,
	MaxX: config.UrbanMaxX, MaxY: config.UrbanMaxY,
}

// DropFields are removed from the cleaned edges when present.
var DropFields = []string{"u", "v", "key", "osmid", "bridge", "tunnel", "width", "junction", "access", "ref", "reversed"}

var Renames = map[string]string{
	"maxspeed": "vel_max",
	"oneway":   "un_sentido",
	"lanes":    "num_carriles",
	"name":     "nombre_vialidad",
	"highway":  "tipo_vialidad",
	"length":   "longitud",
}

// RoadTypes are the Spanish labels for OSM highway classes.
var RoadTypes = map[string]string{
	"motorway":       "Autopista",
	"motorway_link":  "Conector autopista",
	"trunk":          "Carretera principal",
	"trunk_link":     "Conector carretera",
	"primary":        "Vía primaria",
	"primary_link":   "Conector primaria",
	"secondary":      "Vía secundaria",
	"secondary_link": "Conector secundaria",
	"tertiary":       "Vía terciaria",
	"tertiary_link":  "Conector terciaria",
	"residential":    "Calle residencial",
	"unclassified":   "Calle menor",
	"living_street":  "Calle peatonal",
}

type Pipeline struct {
	paths  config.Paths
	client *OSMClient
	logger *slog.Logger
	clock  clockwork.Clock

	Place string
}

func New(paths config.Paths, st *store.Store, logger *slog.Logger, clock clockwork.Clock) *Pipeline {
	return &Pipeline{
		paths:  paths,
		client: NewOSMClient(st, logger),
		logger: logging.For(logger, Dataset),
		clock:  clock,
		Place:  config.PlaceName,
	}
}

func (p *Pipeline) RawDir() string       { return filepath.Join(p.paths.Raw, Dataset) }
func (p *Pipeline) NodesPath() string    { return filepath.Join(p.RawDir(), "nodes", nodesName+".geojson") }
func (p *Pipeline) EdgesPath() string    { return filepath.Join(p.RawDir(), "edges", edgesName+".geojson") }
func (p *Pipeline) DocPath() string      { return filepath.Join(p.paths.Raw, docName) }
func (p *Pipeline) InterimDir() string   { return filepath.Join(p.paths.Interim, Dataset) }
func (p *Pipeline) ProcessedDir() string { return filepath.Join(p.paths.Processed, Dataset) }

// Extract downloads the road network of the place, builds the simplified
// graph and writes its nodes and edges.
func (p *Pipeline) Extract(ctx context.Context, networkType string) (nodesPath, edgesPath string, err error) {
	if networkType == "" {
		networkType = DefaultNetworkType
	}
	filter, err := NetworkFilter(networkType)
	if err != nil {
		return "", "", err
	}
	stop := metrics.StartStage(p.clock, Dataset, "extract")
	p.logger.Info("downloading road network", "place", p.Place, "network_type", networkType)

	place, err := p.client.Geocode(ctx, p.Place)
	if err != nil {
		return "", "", err
	}
	p.logger.Info("place geocoded", "osm_type", place.OSMType, "osm_id", place.OSMID, "name", place.DisplayName)

	elements, err := p.client.Overpass(ctx, OverpassQuery(place.AreaID(), filter))
	if err != nil {
		return "", "", fmt.Errorf("download road network: %w", err)
	}
	g := BuildGraph(elements)
	p.logger.Info("graph built", "elements", len(elements), "nodes", len(g.Nodes), "edges", len(g.Edges))

	nodes, edges := g.NodesLayer(nodesName), g.EdgesLayer(edgesName)
	if err := geo.WriteGeoJSON(p.NodesPath(), nodes); err != nil {
		return "", "", fmt.Errorf("write nodes: %w", err)
	}
	p.logger.Info("exported nodes", "file", p.paths.Rel(p.NodesPath()))
	if err := geo.WriteGeoJSON(p.EdgesPath(), edges); err != nil {
		return "", "", fmt.Errorf("write edges: %w", err)
	}
	p.logger.Info("exported edges", "file", p.paths.Rel(p.EdgesPath()))
	metrics.RecordsWritten.WithLabelValues(Dataset, "extract").Add(float64(edges.Len()))
	p.logger.Info("extraction finished", "elapsed_s", fmt.Sprintf("%.2f", stop().Seconds()))

	doc := Documentation(p.Place, networkType, p.clock.Now())
	if err := os.WriteFile(p.DocPath(), []byte(doc), 0644); err != nil {
		return "", "", fmt.Errorf("write documentation: %w", err)
	}
	p.logger.Info("documentation written", "file", p.paths.Rel(p.DocPath()))
	return p.NodesPath(), p.EdgesPath(), nil
}

// Clean keeps the edges touching the urban area, saves them as interim,
// then renames and relabels the attributes for the processed layer.
func (p *Pipeline) Clean() (string, string, error) {
	stop := metrics.StartStage(p.clock, Dataset, "clean")
	p.logger.Info("starting cleaning of OSM roads")

	layer, err := geo.ReadGeoJSON(p.EdgesPath())
	if err != nil {
		return "", "", fmt.Errorf("load edges (run `vialidades extract` first): %w", err)
	}
	total := layer.Len()

	FilterUrban(layer)
	p.logger.Info("urban roads filtered", "kept", layer.Len(), "total", total)
	metrics.ItemsSkipped.WithLabelValues(Dataset, "clean").Add(float64(total - layer.Len()))
	if _, _, err := geo.SaveLayer(layer, p.InterimDir(), urbanName); err != nil {
		return "", "", fmt.Errorf("save interim: %w", err)
	}
	p.logger.Info("filtered roads saved", "dir", p.paths.Rel(p.InterimDir()))

	CleanLayer(layer)

	gpkg, gj, err := geo.SaveLayer(layer, p.ProcessedDir(), cleanName)
	if err != nil {
		return "", "", fmt.Errorf("save processed: %w", err)
	}
	metrics.RecordsWritten.WithLabelValues(Dataset, "clean").Add(float64(layer.Len()))
	p.logger.Info("clean roads saved", "dir", p.paths.Rel(p.ProcessedDir()), "elapsed_s", fmt.Sprintf("%.2f", stop().Seconds()))
	return gpkg, gj, nil
}

// FilterUrban keeps features intersecting UrbanBBox.
func FilterUrban(layer *geo.Layer) {
	layer.Filter(func(f *geo.Feature) bool { return UrbanBBox.Intersects(f.Geometry) })
}

// CleanLayer drops identifier and rarely populated fields, renames the rest
// to Spanish and labels the road types.
func CleanLayer(layer *geo.Layer) {
	layer.Drop(DropFields...)
	layer.Rename(Renames)
	layer.Replace("tipo_vialidad", RoadTypes)
	layer.LowerStrings()
}

// Documentation renders the source description saved under raw/.
func Documentation(place, networkType string, extractedAt time.Time) string {
	return fmt.Sprintf(`
# DESCRIPCIÓN DE FUENTES DE DATOS - VIALIDADES HMO

Fuente: OpenStreetMap (Nominatim + Overpass API)
- Nombre de la Fuente: Red vial de Hermosillo
- Herramienta de Extracción: Overpass API (https://overpass-api.de/)
- Lugar: %s
- Tipo de Red: %s
- Fecha de Extracción: %s
- Descripción de los Datos:
    Red vial obtenida desde OpenStreetMap, que incluye nodos (intersecciones)
    y edges (segmentos de calle) para análisis de conectividad y movilidad urbana.
- Archivos Generados:
    - %s.geojson
    - %s.geojson
- Formato de los Datos: GeoJSON (EPSG:4326)
`, place, networkType, extractedAt.Format(time.DateTime), nodesName, edgesName)
}
