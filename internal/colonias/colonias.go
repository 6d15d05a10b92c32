// Package colonias downloads INEGI's neighbourhood boundaries and extracts
// the urban colonias of Hermosillo.
package colonias

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/hmomobility/internal/archive"
	"github.com/lox/hmomobility/internal/config"
	"github.com/lox/hmomobility/internal/geo"
	"github.com/lox/hmomobility/internal/logging"
	"github.com/lox/hmomobility/internal/metrics"
	"github.com/lox/hmomobility/internal/store"
)

const (
	Dataset = "colonias"

	URL = "https://www.inegi.org.mx/contenidos/productos/prod_serv/contenidos/espanol/bvinegi/productos/geografia/delimitaciones/794551132180_s.zip"

	docName   = "documentacion_colonias.txt"
	layerName = "colonias_hmo"
)

// ErrNoShapefile is returned by Clean when no extracted shapefile exists.
var ErrNoShapefile = errors.New("no .shp file found")

// DropFields are removed from the cleaned layer.
var DropFields = []string{"cve_ent", "cve_mun", "cve_loc", "fecha_act", "institucio"}

type Pipeline struct {
	paths  config.Paths
	store  *store.Store
	logger *slog.Logger
	clock  clockwork.Clock

	Progress io.Writer
	URL      string
}

func New(paths config.Paths, st *store.Store, logger *slog.Logger, clock clockwork.Clock) *Pipeline {
	return &Pipeline{
		paths:    paths,
		store:    st,
		logger:   logging.For(logger, Dataset),
		clock:    clock,
		Progress: os.Stderr,
		URL:      URL,
	}
}

func (p *Pipeline) RawDir() string       { return filepath.Join(p.paths.Raw, "geo", Dataset) }
func (p *Pipeline) DocPath() string      { return filepath.Join(p.paths.Raw, docName) }
func (p *Pipeline) InterimDir() string   { return filepath.Join(p.paths.Interim, Dataset) }
func (p *Pipeline) ProcessedDir() string { return filepath.Join(p.paths.Processed, Dataset) }

// Download fetches the national colonias archive into raw/geo/colonias and
// writes the source documentation.
func (p *Pipeline) Download(ctx context.Context) (string, error) {
	stop := metrics.StartStage(p.clock, Dataset, "download")
	p.logger.Info("starting download of INEGI colonias")

	dir, err := p.paths.Dir(p.RawDir())
	if err != nil {
		return "", err
	}
	d := archive.NewDownloader(Dataset, p.store, p.logger)
	d.Progress = p.Progress
	zipPath, err := d.Download(ctx, p.URL, dir)
	if err != nil {
		return "", fmt.Errorf("download colonias: %w", err)
	}
	p.logger.Info("download finished", "file", p.paths.Rel(zipPath), "elapsed_s", fmt.Sprintf("%.2f", stop().Seconds()))

	if err := os.WriteFile(p.DocPath(), []byte(Documentation(p.URL, p.clock.Now())), 0644); err != nil {
		return "", fmt.Errorf("write documentation: %w", err)
	}
	p.logger.Info("documentation written", "file", p.paths.Rel(p.DocPath()))
	return zipPath, nil
}

// Extract unzips every archive in the colonias directory next to itself.
// With removeZips the archives are deleted once extracted.
func (p *Pipeline) Extract(removeZips bool) ([]string, error) {
	stop := metrics.StartStage(p.clock, Dataset, "extract")
	p.logger.Info("starting extraction of colonias")

	zips, err := archive.ZipPaths(p.RawDir())
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	if len(zips) == 0 {
		p.logger.Warn("no archives to extract", "dir", p.paths.Rel(p.RawDir()))
	}
	dirs := archive.ExtractAll(zips, "", p.logger)
	for _, d := range dirs {
		p.logger.Info("extracted", "dir", p.paths.Rel(d))
	}

	if removeZips {
		for _, z := range zips {
			if err := os.Remove(z); err != nil {
				p.logger.Warn("could not remove archive", "file", p.paths.Rel(z), "error", err)
				continue
			}
			p.logger.Info("removed archive", "file", p.paths.Rel(z))
		}
	}
	p.logger.Info("extraction finished", "dirs", len(dirs), "elapsed_s", fmt.Sprintf("%.2f", stop().Seconds()))
	return dirs, nil
}

// Clean filters the first shapefile under the colonias directory to urban
// Hermosillo, saves the interim layer, then normalises attributes and saves
// the processed layer. It returns the processed GeoPackage and GeoJSON paths.
func (p *Pipeline) Clean() (string, string, error) {
	stop := metrics.StartStage(p.clock, Dataset, "clean")
	p.logger.Info("starting cleaning of INEGI colonias")

	shps, err := archive.FindFiles(p.RawDir(), ".shp")
	if err != nil && !os.IsNotExist(err) {
		return "", "", err
	}
	if len(shps) == 0 {
		return "", "", fmt.Errorf("%w in %s", ErrNoShapefile, p.paths.Rel(p.RawDir()))
	}

	layer, err := geo.ReadShapefile(shps[0])
	if err != nil {
		return "", "", err
	}
	p.logger.Info("shapefile loaded", "file", p.paths.Rel(shps[0]), "features", layer.Len())

	if err := FilterHermosillo(layer); err != nil {
		return "", "", err
	}
	if _, _, err := geo.SaveLayer(layer, p.InterimDir(), layerName); err != nil {
		return "", "", fmt.Errorf("save interim: %w", err)
	}
	p.logger.Info("filtered colonias saved", "dir", p.paths.Rel(p.InterimDir()), "features", layer.Len())

	CleanLayer(layer)

	gpkg, gj, err := geo.SaveLayer(layer, p.ProcessedDir(), layerName)
	if err != nil {
		return "", "", fmt.Errorf("save processed: %w", err)
	}
	metrics.RecordsWritten.WithLabelValues(Dataset, "clean").Add(float64(layer.Len()))
	p.logger.Info("clean colonias saved", "dir", p.paths.Rel(p.ProcessedDir()), "elapsed_s", fmt.Sprintf("%.2f", stop().Seconds()))
	return gpkg, gj, nil
}

// FilterHermosillo keeps the colonias of Hermosillo's urban locality. Keys are
// compared as integers, so "026" and 26 both match.
func FilterHermosillo(layer *geo.Layer) error {
	for _, f := range []string{"CVE_ENT", "CVE_MUN", "CVE_LOC"} {
		if !layer.HasField(f) {
			return fmt.Errorf("layer has no %s field", f)
		}
	}
	layer.Filter(func(f *geo.Feature) bool {
		return is(f, "CVE_ENT", config.StateKey) &&
			is(f, "CVE_MUN", config.MunicipalityKey) &&
			is(f, "CVE_LOC", config.UrbanLocality)
	})
	return nil
}

func is(f *geo.Feature, field string, want int64) bool {
	v, ok := f.Int(field)
	return ok && v == want
}

// CleanLayer assigns the INEGI projection, lower-cases names and text values
// and drops the key and bookkeeping fields.
func CleanLayer(layer *geo.Layer) {
	layer.SRS = geo.INEGILCC
	layer.LowerFields()
	layer.LowerStrings()
	layer.Drop(DropFields...)
}

// Documentation renders the source description saved under raw/.
func Documentation(url string, downloadedAt time.Time) string {
	return fmt.Sprintf(`
# DESCRIPCIÓN DE FUENTES DE DATOS - COLONIAS INEGI

Fuente: Delimitaciones Geoestadísticas (Colonias)
- Nombre de la Fuente: Delimitaciones Geoestadísticas (Colonias)
- Institución: INEGI
- Enlace: %s
- Fecha de Descarga: %s
- Ubicación: México
- Formato de los Datos: ZIP (contiene archivos Shapefile)
- Descripción de los Datos:
    Conjunto de delimitaciones espaciales de colonias urbanas a nivel nacional,
    usadas para análisis geográficos y de ubicación territorial.
`, url, downloadedAt.Format(time.DateTime))
}
