// Package baches scrapes pothole reports from Hermosillo's Bachómetro portal
// and cleans them to one CSV per year.
package baches

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/hmomobility/internal/config"
	"github.com/lox/hmomobility/internal/logging"
	"github.com/lox/hmomobility/internal/metrics"
	"github.com/lox/hmomobility/internal/store"
	"github.com/lox/hmomobility/internal/table"
)

const (
	Dataset = "baches"

	logName = "info_descarga_datos_bachometro.txt"
)

var DefaultYears = []int{2021, 2022, 2023, 2024, 2025}

// DropFields are removed by Clean when present.
var DropFields = []string{"descripcion", "description", "material", "imagenes", "date", "neighborhoods", "no_reparemos"}

// DateFields hold Spanish "Mes D, YYYY" dates converted to ISO by Clean.
var DateFields = []string{"fecha_reporte", "fecha_atencion"}

type Pipeline struct {
	paths  config.Paths
	client *Client
	logger *slog.Logger
	clock  clockwork.Clock
}

func New(paths config.Paths, st *store.Store, logger *slog.Logger, clock clockwork.Clock) *Pipeline {
	return &Pipeline{
		paths:  paths,
		client: NewClient(st, logger),
		logger: logging.For(logger, Dataset),
		clock:  clock,
	}
}

func (p *Pipeline) RawDir() string       { return filepath.Join(p.paths.Raw, Dataset) }
func (p *Pipeline) LogPath() string      { return filepath.Join(p.paths.Raw, logName) }
func (p *Pipeline) ProcessedDir() string { return filepath.Join(p.paths.Processed, Dataset) }

func (p *Pipeline) RawPath(year int) string {
	return filepath.Join(p.RawDir(), fmt.Sprintf("baches_%d.json", year))
}

func (p *Pipeline) CleanPath(year int) string {
	return filepath.Join(p.ProcessedDir(), fmt.Sprintf("baches_%d_clean.csv", year))
}

// AvailableYears asks the portal which years it can serve.
func (p *Pipeline) AvailableYears(ctx context.Context) ([]int, error) {
	return p.client.AvailableYears(ctx)
}

// Extract downloads each year's reports with their details to
// raw/baches/baches_<year>.json. Progress is appended to the download log,
// which ends with a description of the source. Years that yield no data are
// logged as errors and skipped.
func (p *Pipeline) Extract(ctx context.Context, years []int) ([]string, error) {
	if len(years) == 0 {
		years = DefaultYears
	}
	stop := metrics.StartStage(p.clock, Dataset, "extract")
	p.logger.Info("starting Bachómetro extraction", "years", years)

	if _, err := p.paths.Dir(p.RawDir()); err != nil {
		return nil, err
	}

	var written []string
	var done []int
	total := 0
	for _, year := range years {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		p.progress("\n[%s] INICIANDO descarga para año %d\n", p.stamp(), year)

		records, err := p.client.FullDataset(ctx, year)
		if err != nil {
			p.logger.Error("failed to fetch year", "year", year, "error", err)
		}
		if len(records) == 0 {
			p.logger.Warn("no data for year, continuing", "year", year)
			p.progress("[%s] ERROR en año %d: 0 registros\n", p.stamp(), year)
			continue
		}

		path := p.RawPath(year)
		if err := writeRecords(path, records); err != nil {
			p.logger.Error("failed to save year", "year", year, "error", err)
			p.progress("[%s] ERROR en año %d: 0 registros\n", p.stamp(), year)
			continue
		}
		p.logger.Info("data saved", "year", year, "records", len(records), "file", p.paths.Rel(path))
		p.progress("[%s] COMPLETADO año %d: %d registros\n", p.stamp(), year, len(records))
		metrics.RecordsWritten.WithLabelValues(Dataset, "extract").Add(float64(len(records)))

		written = append(written, path)
		done = append(done, year)
		total += len(records)
	}

	p.progress("%s", Description(done, total, p.clock.Now()))
	p.logger.Info("extraction finished", "records", total, "log", p.paths.Rel(p.LogPath()), "elapsed_s", fmt.Sprintf("%.2f", stop().Seconds()))
	return written, nil
}

func (p *Pipeline) stamp() string { return p.clock.Now().Format(time.DateTime) }

// progress appends a line to the download log. Failures only warn.
func (p *Pipeline) progress(format string, args ...any) {
	f, err := os.OpenFile(p.LogPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		p.logger.Warn("cannot write download log", "error", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, format, args...)
}

func writeRecords(path string, records []*Record) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func readRecords(path string) ([]*Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []*Record
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return records, nil
}

// Clean converts each raw year file into processed/baches/baches_<year>_clean.csv.
// Missing or unreadable years are logged and skipped.
func (p *Pipeline) Clean(years []int) ([]string, error) {
	if len(years) == 0 {
		years = DefaultYears
	}
	stop := metrics.StartStage(p.clock, Dataset, "clean")
	p.logger.Info("starting Bachómetro cleaning", "years", years)

	var written []string
	for _, year := range years {
		records, err := readRecords(p.RawPath(year))
		if err != nil {
			p.logger.Warn("skipping year", "year", year, "error", err)
			metrics.ItemsSkipped.WithLabelValues(Dataset, "clean").Inc()
			continue
		}
		t := CleanRecords(records)
		if _, err := p.paths.Dir(p.ProcessedDir()); err != nil {
			return written, err
		}
		path := p.CleanPath(year)
		if err := t.WriteCSVFile(path); err != nil {
			p.logger.Error("failed to write clean file", "year", year, "error", err)
			continue
		}
		metrics.RecordsWritten.WithLabelValues(Dataset, "clean").Add(float64(t.Len()))
		p.logger.Info("clean data saved", "year", year, "rows", t.Len(), "file", p.paths.Rel(path))
		written = append(written, path)
	}
	p.logger.Info("cleaning finished", "files", len(written), "elapsed_s", fmt.Sprintf("%.2f", stop().Seconds()))
	if len(written) == 0 {
		return nil, fmt.Errorf("no raw Bachómetro files found in %s", p.paths.Rel(p.RawDir()))
	}
	return written, nil
}

// CleanRecords flattens records to a table with the union of their fields in
// first-seen order, drops the descriptive fields and converts the dates.
func CleanRecords(records []*Record) *table.Table {
	var cols []string
	seen := make(map[string]bool)
	for _, r := range records {
		for _, k := range r.Keys() {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	t := table.New(cols...)
	for _, r := range records {
		if r == nil {
			continue
		}
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i] = r.String(c)
		}
		t.Rows = append(t.Rows, row)
	}

	t.Drop(DropFields...)
	for _, col := range DateFields {
		t.Apply(col, ISODate)
	}
	return t
}

// Description is the source description appended to the download log.
func Description(years []int, total int, downloadedAt time.Time) string {
	ys := make([]string, len(years))
	for i, y := range years {
		ys[i] = strconv.Itoa(y)
	}
	ts := downloadedAt.Format(time.DateTime)
	return fmt.Sprintf(`
INFORMACIÓN DE DESCARGA - SISTEMA BACHÓMETRO HERMOSILLO
========================================================

FECHA DE DESCARGA: %s
AÑOS DESCARGADOS: %s
TOTAL DE REGISTROS OBTENIDOS: %d

DESCRIPCIÓN DE LAS FUENTES DE DATOS
====================================

FUENTE PRINCIPAL: Bachómetro Municipal de Hermosillo
URL: %s

NATURALEZA DE LOS DATOS:
------------------------
El Bachómetro es un sistema implementado por el municipio de Hermosillo, Sonora,
para el reporte, seguimiento y atención de baches en la vía pública. Los datos
incluyen:

1. DATOS GEOGRÁFICOS:
   - Coordenadas de ubicación (latitud, longitud)
   - Colonia y dirección específica

2. DATOS TEMPORALES:
   - Fecha de reporte del bache por ciudadanos
   - Fecha de atención por parte del municipio

3. DATOS DESCRIPTIVOS:
   - Número de reporte (#ReparemosHermosillo)
   - Folio único de identificación
   - Material utilizado en la reparación
   - Descripción del problema reportado
   - Imágenes del bache

ESTRUCTURA DE ARCHIVOS:
-----------------------
- Formato: JSON para datos crudos, CSV para datos procesados
- Codificación: UTF-8
- Coordenadas en sistema WGS84 (lat/lon)

========================================================
LOG DE DESCARGA COMPLETADO: %s
`, ts, strings.Join(ys, ", "), total, BaseURL, ts)
}
