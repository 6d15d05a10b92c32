// Package atus downloads, filters and cleans INEGI's traffic accident
// records (Accidentes de Tránsito Terrestre en Zonas Urbanas y Suburbanas)
// for Hermosillo.
package atus

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/lox/hmomobility/internal/archive"
	"github.com/lox/hmomobility/internal/config"
	"github.com/lox/hmomobility/internal/logging"
	"github.com/lox/hmomobility/internal/metrics"
	"github.com/lox/hmomobility/internal/store"
	"github.com/lox/hmomobility/internal/table"
)

const (
	Dataset = "atus"

	urlTemplate = "https://www.inegi.org.mx/contenidos/programas/accidentes/datosabiertos/atus_%d_shp.zip"
	cleanName   = "atus_2021-2023_clean.csv"
)

var DefaultYears = []int{2021, 2022, 2023}

// URL returns the INEGI open-data archive for a year.
func URL(year int) string {
	return fmt.Sprintf(urlTemplate, year)
}

// Pipeline runs the three ATUS stages against a data directory.
type Pipeline struct {
	paths  config.Paths
	store  *store.Store
	logger *slog.Logger
	clock  clockwork.Clock

	Workers  int
	Progress io.Writer
	// URLFor maps a year to its archive URL.
	URLFor func(year int) string
}

func New(paths config.Paths, st *store.Store, logger *slog.Logger, clock clockwork.Clock) *Pipeline {
	return &Pipeline{
		paths:    paths,
		store:    st,
		logger:   logging.For(logger, Dataset),
		clock:    clock,
		Workers:  archive.DefaultWorkers,
		Progress: os.Stderr,
		URLFor:   URL,
	}
}

func (p *Pipeline) RawDir() string     { return filepath.Join(p.paths.Raw, Dataset) }
func (p *Pipeline) InterimDir() string { return filepath.Join(p.paths.Interim, Dataset) }
func (p *Pipeline) CleanPath() string  { return filepath.Join(p.paths.Processed, cleanName) }

// Download fetches the yearly archives in parallel into raw/atus. Failed years
// are logged and omitted from the result.
func (p *Pipeline) Download(ctx context.Context, years []int) ([]string, error) {
	if len(years) == 0 {
		years = DefaultYears
	}
	stop := metrics.StartStage(p.clock, Dataset, "download")
	p.logger.Info("starting download", "years", years)

	dir, err := p.paths.Dir(p.RawDir())
	if err != nil {
		return nil, err
	}

	urls := make([]string, len(years))
	for i, y := range years {
		urls[i] = p.URLFor(y)
	}

	d := archive.NewDownloader(Dataset, p.store, p.logger)
	d.Progress = p.Progress
	results := d.DownloadAll(ctx, urls, dir, p.Workers)

	var paths []string
	for _, r := range results {
		if r == "" {
			continue
		}
		paths = append(paths, r)
		p.logger.Info("downloaded", "file", p.paths.Rel(r))
	}
	p.logger.Info("download finished", "files", len(paths), "elapsed_s", fmt.Sprintf("%.2f", stop().Seconds()))
	if len(paths) == 0 {
		return nil, fmt.Errorf("no ATUS archive could be downloaded")
	}
	return paths, nil
}

// Extract unzips every archive in raw/atus and writes the Hermosillo rows of
// each data CSV to interim/atus/<stem>_HMO.csv. With removeRaw the raw
// directory is deleted afterwards.
func (p *Pipeline) Extract(removeRaw bool) ([]string, error) {
	stop := metrics.StartStage(p.clock, Dataset, "extract")
	p.logger.Info("starting extraction")

	zips, err := archive.ZipPaths(p.RawDir())
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	extracted := archive.ExtractAll(zips, "", p.logger)

	outDir, err := p.paths.Dir(p.InterimDir())
	if err != nil {
		return nil, err
	}

	var outputs []string
	for _, dir := range extracted {
		csvs, err := archive.FindFiles(dir, ".csv")
		if err != nil {
			p.logger.Error("list csv files", "dir", p.paths.Rel(dir), "error", err)
			continue
		}
		for _, csvPath := range csvs {
			out, err := p.filterFile(csvPath, outDir)
			if err != nil {
				p.logger.Warn("csv skipped", "file", p.paths.Rel(csvPath), "error", err)
				metrics.ItemsSkipped.WithLabelValues(Dataset, "extract").Inc()
				continue
			}
			p.logger.Info("csv filtered", "file", p.paths.Rel(csvPath), "output", p.paths.Rel(out))
			outputs = append(outputs, out)
		}
	}

	p.logger.Info("extraction finished", "files", len(outputs), "elapsed_s", fmt.Sprintf("%.2f", stop().Seconds()))

	if removeRaw {
		if err := os.RemoveAll(p.RawDir()); err != nil {
			return outputs, fmt.Errorf("remove %s: %w", p.RawDir(), err)
		}
		p.logger.Info("raw directory removed", "dir", p.paths.Rel(p.RawDir()))
	}
	return outputs, nil
}

func (p *Pipeline) filterFile(csvPath, outDir string) (string, error) {
	t, err := table.ReadCSVFile(csvPath, table.Latin1)
	if err != nil {
		return "", err
	}
	if err := FilterHermosillo(t); err != nil {
		return "", err
	}
	out := filepath.Join(outDir, archive.Stem(csvPath)+"_HMO.csv")
	if err := t.WriteCSVFile(out); err != nil {
		return "", err
	}
	metrics.RecordsWritten.WithLabelValues(Dataset, "extract").Add(float64(t.Len()))
	return out, nil
}

// FilterHermosillo keeps the rows with EDO 26 and MPIO 30. Tables without
// those columns (the data dictionaries shipped in the same archive) are
// rejected.
func FilterHermosillo(t *table.Table) error {
	if !t.Has("EDO", "MPIO") {
		return fmt.Errorf("missing EDO/MPIO columns")
	}
	t.Filter(func(r table.Row) bool {
		edo, ok1 := code(r.Get("EDO"))
		mpio, ok2 := code(r.Get("MPIO"))
		return ok1 && ok2 && edo == config.StateKey && mpio == config.MunicipalityKey
	})
	return nil
}

// Clean merges the interim CSVs (or the given paths) into the processed
// accident table.
func (p *Pipeline) Clean(csvPaths []string) (string, error) {
	stop := metrics.StartStage(p.clock, Dataset, "clean")
	p.logger.Info("starting clean")

	if len(csvPaths) == 0 {
		p.logger.Info("no input files given, loading interim directory", "dir", p.paths.Rel(p.InterimDir()))
		var err error
		csvPaths, err = archive.FindFiles(p.InterimDir(), ".csv")
		if err != nil {
			return "", fmt.Errorf("list interim files: %w", err)
		}
	}
	if len(csvPaths) == 0 {
		return "", fmt.Errorf("no interim ATUS files in %s", p.paths.Rel(p.InterimDir()))
	}

	var tables []*table.Table
	for _, path := range csvPaths {
		t, err := table.ReadCSVFile(path, nil)
		if err != nil {
			p.logger.Error("read failed", "file", p.paths.Rel(path), "error", err)
			metrics.ItemsSkipped.WithLabelValues(Dataset, "clean").Inc()
			continue
		}
		tables = append(tables, t)
	}
	if len(tables) == 0 {
		return "", fmt.Errorf("no readable ATUS files")
	}

	t := table.Concat(tables...)
	CleanTable(t)

	if _, err := p.paths.Dir(p.paths.Processed); err != nil {
		return "", err
	}
	out := p.CleanPath()
	if err := t.WriteCSVFile(out); err != nil {
		return "", err
	}
	metrics.RecordsWritten.WithLabelValues(Dataset, "clean").Add(float64(t.Len()))

	p.logger.Info("clean file written", "file", p.paths.Rel(out), "rows", t.Len())
	p.logger.Info("clean finished", "elapsed_s", fmt.Sprintf("%.2f", stop().Seconds()))
	return out, nil
}

// CleanTable normalises a merged ATUS table in place: lower-case headers,
// drop the geographic keys, build datetime, lower-case text and decode the
// categorical columns.
func CleanTable(t *table.Table) {
	t.LowerColumns()
	t.Drop("edo", "mpio")
	t.AddColumn("datetime", func(r table.Row) string {
		return Datetime(r.Get("anio"), r.Get("mes"), r.Get("dia"), r.Get("hora"), r.Get("minutos"))
	})
	t.LowerValues()
	DecodeAll(t)
}

// code parses an integer category, accepting "3" and "3.0".
func code(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}
