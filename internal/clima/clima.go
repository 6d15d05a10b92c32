// Package clima downloads Hermosillo's hourly weather history from Open-Meteo
// and cleans it for analysis.
package clima

import (
	"context"
	"fmt"
	"log/slog"
	"math"
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
	Dataset = "clima"

	StartDate = "2021-01-01"
	EndDate   = "2023-12-31"

	rawName   = "clima_hermosillo.csv"
	docName   = "info_descargas_clima.txt"
	cleanName = "clima_final_processed.csv"

	dateLayout = "2006-01-02 15:04:05-07:00"
)

// Variables are the hourly series requested, in column order.
var Variables = []string{
	"temperature_2m",
	"precipitation",
	"weather_code",
	"is_day",
	"relative_humidity_2m",
	"cloud_cover",
	"wind_speed_10m",
}

// Renames maps API variable names to the Spanish output columns.
var Renames = map[string]string{
	"temperature_2m":       "temperatura",
	"precipitation":        "precipitacion",
	"weather_code":         "codigo_clima",
	"is_day":               "es_de_dia",
	"relative_humidity_2m": "humedad",
	"cloud_cover":          "nubosidad",
	"wind_speed_10m":       "velocidad_viento",
}

// Rounded are the cleaned columns rounded to one decimal.
var Rounded = []string{"temperatura", "precipitacion", "humedad", "nubosidad", "velocidad_viento"}

// DefaultRequest is the 2021–2023 hourly query for Hermosillo.
func DefaultRequest() Request {
	return Request{
		Latitude:  config.Latitude,
		Longitude: config.Longitude,
		StartDate: StartDate,
		EndDate:   EndDate,
		Hourly:    Variables,
	}
}

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

func (p *Pipeline) RawPath() string   { return filepath.Join(p.paths.Raw, rawName) }
func (p *Pipeline) DocPath() string   { return filepath.Join(p.paths.Raw, docName) }
func (p *Pipeline) CleanPath() string { return filepath.Join(p.paths.Processed, cleanName) }

// Download fetches the hourly series, writes the raw CSV and the source
// documentation.
func (p *Pipeline) Download(ctx context.Context) (string, error) {
	stop := metrics.StartStage(p.clock, Dataset, "download")
	p.logger.Info("connecting to Open-Meteo archive API")

	req := DefaultRequest()
	hourly, err := p.client.Fetch(ctx, req)
	if err != nil {
		return "", fmt.Errorf("download weather: %w", err)
	}
	p.logger.Info("weather records downloaded", "records", len(hourly.Time))

	t := HourlyTable(hourly)
	if _, err := p.paths.Dir(p.paths.Raw); err != nil {
		return "", err
	}
	if err := t.WriteCSVFile(p.RawPath()); err != nil {
		return "", err
	}
	metrics.RecordsWritten.WithLabelValues(Dataset, "download").Add(float64(t.Len()))
	p.logger.Info("raw data saved", "file", p.paths.Rel(p.RawPath()))

	if err := os.WriteFile(p.DocPath(), []byte(Documentation(req, p.clock.Now())), 0644); err != nil {
		return "", fmt.Errorf("write documentation: %w", err)
	}
	p.logger.Info("documentation written", "file", p.paths.Rel(p.DocPath()))
	p.logger.Info("download finished", "elapsed_s", fmt.Sprintf("%.2f", stop().Seconds()))
	return p.RawPath(), nil
}

// HourlyTable lays the series out as date plus one column per variable.
// Missing values are empty cells.
func HourlyTable(h *Hourly) *table.Table {
	t := table.New(append([]string{"date"}, h.Variables...)...)
	for i, ts := range h.Time {
		row := make([]string, 0, len(t.Columns))
		row = append(row, ts.UTC().Format(dateLayout))
		for _, v := range h.Variables {
			row = append(row, formatValue(h.Values[v][i]))
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func formatValue(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// Clean forward-fills gaps, renames the columns to Spanish and rounds the
// continuous variables. A missing raw file is an error and writes nothing.
func (p *Pipeline) Clean() (string, error) {
	stop := metrics.StartStage(p.clock, Dataset, "clean")

	t, err := table.ReadCSVFile(p.RawPath(), nil)
	if err != nil {
		p.logger.Error("raw weather file not readable; run `clima download` first", "file", p.paths.Rel(p.RawPath()), "error", err)
		return "", fmt.Errorf("load raw weather: %w", err)
	}
	if t.Len() == 0 {
		return "", fmt.Errorf("raw weather file %s is empty", p.paths.Rel(p.RawPath()))
	}
	p.logger.Info("dataset loaded", "rows", t.Len(), "columns", len(t.Columns))

	filled, err := CleanTable(t)
	if err != nil {
		return "", err
	}
	if filled > 0 {
		p.logger.Warn("null values found, forward-filled", "cells", filled)
	}
	report := QualityReport(t)
	for _, f := range flagNames(report) {
		p.logger.Warn("suspicious values", "flag", f, "rows", report[f])
		metrics.QualityFlags.WithLabelValues(Dataset, f).Add(float64(report[f]))
	}

	if _, err := p.paths.Dir(p.paths.Processed); err != nil {
		return "", err
	}
	if err := t.WriteCSVFile(p.CleanPath()); err != nil {
		return "", err
	}
	metrics.RecordsWritten.WithLabelValues(Dataset, "clean").Add(float64(t.Len()))
	p.logger.Info("processed data saved", "file", p.paths.Rel(p.CleanPath()), "elapsed_s", fmt.Sprintf("%.2f", stop().Seconds()))
	return p.CleanPath(), nil
}

// CleanTable applies the weather cleaning steps in place and returns how many
// cells were forward-filled.
func CleanTable(t *table.Table) (int, error) {
	if !t.Has("date") {
		return 0, fmt.Errorf("missing date column")
	}
	var bad error
	t.Apply("date", func(s string) string {
		ts, err := parseDate(s)
		if err != nil {
			if bad == nil {
				bad = err
			}
			return s
		}
		return ts.Format(dateLayout)
	})
	if bad != nil {
		return 0, bad
	}

	var cols []string
	for _, c := range t.Columns {
		if c != "date" {
			cols = append(cols, c)
		}
	}
	filled := ForwardFill(t, cols...)

	t.Rename(Renames)
	for _, col := range Rounded {
		t.Apply(col, round1)
	}
	return filled, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{dateLayout, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse date %q", s)
}

// ForwardFill replaces null cells with the last non-null value above them.
// Leading nulls stay empty. Returns the number of null cells found.
func ForwardFill(t *table.Table, cols ...string) int {
	nulls := 0
	for _, col := range cols {
		i := t.Index(col)
		if i < 0 {
			continue
		}
		last := ""
		for _, row := range t.Rows {
			if isNull(row[i]) {
				nulls++
				row[i] = last
				continue
			}
			last = row[i]
		}
	}
	return nulls
}

func isNull(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nan", "null", "none":
		return true
	}
	return false
}

func round1(s string) string {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return s
	}
	return strconv.FormatFloat(math.RoundToEven(v*10)/10, 'f', 1, 64)
}
