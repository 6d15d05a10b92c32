package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/lox/hmomobility/internal/atus"
	"github.com/lox/hmomobility/internal/baches"
	"github.com/lox/hmomobility/internal/clima"
	"github.com/lox/hmomobility/internal/colonias"
	"github.com/lox/hmomobility/internal/vialidades"
)

type InitCmd struct{}

func (c *InitCmd) Run(env *Env) error {
	if err := env.Paths.Init(); err != nil {
		return err
	}
	env.Logger.Info("data directories ready", "root", env.Paths.Root)
	return nil
}

type AtusCmd struct {
	Download AtusDownloadCmd `cmd:"" help:"Download the yearly ATUS archives."`
	Extract  AtusExtractCmd  `cmd:"" help:"Unzip archives and keep Hermosillo rows."`
	Clean    AtusCleanCmd    `cmd:"" help:"Merge, decode and write the clean ATUS table."`
}

type AtusDownloadCmd struct {
	Year []int `name:"year" help:"Years to download (default 2021-2023)."`
}

func (c *AtusDownloadCmd) Run(env *Env) error {
	p := atus.New(env.Paths, env.Store, env.Logger, env.Clock)
	p.Workers = env.Workers
	_, err := p.Download(env.Ctx, c.Year)
	return err
}

type AtusExtractCmd struct {
	Clean bool `name:"clean" help:"Remove raw archives after extraction."`
}

func (c *AtusExtractCmd) Run(env *Env) error {
	_, err := atus.New(env.Paths, env.Store, env.Logger, env.Clock).Extract(c.Clean)
	return err
}

type AtusCleanCmd struct {
	Input []string `arg:"" optional:"" type:"existingfile" help:"Interim CSVs (default: every file in interim/atus)."`
}

func (c *AtusCleanCmd) Run(env *Env) error {
	_, err := atus.New(env.Paths, env.Store, env.Logger, env.Clock).Clean(c.Input)
	return err
}

type ClimaCmd struct {
	Download ClimaDownloadCmd `cmd:"" help:"Download hourly weather for 2021-2023."`
	Clean    ClimaCleanCmd    `cmd:"" help:"Fill, rename and round the weather table."`
}

type ClimaDownloadCmd struct{}

func (c *ClimaDownloadCmd) Run(env *Env) error {
	_, err := clima.New(env.Paths, env.Store, env.Logger, env.Clock).Download(env.Ctx)
	return err
}

type ClimaCleanCmd struct{}

func (c *ClimaCleanCmd) Run(env *Env) error {
	_, err := clima.New(env.Paths, env.Store, env.Logger, env.Clock).Clean()
	return err
}

type ColoniasCmd struct {
	Download ColoniasDownloadCmd `cmd:"" help:"Download the national colonias archive."`
	Extract  ColoniasExtractCmd  `cmd:"" help:"Unzip the colonias archive."`
	Clean    ColoniasCleanCmd    `cmd:"" help:"Filter Hermosillo and write GeoPackage/GeoJSON."`
}

type ColoniasDownloadCmd struct{}

func (c *ColoniasDownloadCmd) Run(env *Env) error {
	_, err := colonias.New(env.Paths, env.Store, env.Logger, env.Clock).Download(env.Ctx)
	return err
}

type ColoniasExtractCmd struct {
	Clean bool `name:"clean" help:"Remove the archives after extraction."`
}

func (c *ColoniasExtractCmd) Run(env *Env) error {
	_, err := colonias.New(env.Paths, env.Store, env.Logger, env.Clock).Extract(c.Clean)
	return err
}

type ColoniasCleanCmd struct{}

func (c *ColoniasCleanCmd) Run(env *Env) error {
	_, _, err := colonias.New(env.Paths, env.Store, env.Logger, env.Clock).Clean()
	return err
}

type VialidadesCmd struct {
	Extract VialidadesExtractCmd `cmd:"" help:"Download the road network graph from OpenStreetMap."`
	Clean   VialidadesCleanCmd   `cmd:"" help:"Keep urban roads and translate attributes."`
}

type VialidadesExtractCmd struct {
	NetworkType string `name:"network-type" default:"drive" enum:"drive,drive_service" help:"OSMnx network type."`
}

func (c *VialidadesExtractCmd) Run(env *Env) error {
	_, _, err := vialidades.New(env.Paths, env.Store, env.Logger, env.Clock).Extract(env.Ctx, c.NetworkType)
	return err
}

type VialidadesCleanCmd struct{}

func (c *VialidadesCleanCmd) Run(env *Env) error {
	_, _, err := vialidades.New(env.Paths, env.Store, env.Logger, env.Clock).Clean()
	return err
}

type BachesCmd struct {
	Extract BachesExtractCmd `cmd:"" help:"Scrape yearly reports from the Bachómetro portal."`
	Clean   BachesCleanCmd   `cmd:"" help:"Drop descriptive fields and normalise dates."`
}

type BachesExtractCmd struct {
	Year      []int `name:"year" xor:"years" help:"Years to extract (default 2021-2025)."`
	Available bool  `name:"available" xor:"years" help:"Extract every year the portal offers."`
}

func (c *BachesExtractCmd) Run(env *Env) error {
	p := baches.New(env.Paths, env.Store, env.Logger, env.Clock)
	years := c.Year
	if c.Available {
		var err error
		if years, err = p.AvailableYears(env.Ctx); err != nil {
			return fmt.Errorf("list available years: %w", err)
		}
	}
	_, err := p.Extract(env.Ctx, years)
	return err
}

type BachesCleanCmd struct {
	Year []int `name:"year" help:"Years to clean (default 2021-2025)."`
}

func (c *BachesCleanCmd) Run(env *Env) error {
	_, err := baches.New(env.Paths, env.Store, env.Logger, env.Clock).Clean(c.Year)
	return err
}

type StatusCmd struct {
	Days      int   `name:"days" default:"7" help:"Days of ingest history to summarise."`
	Errors    int   `name:"errors" default:"10" help:"Recent failed runs to list."`
	PruneDays int   `name:"prune-days" help:"Delete cached responses older than this many days."`
	Payload   int64 `name:"payload" help:"Print the cached response with this id and exit."`
}

func (c *StatusCmd) Run(env *Env) error {
	if env.Store == nil {
		return fmt.Errorf("status needs the run database (--db)")
	}
	out := env.Out
	if out == nil {
		out = os.Stdout
	}

	if c.Payload > 0 {
		body, err := env.Store.GetRawPayload(c.Payload)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("no cached response with id %d", c.Payload)
		}
		if err != nil {
			return fmt.Errorf("cached response %d: %w", c.Payload, err)
		}
		_, err = out.Write(body)
		return err
	}

	version, err := env.Store.MigrationVersion()
	if err != nil {
		return fmt.Errorf("schema version: %w", err)
	}
	fmt.Fprintf(out, "schema version: %d\n\n", version)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	health, err := env.Store.GetIngestHealth(c.Days)
	if err != nil {
		return fmt.Errorf("ingest health: %w", err)
	}
	fmt.Fprintf(w, "DATE\tSOURCE\tENDPOINT\tRUNS\tOK\tFAILED\tRECORDS\n")
	for _, h := range health {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n", h.Date, h.Source, h.Endpoint, h.TotalRuns, h.SuccessRuns, h.FailedRuns, h.TotalRecords)
	}
	w.Flush()

	failures, err := env.Store.GetRecentIngestErrors(c.Errors)
	if err != nil {
		return fmt.Errorf("recent errors: %w", err)
	}
	if len(failures) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintf(w, "STARTED\tSOURCE\tENDPOINT\tERROR\n")
		for _, r := range failures {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.StartedAt.Format("2006-01-02 15:04"), r.Source, r.Endpoint, r.ErrorMessage.String)
		}
		w.Flush()
	}

	stats, err := env.Store.GetRawPayloadStats()
	if err != nil {
		return fmt.Errorf("payload stats: %w", err)
	}
	fmt.Fprintf(out, "\ncached responses: %d (%d bytes compressed)\n", stats.TotalCount, stats.TotalSizeBytes)

	if c.PruneDays > 0 {
		n, err := env.Store.CleanupOldRawPayloads(c.PruneDays)
		if err != nil {
			return fmt.Errorf("prune cache: %w", err)
		}
		env.Logger.Info("pruned cached responses", "deleted", n, "older_than_days", c.PruneDays)
	}
	return nil
}
