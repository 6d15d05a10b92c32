package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/jonboulle/clockwork"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/lox/hmomobility/internal/config"
	"github.com/lox/hmomobility/internal/logging"
	"github.com/lox/hmomobility/internal/metrics"
	"github.com/lox/hmomobility/internal/store"
)

// Globals are shared by every command.
type Globals struct {
	EnvFile     kongdotenv.ENVFileConfig `kong:"optional,name='env-file',default='.env',help='Path to .env file.'"`
	DataDir     string                   `name:"data-dir" env:"HMO_DATA_DIR" default:"data" help:"Data directory (raw/, interim/, processed/)."`
	LogLevel    string                   `name:"log-level" env:"HMO_LOG_LEVEL" default:"info" enum:"debug,info,warn,error" help:"Log level."`
	LogFormat   string                   `name:"log-format" env:"HMO_LOG_FORMAT" default:"text" enum:"text,json" help:"Log format."`
	DB          string                   `name:"db" env:"HMO_DB" help:"SQLite database for run auditing and response cache (default <data-dir>/hmomobility.db)."`
	NoDB        bool                     `name:"no-db" env:"HMO_NO_DB" help:"Run without the database: no auditing, no response cache."`
	MetricsFile string                   `name:"metrics-file" env:"HMO_METRICS_FILE" help:"Write Prometheus metrics to this file on exit."`
	Workers     int                      `name:"workers" env:"HMO_WORKERS" default:"3" help:"Parallel ATUS downloads."`
}

// DBPath resolves the run database location; "" means disabled.
func (g Globals) DBPath() string {
	switch {
	case g.NoDB:
		return ""
	case g.DB != "":
		return g.DB
	}
	return filepath.Join(g.DataDir, "hmomobility.db")
}

// Env is what commands run against.
type Env struct {
	Ctx     context.Context
	Paths   config.Paths
	Store   *store.Store
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Workers int
	Out     io.Writer
}

type CLI struct {
	Globals

	Init       InitCmd       `cmd:"" help:"Create the data directory layout."`
	Atus       AtusCmd       `cmd:"" help:"INEGI traffic accidents (ATUS)."`
	Clima      ClimaCmd      `cmd:"" help:"Hourly weather from Open-Meteo."`
	Colonias   ColoniasCmd   `cmd:"" help:"INEGI neighbourhood boundaries."`
	Vialidades VialidadesCmd `cmd:"" help:"OpenStreetMap road network."`
	Baches     BachesCmd     `cmd:"" help:"Bachómetro pothole reports."`
	Status     StatusCmd     `cmd:"" help:"Show ingest health from the run database."`
}

func main() {
	os.Exit(run())
}

func run() int {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("hmomobility"),
		kong.Description("Data acquisition and cleaning for Hermosillo urban mobility analysis."),
		kong.UsageOnError(),
	)

	logger := logging.New(cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	env := &Env{
		Ctx:     ctx,
		Paths:   config.NewPaths(cli.DataDir),
		Logger:  logger,
		Clock:   clockwork.NewRealClock(),
		Workers: cli.Workers,
		Out:     os.Stdout,
	}

	if dbPath := cli.DBPath(); dbPath != "" {
		st, err := store.Open(dbPath, logger)
		if err != nil {
			logger.Error("open database", "path", dbPath, "error", err)
			return 1
		}
		defer st.Close()
		env.Store = st
	}

	err := kctx.Run(env)

	if cli.MetricsFile != "" {
		if merr := metrics.WriteTextfile(cli.MetricsFile); merr != nil {
			logger.Warn("metrics not written", "error", merr)
		}
	}
	if err != nil {
		logger.Error(fmt.Sprintf("%s failed", kctx.Command()), "error", err)
		return 1
	}
	return 0
}
