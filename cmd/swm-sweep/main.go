// Command swm-sweep runs a single offline sweep pass and exits. Nothing
// in the worker schedules this automatically — an external cron job or
// orchestrator is expected to invoke it periodically.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/hakimfrh/swm-worker/internal/config"
	"github.com/hakimfrh/swm-worker/internal/datastore"
	"github.com/rs/zerolog"
)

func main() {
	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := datastore.Connect(ctx, cfg.DatabaseURL(), log.With().Str("component", "datastore").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	n, err := db.SweepOffline(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("offline sweep failed")
	}
	log.Info().Int64("swept_offline", n).Msg("offline sweep completed")
}
