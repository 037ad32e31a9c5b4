package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hakimfrh/swm-worker/internal/archive"
	"github.com/hakimfrh/swm-worker/internal/buffer"
	"github.com/hakimfrh/swm-worker/internal/config"
	"github.com/hakimfrh/swm-worker/internal/datastore"
	"github.com/hakimfrh/swm-worker/internal/metrics"
	"github.com/hakimfrh/swm-worker/internal/mqttclient"
	"github.com/hakimfrh/swm-worker/internal/opsapi"
	"github.com/hakimfrh/swm-worker/internal/pipeline"
	"github.com/hakimfrh/swm-worker/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// version, commit, and buildTime are injected at build time via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	var overrides config.Overrides
	var showVersion bool
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.MQTTBroker, "mqtt-broker", "", "MQTT broker URL (overrides MQTT_BROKER)")
	flag.StringVar(&overrides.BufferDir, "buffer-dir", "", "Per-device buffer directory (overrides BUFFER_DIR)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s, built=%s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	startTime := time.Now()

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
	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", buildTime).
		Str("log_level", level.String()).
		Str("topic_mode", cfg.MQTTTopicMode).
		Str("balance_mode", cfg.BalanceDecreaseMode).
		Msg("swm-worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbLog := log.With().Str("component", "datastore").Logger()
	db, err := datastore.Connect(ctx, cfg.DatabaseURL(), dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema initialization failed")
	}
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed (create the indexes manually or run as the tables' owner)")
	}

	bufLog := log.With().Str("component", "buffer").Logger()
	buf, err := buffer.New(cfg.BufferDir, bufLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open buffer directory")
	}

	balanceMode := pipeline.BalanceModeMinute
	if cfg.BalanceDecreaseMode == "hour" {
		balanceMode = pipeline.BalanceModeHour
	}
	topicMode := worker.TopicModePrefixed
	if cfg.MQTTTopicMode == "simple" {
		topicMode = worker.TopicModeSimple
	}

	w := worker.New(db, buf, topicMode, balanceMode, log)
	prometheus.MustRegister(metrics.NewCollector(db.Pool, w))

	// Recovery: drain anything left on disk from a previous crash before
	// live MQTT traffic starts flowing through the same pipelines.
	recoveryLog := log.With().Str("component", "recovery").Logger()
	recovery := pipeline.NewRecovery(buf, w, recoveryLog)
	if err := recovery.Run(); err != nil {
		log.Error().Err(err).Msg("startup recovery pass failed")
	}

	mqttLog := log.With().Str("component", "mqtt").Logger()
	mqttClient, err := mqttclient.Connect(mqttclient.Options{
		BrokerURL: cfg.MQTTBroker,
		ClientID:  cfg.MQTTClientID,
		Topic:     cfg.MQTTTopicWildcard,
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
		Log:       mqttLog,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
	}
	defer mqttClient.Close()
	mqttClient.SetMessageHandler(w.MessageHandler())
	log.Info().Str("broker", cfg.MQTTBroker).Str("topic", cfg.MQTTTopicWildcard).Msg("mqtt connected")

	// Optional directory watcher: catches buffer appends that happen
	// outside the live ingest path (e.g. a manually restored file).
	var watcher *buffer.Watcher
	if cfg.BufferWatch {
		watcher = buffer.NewWatcher(buf, w, cfg.BufferDir, log.With().Str("component", "buffer-watcher").Logger())
		if err := watcher.Start(ctx); err != nil {
			log.Error().Err(err).Msg("failed to start buffer watcher")
			watcher = nil
		}
	}

	// Optional S3 archive of quarantined bad-line files.
	var uploader *archive.AsyncUploader
	if cfg.ArchiveBucket != "" {
		archiveLog := log.With().Str("component", "archive").Logger()
		store, err := archive.NewStore(ctx, archive.Config{
			Bucket: cfg.ArchiveBucket,
			Region: cfg.ArchiveRegion,
		}, archiveLog)
		if err != nil {
			log.Error().Err(err).Msg("failed to initialize archive store, bad-line archiving disabled")
		} else {
			uploader = archive.NewAsyncUploader(store, 500, archiveLog)
			uploader.Start(2)
			buf.SetArchiver(uploader)
			log.Info().Str("bucket", cfg.ArchiveBucket).Msg("archive uploader started")
		}
	}

	opsRouter := opsapi.NewRouter(db, mqttClient, opsapi.Config{
		AdminToken: cfg.OpsAdminToken,
		AdminRPS:   cfg.SweepRatePerMin / 60,
		AdminBurst: 5,
		StartTime:  startTime,
	}, log.With().Str("component", "opsapi").Logger())

	opsSrv := &http.Server{
		Addr:    cfg.OpsHTTPAddr,
		Handler: opsRouter,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	log.Info().
		Str("ops_addr", cfg.OpsHTTPAddr).
		Dur("startup_ms", time.Since(startTime)).
		Msg("swm-worker ready")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("ops http server error")
		}
	}

	if watcher != nil {
		watcher.Stop()
	}
	if uploader != nil {
		uploader.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := opsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("ops http server shutdown error")
	}

	log.Info().Msg("swm-worker stopped")
}
