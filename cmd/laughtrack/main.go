package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	laughtrack "github.com/snarg/laughtrack"
	"github.com/snarg/laughtrack/internal/api"
	"github.com/snarg/laughtrack/internal/classifier"
	"github.com/snarg/laughtrack/internal/clips"
	"github.com/snarg/laughtrack/internal/config"
	"github.com/snarg/laughtrack/internal/database"
	"github.com/snarg/laughtrack/internal/dedup"
	"github.com/snarg/laughtrack/internal/metrics"
	"github.com/snarg/laughtrack/internal/pipeline"
	"github.com/snarg/laughtrack/internal/secrets"
	"github.com/snarg/laughtrack/internal/storage"
	"github.com/snarg/laughtrack/internal/upstream"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var ov config.Overrides
	flag.StringVar(&ov.EnvFile, "env", "", "path to .env file")
	flag.StringVar(&ov.HTTPAddr, "addr", "", "http listen address (overrides HTTP_ADDR)")
	flag.StringVar(&ov.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&ov.DatabaseURL, "db-url", "", "database url (overrides DB_URL)")
	flag.StringVar(&ov.UploadDir, "upload-dir", "", "audio/clip root (overrides UPLOAD_DIR)")
	flag.Parse()

	// Config
	cfg, err := config.Load(ov)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.VerboseLogs && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("laughtrack starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.InitSchema(ctx, laughtrack.SchemaSQL); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize schema")
	}
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Credential encryption
	box, err := secrets.New(cfg.EncryptionKeyBytes())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize credential encryption")
	}

	layout := storage.NewLayout(cfg.UploadDir)

	// Optional S3 clip archival
	var s3 *storage.S3Store
	var archiver *storage.ClipArchiver
	if cfg.S3.Enabled() {
		s3, err = storage.NewS3Store(cfg.S3, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize s3 store")
		}
		if err := s3.HeadBucket(ctx); err != nil {
			log.Warn().Err(err).Str("bucket", cfg.S3.Bucket).Msg("s3 bucket not reachable, archival may fail")
		}
		archiver = storage.NewClipArchiver(s3, 256, log)
		archiver.Start(2)
		defer archiver.Stop()
	}

	// Classifier sidecar and decoder
	decoder := classifier.NewFFmpegDecoder(cfg.FFmpegPath)
	if err := decoder.CheckFFmpeg(); err != nil {
		log.Fatal().Err(err).Msg("ffmpeg is not runnable")
	}
	scorer := classifier.NewRemoteScorer(cfg.ClassifierURL, cfg.ClassifierTimeout, log)
	if err := scorer.EnsureLoaded(ctx); err != nil {
		// The sidecar may still be starting; runs will retry via Score.
		log.Warn().Err(err).Msg("classifier model not loaded yet")
	}

	reconciler := storage.NewReconciler(layout, db, log)

	// One upstream client per user run so idle connections are released
	// between users.
	upLog := log.With().Str("component", "upstream").Logger()
	newRunner := func(u *database.User) (*pipeline.Runner, func()) {
		client := upstream.NewClient(cfg.UpstreamBaseURL, upLog)
		r := &pipeline.Runner{
			Store:     db,
			Fetcher:   client,
			Decoder:   decoder,
			Scorer:    scorer,
			Writer:    clips.NewWriter(layout, cfg.ClipDuration),
			Deduper:   dedup.New(db, layout, log),
			Sweeper:   reconciler,
			Layout:    layout,
			Secrets:   box,
			Archiver:  archiver,
			Threshold: cfg.LaughterThreshold,
			ChunkSize: cfg.ChunkSize(),
			Log:       log,
		}
		return r, client.Close
	}

	fleet := pipeline.NewFleet(db, newRunner, scorer, log)
	prometheus.MustRegister(metrics.NewCollector(db.Pool, fleet))

	// Nightly schedule
	nightlyAt, err := config.ParseNightly(cfg.NightlyUTC)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid nightly schedule")
	}
	sched := pipeline.NewScheduler(nightlyAt, func(ctx context.Context) {
		if _, err := fleet.RunNightly(ctx, pipeline.Filter{}); err != nil {
			log.Error().Err(err).Msg("nightly fleet run finished with failures")
		}
	}, log)
	go sched.Run(ctx)

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	var archive api.ClipArchive
	if s3 != nil {
		archive = s3
	}
	srv := api.NewServer(cfg, db, box, layout, archive, newRunner, version, startTime, httpLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("laughtrack stopped")
}
