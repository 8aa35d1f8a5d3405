// Command pipeline is the operator CLI: run the fleet or a single user's
// pipeline from a shell or cron instead of the HTTP API.
//
//	pipeline run-nightly [--user id|email ...]
//	pipeline update-today --user id|email
//	pipeline reprocess --user id|email --from YYYY-MM-DD [--to YYYY-MM-DD]
//	pipeline reconcile --user id|email
//	pipeline counts
//
// Exit codes: 0 success, 1 some users failed, 2 fatal (config, database,
// arguments).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	laughtrack "github.com/snarg/laughtrack"
	"github.com/snarg/laughtrack/internal/classifier"
	"github.com/snarg/laughtrack/internal/clips"
	"github.com/snarg/laughtrack/internal/config"
	"github.com/snarg/laughtrack/internal/database"
	"github.com/snarg/laughtrack/internal/dedup"
	"github.com/snarg/laughtrack/internal/pipeline"
	"github.com/snarg/laughtrack/internal/secrets"
	"github.com/snarg/laughtrack/internal/storage"
	"github.com/snarg/laughtrack/internal/upstream"
)

func main() {
	os.Exit(run())
}

type app struct {
	cfg   *config.Config
	db    *database.DB
	fleet *pipeline.Fleet
	log   zerolog.Logger
}

func run() int {
	cmd := "counts"
	args := []string{}
	if len(os.Args) > 1 {
		cmd = os.Args[1]
		args = os.Args[2:]
	}

	cfg, err := config.Load(config.Overrides{EnvFile: os.Getenv("ENV_FILE")})
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 2
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Error().Err(err).Msg("database connect failed")
		return 2
	}
	defer db.Close()

	if cmd == "counts" {
		return tableCounts(ctx, db)
	}

	if err := db.InitSchema(ctx, laughtrack.SchemaSQL); err != nil {
		log.Error().Err(err).Msg("schema init failed")
		return 2
	}
	if err := db.Migrate(ctx); err != nil {
		log.Error().Err(err).Msg("migrations failed")
		return 2
	}

	a, cleanup, err := buildApp(ctx, cfg, db, log)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return 2
	}
	defer cleanup()

	switch cmd {
	case "run-nightly":
		return a.runNightly(ctx, args)
	case "update-today":
		return a.singleUser(ctx, cmd, args)
	case "reprocess":
		return a.reprocess(ctx, args)
	case "reconcile":
		return a.singleUser(ctx, cmd, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		return 2
	}
}

func buildApp(ctx context.Context, cfg *config.Config, db *database.DB, log zerolog.Logger) (*app, func(), error) {
	box, err := secrets.New(cfg.EncryptionKeyBytes())
	if err != nil {
		return nil, nil, fmt.Errorf("credential encryption: %w", err)
	}

	layout := storage.NewLayout(cfg.UploadDir)

	var archiver *storage.ClipArchiver
	cleanup := func() {}
	if cfg.S3.Enabled() {
		s3, err := storage.NewS3Store(cfg.S3, log)
		if err != nil {
			return nil, nil, fmt.Errorf("s3 store: %w", err)
		}
		archiver = storage.NewClipArchiver(s3, 256, log)
		archiver.Start(2)
		cleanup = archiver.Stop
	}

	decoder := classifier.NewFFmpegDecoder(cfg.FFmpegPath)
	if err := decoder.CheckFFmpeg(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("ffmpeg: %w", err)
	}
	scorer := classifier.NewRemoteScorer(cfg.ClassifierURL, cfg.ClassifierTimeout, log)
	if err := scorer.EnsureLoaded(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("classifier sidecar: %w", err)
	}

	reconciler := storage.NewReconciler(layout, db, log)
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
	return &app{cfg: cfg, db: db, fleet: fleet, log: log}, cleanup, nil
}

// userFlags is the repeated --user flag shared by the fleet commands.
type userFlags []string

func (u *userFlags) String() string     { return fmt.Sprint([]string(*u)) }
func (u *userFlags) Set(v string) error { *u = append(*u, v); return nil }

func splitFilter(users []string) pipeline.Filter {
	var f pipeline.Filter
	for _, u := range users {
		if strings.Contains(u, "@") {
			f.Emails = append(f.Emails, u)
		} else {
			f.IDs = append(f.IDs, u)
		}
	}
	return f
}

func (a *app) runNightly(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("run-nightly", flag.ExitOnError)
	var users userFlags
	fs.Var(&users, "user", "restrict to user id or email (repeatable)")
	fs.Parse(args)

	res, err := a.fleet.RunNightly(ctx, splitFilter(users))
	if err != nil {
		a.log.Error().Err(err).Int("succeeded", res.Succeeded).Int("failed", res.Failed).Msg("nightly run finished with failures")
		if res.Succeeded == 0 && res.Failed == 0 {
			return 2
		}
		return 1
	}
	a.log.Info().Int("succeeded", res.Succeeded).Msg("nightly run complete")
	return 0
}

func (a *app) singleUser(ctx context.Context, cmd string, args []string) int {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	user := fs.String("user", "", "user id or email (required)")
	fs.Parse(args)
	if *user == "" {
		fmt.Fprintf(os.Stderr, "%s requires --user\n", cmd)
		return 2
	}

	op := func(ctx context.Context, r *pipeline.Runner, u *database.User) error {
		if cmd == "reconcile" {
			stats, err := r.Reconcile(ctx, u)
			if err != nil {
				return err
			}
			a.log.Info().
				Int("scanned", stats.Scanned).
				Int("orphan_audio_removed", stats.OrphanAudioRemoved).
				Int("orphan_clips_removed", stats.OrphanClipsRemoved).
				Int("processed_audio_removed", stats.ProcessedAudioRemoved).
				Int("failures", stats.Failures).
				Msg("reconcile complete")
			return nil
		}
		return r.UpdateToday(ctx, u, pipeline.TriggerCron)
	}

	if _, err := a.fleet.Run(ctx, splitFilter([]string{*user}), op); err != nil {
		a.log.Error().Err(err).Msg(cmd + " failed")
		return 1
	}
	return 0
}

func (a *app) reprocess(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("reprocess", flag.ExitOnError)
	user := fs.String("user", "", "user id or email (required)")
	from := fs.String("from", "", "first local date, YYYY-MM-DD (required)")
	to := fs.String("to", "", "last local date, YYYY-MM-DD (defaults to --from)")
	fs.Parse(args)

	if *user == "" || *from == "" {
		fmt.Fprintln(os.Stderr, "reprocess requires --user and --from")
		return 2
	}
	if *to == "" {
		*to = *from
	}
	for _, d := range []string{*from, *to} {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			fmt.Fprintf(os.Stderr, "invalid date %q\n", d)
			return 2
		}
	}

	op := func(ctx context.Context, r *pipeline.Runner, u *database.User) error {
		return r.Reprocess(ctx, u, *from, *to)
	}
	if _, err := a.fleet.Run(ctx, splitFilter([]string{*user}), op); err != nil {
		a.log.Error().Err(err).Msg("reprocess failed")
		return 1
	}
	return 0
}

func tableCounts(ctx context.Context, db *database.DB) int {
	tables := []string{
		"users", "upstream_keys",
		"audio_segments", "laughter_detections", "processing_logs",
	}
	fmt.Println("Table                    Count")
	fmt.Println("─────────────────────────────────")
	for _, t := range tables {
		var count int64
		db.Pool.QueryRow(ctx, "SELECT count(*) FROM "+t).Scan(&count)
		fmt.Printf("%-25s %d\n", t, count)
	}
	return 0
}
