package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/laughtrack/internal/classifier"
	"github.com/snarg/laughtrack/internal/clips"
	"github.com/snarg/laughtrack/internal/database"
	"github.com/snarg/laughtrack/internal/dedup"
	"github.com/snarg/laughtrack/internal/metrics"
	"github.com/snarg/laughtrack/internal/secrets"
	"github.com/snarg/laughtrack/internal/storage"
	"github.com/snarg/laughtrack/internal/upstream"
)

// reconcileWindow bounds the pre/post-flight orphan sweeps to recent
// files; old files are handled by explicit `reconcile` runs.
const reconcileWindow = 48 * time.Hour

// Store is the database surface the runner drives.
type Store interface {
	AlreadyOverlapsProcessed(ctx context.Context, userID string, start, end time.Time) (bool, error)
	InsertSegment(ctx context.Context, s *database.SegmentRow) (int64, error)
	MarkSegmentProcessed(ctx context.Context, id int64) error
	LatestSegmentEnd(ctx context.Context, userID, dateLocal string) (time.Time, bool, error)
	ListSegmentPathsInRange(ctx context.Context, userID, fromDate, toDate string) ([]string, error)
	DeleteSegmentsInRange(ctx context.Context, userID, fromDate, toDate string) (int64, error)
	ListDetectionClipPathsInRange(ctx context.Context, userID, timezone, fromDate, toDate string) ([]string, error)
	DeleteDetectionsInRange(ctx context.Context, userID, timezone, fromDate, toDate string) (int64, error)
	GetActiveCredential(ctx context.Context, userID string) (string, error)
	UpsertProcessingLog(ctx context.Context, l *database.ProcessingLogRow) error
}

// Fetcher downloads one window of pendant audio.
type Fetcher interface {
	Fetch(ctx context.Context, apiKey string, start, end time.Time) (upstream.FetchResult, upstream.APICall)
}

// Sweeper reconciles one user's on-disk files against the database.
type Sweeper interface {
	Sweep(ctx context.Context, userID string, exclude storage.ExclusionSet, window time.Duration) (storage.SweepStats, error)
}

// Runner processes one user's audio for one run. It is created per user
// and dropped afterwards; the fetcher's sockets go with it.
type Runner struct {
	Store     Store
	Fetcher   Fetcher
	Decoder   classifier.Decoder
	Scorer    classifier.Scorer
	Writer    *clips.Writer
	Deduper   *dedup.Deduper
	Sweeper   Sweeper
	Layout    storage.Layout
	Secrets   *secrets.Box
	Archiver  *storage.ClipArchiver // optional S3 archival
	Threshold float64
	ChunkSize time.Duration
	Log       zerolog.Logger

	// Now is overridable for tests; nil means time.Now.
	Now func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) location(user *database.User) *time.Location {
	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		r.Log.Warn().Str("user_id", user.ID).Str("timezone", user.Timezone).
			Msg("unknown timezone, falling back to UTC")
		return time.UTC
	}
	return loc
}

// UpdateToday tops up the current local day. The resume point is the
// later of local midnight and the newest segment end for today, capped
// at now so a skewed future segment cannot rewind the clock.
func (r *Runner) UpdateToday(ctx context.Context, user *database.User, trigger string) error {
	loc := r.location(user)
	now := r.now().UTC()
	dateLocal := LocalDate(now, loc)

	start, _, err := DayWindow(dateLocal, loc)
	if err != nil {
		return err
	}
	latest, ok, err := r.Store.LatestSegmentEnd(ctx, user.ID, dateLocal)
	if err != nil {
		return fmt.Errorf("resume point: %w", err)
	}
	if ok && latest.After(start) {
		start = latest
	}
	if start.After(now) {
		start = now
	}
	return r.processWindow(ctx, user, dateLocal, start, now, trigger)
}

// Nightly processes the user's previous local day in full.
func (r *Runner) Nightly(ctx context.Context, user *database.User) error {
	loc := r.location(user)
	yesterday := r.now().In(loc).AddDate(0, 0, -1).Format(dateFormat)

	start, end, err := DayWindow(yesterday, loc)
	if err != nil {
		return err
	}
	return r.processWindow(ctx, user, yesterday, start, end, TriggerScheduled)
}

// Reprocess wipes and rebuilds the local-date range, one day per run log.
// Files are deleted before rows so the paths can still be read from the
// database; then each day runs as if fresh.
func (r *Runner) Reprocess(ctx context.Context, user *database.User, fromDate, toDate string) error {
	loc := r.location(user)
	dates, err := DateRange(fromDate, toDate)
	if err != nil {
		return err
	}

	var errs []error
	for _, date := range dates {
		if err := r.clearDay(ctx, user, date); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", date, err))
			continue
		}

		start, end, err := DayWindow(date, loc)
		if err != nil {
			return err
		}
		now := r.now().UTC()
		if end.After(now) {
			end = now
		}
		if start.After(now) {
			continue // future day, nothing to fetch
		}
		if err := r.processWindow(ctx, user, date, start, end, TriggerManual); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", date, err))
		}
	}
	return errors.Join(errs...)
}

// clearDay removes one local day's files first, then its rows.
func (r *Runner) clearDay(ctx context.Context, user *database.User, date string) error {
	clipPaths, err := r.Store.ListDetectionClipPathsInRange(ctx, user.ID, user.Timezone, date, date)
	if err != nil {
		return fmt.Errorf("list clip paths: %w", err)
	}
	segPaths, err := r.Store.ListSegmentPathsInRange(ctx, user.ID, date, date)
	if err != nil {
		return fmt.Errorf("list segment paths: %w", err)
	}
	for _, p := range append(clipPaths, segPaths...) {
		if err := os.Remove(r.Layout.Resolve(p)); err != nil && !os.IsNotExist(err) {
			r.Log.Warn().Err(err).Str("path", p).Msg("failed to delete file for reprocess")
		}
	}

	if _, err := r.Store.DeleteDetectionsInRange(ctx, user.ID, user.Timezone, date, date); err != nil {
		return fmt.Errorf("delete detections: %w", err)
	}
	if _, err := r.Store.DeleteSegmentsInRange(ctx, user.ID, date, date); err != nil {
		return fmt.Errorf("delete segments: %w", err)
	}
	return nil
}

// Reconcile runs a full orphan sweep for the user, no time window.
func (r *Runner) Reconcile(ctx context.Context, user *database.User) (storage.SweepStats, error) {
	return r.Sweeper.Sweep(ctx, user.ID, storage.NewExclusionSet(), 0)
}

// processWindow is the outermost error boundary for one (user, day) run.
// It always persists a processing log and always runs the post-flight
// sweep, whatever happened in between.
func (r *Runner) processWindow(ctx context.Context, user *database.User, dateLocal string, start, end time.Time, trigger string) error {
	log := r.Log.With().Str("user_id", user.ID).Str("date_local", dateLocal).Logger()
	run := NewRunLog(user.ID, dateLocal, trigger)
	excl := storage.NewExclusionSet()

	// Pre-flight: clear recent crash debris before writing anything new.
	if _, err := r.Sweeper.Sweep(ctx, user.ID, storage.NewExclusionSet(), reconcileWindow); err != nil {
		log.Warn().Err(err).Msg("pre-flight reconcile failed")
	}

	runErr := r.runChunks(ctx, user, run, excl, start, end)

	if _, err := r.Sweeper.Sweep(ctx, user.ID, excl, reconcileWindow); err != nil {
		log.Warn().Err(err).Msg("post-flight reconcile failed")
	}

	status := StatusCompleted
	if runErr != nil {
		status = StatusFailed
	}
	metrics.RunsTotal.WithLabelValues(status).Inc()
	if err := r.Store.UpsertProcessingLog(ctx, run.Row(status)); err != nil {
		log.Error().Err(err).Msg("failed to persist processing log")
		if runErr == nil {
			runErr = fmt.Errorf("persist processing log: %w", err)
		}
	}

	log.Info().
		Str("status", status).
		Int("files_downloaded", run.FilesDownloaded).
		Int("events_found", run.EventsFound).
		Int("inserted", run.Inserted).
		Int("duplicates_skipped", run.DuplicatesSkipped()).
		Msg("run finished")
	return runErr
}

func (r *Runner) runChunks(ctx context.Context, user *database.User, run *RunLog, excl storage.ExclusionSet, start, end time.Time) error {
	encrypted, err := r.Store.GetActiveCredential(ctx, user.ID)
	if err != nil {
		if errors.Is(err, database.ErrNoCredential) {
			run.SetError("missing_credential", err.Error())
		} else {
			run.SetError("database", err.Error())
		}
		return fmt.Errorf("credential for %s: %w", user.ID, err)
	}
	apiKey, err := r.Secrets.Decrypt(encrypted, user.ID)
	if err != nil {
		run.SetError("credential_decrypt", err.Error())
		return fmt.Errorf("decrypt credential for %s: %w", user.ID, err)
	}

	loc := r.location(user)
	for _, w := range Chunks(start, end, r.ChunkSize) {
		// Graceful shutdown: finish the current chunk, take no new ones.
		if ctx.Err() != nil {
			r.Log.Info().Str("user_id", user.ID).Msg("run interrupted, stopping before next chunk")
			break
		}

		covered, err := r.Store.AlreadyOverlapsProcessed(ctx, user.ID, w.Start, w.End)
		if err != nil {
			run.SetError("database", err.Error())
			return fmt.Errorf("overlap check: %w", err)
		}
		if covered {
			continue
		}

		res, call := r.Fetcher.Fetch(ctx, apiKey, w.Start, w.End)
		run.RecordCall(call)
		metrics.ChunksFetched.WithLabelValues(res.Kind.String()).Inc()

		switch res.Kind {
		case upstream.ResultNoData, upstream.ResultTransient:
			continue
		case upstream.ResultFatal:
			run.SetError(res.FatalReason, fmt.Sprintf("chunk %s-%s: status %d",
				w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), res.StatusCode))
			return fmt.Errorf("upstream fatal: %s", res.FatalReason)
		}

		if err := r.processSegment(ctx, user, loc, run, excl, res); err != nil {
			return err
		}
	}
	return nil
}

// processSegment takes one downloaded blob through store → classify →
// clip → dedup → mark processed → delete the OGG.
func (r *Runner) processSegment(ctx context.Context, user *database.User, loc *time.Location, run *RunLog, excl storage.ExclusionSet, res upstream.FetchResult) error {
	path := r.Layout.SegmentPath(user.ID, res.Start, res.End)
	if err := storage.WriteFileAtomic(path, res.Data); err != nil {
		r.Log.Error().Err(err).Str("path", path).Msg("failed to write segment, skipping chunk")
		return nil
	}

	segID, err := r.Store.InsertSegment(ctx, &database.SegmentRow{
		UserID:    user.ID,
		DateLocal: LocalDate(res.Start, loc),
		StartUTC:  res.Start,
		EndUTC:    res.End,
		FilePath:  path,
	})
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			r.Log.Warn().Err(rmErr).Str("path", path).Msg("failed to delete unregistered segment")
		}
		run.SetError("database", err.Error())
		return fmt.Errorf("insert segment: %w", err)
	}
	run.FilesDownloaded++

	samples, err := r.Decoder.Decode(ctx, res.Data)
	if err != nil {
		// Keep the file and the unprocessed row for inspection; the next
		// run refetches the window.
		r.Log.Error().Err(err).Int64("segment_id", segID).Msg("decode failed, skipping segment")
		return nil
	}

	patches, err := r.Scorer.Score(ctx, samples)
	if err != nil {
		run.SetError("classifier", err.Error())
		return fmt.Errorf("score segment %d: %w", segID, err)
	}

	events := classifier.EventsFromScores(patches, r.Threshold)
	run.EventsFound += len(events)

	stem := storage.SegmentStem(path)
	for _, ev := range events {
		clipPath, err := r.Writer.Write(user.ID, stem, samples, classifier.SampleRate, ev)
		if err != nil {
			r.Log.Warn().Err(err).Int64("segment_id", segID).
				Float64("offset_s", ev.OffsetSec).Msg("clip write failed, skipping event")
			continue
		}

		out, err := r.Deduper.Store(ctx, &database.DetectionRow{
			UserID:       user.ID,
			SegmentID:    &segID,
			TimestampUTC: res.Start.Add(time.Duration(ev.OffsetSec * float64(time.Second))),
			Probability:  ev.Probability,
			ClipPath:     clipPath,
			ClassID:      ev.ClassID,
			ClassName:    ev.ClassName,
		})
		if err != nil {
			run.SetError("database", err.Error())
			return fmt.Errorf("store detection: %w", err)
		}
		run.Count(out)
		if out.Kind == dedup.Inserted {
			metrics.DetectionsStored.Inc()
		} else {
			metrics.DuplicatesSkipped.WithLabelValues(string(out.Reason)).Inc()
		}

		switch out.Kind {
		case dedup.Inserted, dedup.Updated:
			excl.Add(clipPath)
			r.archive(user.ID, clipPath)
		case dedup.SkippedKept:
			if out.Reason == dedup.ReasonClipPath {
				excl.Add(clipPath)
			}
		}
	}

	// Per-segment memory discipline: drop the sidecar session and give
	// the heap back before the next blob.
	r.Scorer.Reset(ctx)
	runtime.GC()

	if err := r.Store.MarkSegmentProcessed(ctx, segID); err != nil {
		run.SetError("database", err.Error())
		return fmt.Errorf("mark segment processed: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		// The reconciler cleans up processed leftovers on the next pass.
		r.Log.Warn().Err(err).Str("path", path).Msg("failed to delete processed segment")
	}
	run.MarkProcessed(res.End)
	metrics.SegmentsProcessed.Inc()
	return nil
}

func (r *Runner) archive(userID, clipPath string) {
	if r.Archiver == nil {
		return
	}
	data, err := os.ReadFile(clipPath)
	if err != nil {
		r.Log.Warn().Err(err).Str("path", clipPath).Msg("failed to read clip for archival")
		return
	}
	r.Archiver.Enqueue(userID+"/"+filepath.Base(clipPath), data)
}
