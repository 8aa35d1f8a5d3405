package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/laughtrack/internal/database"
)

// clipPathPageSize pages the clip-path query; a user with years of history
// can hold far more rows than one query should return.
const clipPathPageSize = 1000

// Index is the database view the reconciler cross-checks disk against.
type Index interface {
	ListSegmentFiles(ctx context.Context, userID string) ([]database.SegmentFileInfo, error)
	ListClipPaths(ctx context.Context, userID string, limit, offset int) ([]string, error)
}

// ExclusionSet holds basenames of clips written during the current
// pipeline session. The reconciler must not delete them even when the
// follow-up DB read has not caught up with the insert yet.
type ExclusionSet map[string]struct{}

func NewExclusionSet() ExclusionSet { return ExclusionSet{} }

func (s ExclusionSet) Add(path string) {
	s[filepath.Base(path)] = struct{}{}
}

func (s ExclusionSet) Contains(path string) bool {
	_, ok := s[filepath.Base(path)]
	return ok
}

// SweepStats reports one reconciliation pass.
type SweepStats struct {
	Scanned               int
	OrphanAudioRemoved    int
	OrphanClipsRemoved    int
	ProcessedAudioRemoved int
	Failures              int
}

// Reconciler deletes true orphan files (on disk, unreferenced by any row)
// and OGGs whose segment already finished processing.
type Reconciler struct {
	layout Layout
	index  Index
	log    zerolog.Logger
}

func NewReconciler(layout Layout, index Index, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		layout: layout,
		index:  index,
		log:    log.With().Str("component", "reconciler").Logger(),
	}
}

// Sweep reconciles one user's files. window > 0 restricts the sweep to
// files modified within that duration — the pipeline's pre/post-flight
// passes only chase recent crash debris and leave old files alone.
// Individual delete failures are logged and counted, never fatal.
func (r *Reconciler) Sweep(ctx context.Context, userID string, exclude ExclusionSet, window time.Duration) (SweepStats, error) {
	var stats SweepStats

	segFiles, err := r.index.ListSegmentFiles(ctx, userID)
	if err != nil {
		return stats, err
	}
	knownAudio := make(map[string]bool, len(segFiles)) // path → processed
	for _, f := range segFiles {
		knownAudio[r.layout.Resolve(f.FilePath)] = f.Processed
	}

	knownClips := make(map[string]struct{})
	for offset := 0; ; offset += clipPathPageSize {
		page, err := r.index.ListClipPaths(ctx, userID, clipPathPageSize, offset)
		if err != nil {
			return stats, err
		}
		for _, p := range page {
			knownClips[r.layout.Resolve(p)] = struct{}{}
		}
		if len(page) < clipPathPageSize {
			break
		}
	}

	var cutoff time.Time
	if window > 0 {
		cutoff = time.Now().Add(-window)
	}

	// Audio tree: delete unknown files and processed-segment leftovers.
	r.sweepDir(r.layout.AudioDir(userID), cutoff, exclude, &stats, func(path string) (bool, string) {
		processed, known := knownAudio[path]
		if !known {
			return true, "orphan_audio"
		}
		if processed {
			return true, "processed_audio"
		}
		return false, ""
	})

	// Clip trees: per-user plus the legacy top-level directory.
	clipJudge := func(path string) (bool, string) {
		if _, known := knownClips[path]; known {
			return false, ""
		}
		return true, "orphan_clip"
	}
	r.sweepDir(r.layout.ClipsDir(userID), cutoff, exclude, &stats, clipJudge)
	r.sweepLegacyClips(cutoff, exclude, &stats, clipJudge)

	r.log.Info().
		Str("user_id", userID).
		Int("scanned", stats.Scanned).
		Int("orphan_audio", stats.OrphanAudioRemoved).
		Int("orphan_clips", stats.OrphanClipsRemoved).
		Int("processed_audio", stats.ProcessedAudioRemoved).
		Int("failures", stats.Failures).
		Msg("reconcile sweep complete")
	return stats, nil
}

// sweepDir applies judge to every regular file in dir. judge returns
// whether to delete and which counter the deletion belongs to.
func (r *Reconciler) sweepDir(dir string, cutoff time.Time, exclude ExclusionSet, stats *SweepStats, judge func(path string) (bool, string)) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return // missing dir means nothing to sweep
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".upload-") && strings.HasSuffix(name, ".tmp") {
			// In-flight atomic write; the next pass catches stale ones.
			continue
		}
		path := filepath.Join(dir, name)
		stats.Scanned++

		if !cutoff.IsZero() {
			info, err := e.Info()
			if err != nil || info.ModTime().Before(cutoff) {
				continue
			}
		}

		if exclude.Contains(path) {
			continue
		}

		remove, kind := judge(path)
		if !remove {
			continue
		}
		if err := os.Remove(path); err != nil {
			r.log.Warn().Err(err).Str("path", path).Msg("failed to delete file")
			stats.Failures++
			continue
		}
		switch kind {
		case "orphan_audio":
			stats.OrphanAudioRemoved++
		case "orphan_clip":
			stats.OrphanClipsRemoved++
		case "processed_audio":
			stats.ProcessedAudioRemoved++
		}
		r.log.Debug().Str("path", path).Str("kind", kind).Msg("deleted file")
	}
}

// sweepLegacyClips covers pre-per-user clips sitting directly under
// uploads/clips/. Subdirectories there are per-user trees, not legacy files.
func (r *Reconciler) sweepLegacyClips(cutoff time.Time, exclude ExclusionSet, stats *SweepStats, judge func(path string) (bool, string)) {
	r.sweepDir(r.layout.LegacyClipsDir(), cutoff, exclude, stats, judge)
}
