// Package dedup decides, for each candidate detection, whether to insert
// a new row, repair an existing one, or drop the candidate. Three layers:
// a ±5 s time-window match, an exact clip-path match, and finally the
// database unique constraints as the coordination primitive of last
// resort. Each decision is an explicit tagged value so the orphan-repair
// branch stays visible and testable.
package dedup

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/laughtrack/internal/database"
	"github.com/snarg/laughtrack/internal/storage"
)

// Tolerance is the time-window duplicate radius. The interval is closed:
// |Δt| exactly at the tolerance still counts as a duplicate (it would
// collide with the unique constraint anyway when the class matches).
const Tolerance = 5 * time.Second

// Store is the slice of the database the deduper needs.
type Store interface {
	FindNearbyDetection(ctx context.Context, userID string, classID int, ts time.Time, tolerance time.Duration) (*database.DetectionRow, error)
	FindDetectionByClipPath(ctx context.Context, clipPath string) (*database.DetectionRow, error)
	InsertDetection(ctx context.Context, d *database.DetectionRow) (int64, error)
	UpdateDetectionClip(ctx context.Context, id int64, clipPath string, probability float32) error
	UpdateDetectionProbability(ctx context.Context, id int64, probability float32) error
}

// Kind tags the decision taken for one candidate.
type Kind int

const (
	// Inserted: a fresh row now references the new clip.
	Inserted Kind = iota
	// Updated: an existing orphaned row was repaired to point at the new
	// clip (or had its probability refreshed). The new clip is kept.
	Updated
	// SkippedDeleted: a true duplicate; the new clip was deleted.
	SkippedDeleted
	// SkippedKept: skipped without deleting — either the candidate's file
	// already serves the existing row, or there was no file to delete.
	SkippedKept
)

func (k Kind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case SkippedDeleted:
		return "skipped_deleted"
	case SkippedKept:
		return "skipped_kept"
	default:
		return "unknown"
	}
}

// Reason names the skip counter a non-insert decision belongs to.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonTimeWindow  Reason = "time_window"
	ReasonClipPath    Reason = "clip_path"
	ReasonMissingFile Reason = "missing_file"
)

// Outcome is the result of storing one candidate.
type Outcome struct {
	Kind        Kind
	Reason      Reason
	DetectionID int64 // set for Inserted and Updated
}

// Deduper applies the three dedup layers in order.
type Deduper struct {
	store  Store
	layout storage.Layout
	log    zerolog.Logger
}

func New(store Store, layout storage.Layout, log zerolog.Logger) *Deduper {
	return &Deduper{
		store:  store,
		layout: layout,
		log:    log.With().Str("component", "dedup").Logger(),
	}
}

// Store runs the candidate through all layers. d.ClipPath must be the
// absolute path of an already-written clip. On a non-nil error the new
// clip has been removed — a clip never outlives its chance at a row.
func (dd *Deduper) Store(ctx context.Context, d *database.DetectionRow) (Outcome, error) {
	// L1 — time-window duplicate.
	existing, err := dd.store.FindNearbyDetection(ctx, d.UserID, d.ClassID, d.TimestampUTC, Tolerance)
	if err != nil {
		dd.removeClip(d.ClipPath)
		return Outcome{}, fmt.Errorf("time-window lookup: %w", err)
	}
	if existing != nil && existing.ClipPath != d.ClipPath {
		if storage.FileExists(dd.layout.Resolve(existing.ClipPath)) {
			// True duplicate: the earlier row and its clip are intact.
			dd.removeClip(d.ClipPath)
			return Outcome{Kind: SkippedDeleted, Reason: ReasonTimeWindow}, nil
		}
		// The existing row is an orphan — its clip vanished. Repoint it at
		// the clip we just wrote instead of inserting a twin row. This is
		// what makes prior crashes self-healing.
		if err := dd.store.UpdateDetectionClip(ctx, existing.ID, d.ClipPath, d.Probability); err != nil {
			dd.removeClip(d.ClipPath)
			return Outcome{}, fmt.Errorf("orphan repair: %w", err)
		}
		dd.log.Info().
			Int64("detection_id", existing.ID).
			Str("clip_path", d.ClipPath).
			Msg("repaired orphaned detection")
		return Outcome{Kind: Updated, Reason: ReasonTimeWindow, DetectionID: existing.ID}, nil
	}

	// L2 — exact clip-path duplicate. The paths are equal here, so the
	// file we just wrote already serves the existing row: keep it either
	// way, never delete it.
	byPath, err := dd.store.FindDetectionByClipPath(ctx, d.ClipPath)
	if err != nil {
		dd.removeClip(d.ClipPath)
		return Outcome{}, fmt.Errorf("clip-path lookup: %w", err)
	}
	if byPath != nil {
		if storage.FileExists(dd.layout.Resolve(byPath.ClipPath)) {
			return Outcome{Kind: SkippedKept, Reason: ReasonClipPath}, nil
		}
		if err := dd.store.UpdateDetectionProbability(ctx, byPath.ID, d.Probability); err != nil {
			dd.removeClip(d.ClipPath)
			return Outcome{}, fmt.Errorf("refresh probability: %w", err)
		}
		return Outcome{Kind: Updated, Reason: ReasonClipPath, DetectionID: byPath.ID}, nil
	}

	// Pre-insert guard: a row must never point at a file that is not
	// there. Catches write-then-crash races.
	if !storage.FileExists(d.ClipPath) {
		return Outcome{Kind: SkippedKept, Reason: ReasonMissingFile}, nil
	}

	// L3 — let the unique constraints arbitrate concurrent writers.
	id, err := dd.store.InsertDetection(ctx, d)
	if err == database.ErrDuplicateDetection {
		dd.removeClip(d.ClipPath)
		return Outcome{Kind: SkippedDeleted, Reason: ReasonTimeWindow}, nil
	}
	if err != nil {
		dd.removeClip(d.ClipPath)
		return Outcome{}, fmt.Errorf("insert detection: %w", err)
	}
	return Outcome{Kind: Inserted, DetectionID: id}, nil
}

func (dd *Deduper) removeClip(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		dd.log.Warn().Err(err).Str("path", path).Msg("failed to delete rejected clip")
	}
}
