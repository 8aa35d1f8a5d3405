package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DetectionRow is one persisted laughter detection.
type DetectionRow struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	SegmentID    *int64    `json:"segment_id,omitempty"`
	TimestampUTC time.Time `json:"timestamp_utc"`
	Probability  float32   `json:"probability"`
	ClipPath     string    `json:"clip_path"`
	ClassID      int       `json:"class_id"`
	ClassName    string    `json:"class_name"`
	Notes        *string   `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ErrDuplicateDetection is returned by InsertDetection when either unique
// constraint — (user_id, timestamp_utc, class_id) or clip_path — fires.
// The dedup layer treats this as a skip, not an error.
var ErrDuplicateDetection = errors.New("duplicate detection")

const detectionColumns = `id, user_id, segment_id, timestamp_utc, probability,
	clip_path, class_id, class_name, notes, created_at`

func scanDetection(row pgx.Row) (*DetectionRow, error) {
	var d DetectionRow
	err := row.Scan(&d.ID, &d.UserID, &d.SegmentID, &d.TimestampUTC, &d.Probability,
		&d.ClipPath, &d.ClassID, &d.ClassName, &d.Notes, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// FindNearbyDetection returns the detection for (user, class) closest to ts
// within the tolerance, or nil when there is none. The interval is closed
// on both ends: |Δt| = tolerance counts as a duplicate.
func (db *DB) FindNearbyDetection(ctx context.Context, userID string, classID int, ts time.Time, tolerance time.Duration) (*DetectionRow, error) {
	d, err := scanDetection(db.Pool.QueryRow(ctx, `
		SELECT `+detectionColumns+`
		FROM laughter_detections
		WHERE user_id = $1 AND class_id = $2
		  AND timestamp_utc BETWEEN $3 AND $4
		ORDER BY abs(EXTRACT(EPOCH FROM (timestamp_utc - $5::timestamptz)))
		LIMIT 1
	`, userID, classID, ts.Add(-tolerance), ts.Add(tolerance), ts))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

// FindDetectionByClipPath returns the detection owning clip path, or nil.
func (db *DB) FindDetectionByClipPath(ctx context.Context, clipPath string) (*DetectionRow, error) {
	d, err := scanDetection(db.Pool.QueryRow(ctx, `
		SELECT `+detectionColumns+`
		FROM laughter_detections WHERE clip_path = $1
	`, clipPath))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

// InsertDetection inserts a detection and returns its id.
// Unique-constraint violations map to ErrDuplicateDetection.
func (db *DB) InsertDetection(ctx context.Context, d *DetectionRow) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO laughter_detections
			(user_id, segment_id, timestamp_utc, probability, clip_path, class_id, class_name, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, d.UserID, d.SegmentID, d.TimestampUTC, d.Probability, d.ClipPath,
		d.ClassID, d.ClassName, d.Notes).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateDetection
		}
		return 0, err
	}
	return id, nil
}

// UpdateDetectionClip rewrites an existing row's clip_path and probability.
// This is the orphan-recovery path: the old clip file vanished, so the row
// is repointed at the freshly written one.
func (db *DB) UpdateDetectionClip(ctx context.Context, id int64, clipPath string, probability float32) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE laughter_detections SET clip_path = $2, probability = $3
		WHERE id = $1
	`, id, clipPath, probability)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("detection %d not found", id)
	}
	return nil
}

// UpdateDetectionProbability refreshes the probability of an existing row.
func (db *DB) UpdateDetectionProbability(ctx context.Context, id int64, probability float32) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE laughter_detections SET probability = $2 WHERE id = $1
	`, id, probability)
	return err
}

// ListClipPaths returns one page of the user's clip paths. The reconciler
// pages through all of them (never relies on an unpaged query).
func (db *DB) ListClipPaths(ctx context.Context, userID string, limit, offset int) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT clip_path FROM laughter_detections
		WHERE user_id = $1
		ORDER BY id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// ListDetectionsForDay returns the user's detections whose timestamp falls
// on the given local date in the given IANA timezone.
func (db *DB) ListDetectionsForDay(ctx context.Context, userID, dateLocal, timezone string, limit, offset int) ([]DetectionRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+detectionColumns+`
		FROM laughter_detections
		WHERE user_id = $1
		  AND (timestamp_utc AT TIME ZONE $3)::date = $2::date
		ORDER BY timestamp_utc
		LIMIT $4 OFFSET $5
	`, userID, dateLocal, timezone, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DetectionRow
	for rows.Next() {
		var d DetectionRow
		if err := rows.Scan(&d.ID, &d.UserID, &d.SegmentID, &d.TimestampUTC, &d.Probability,
			&d.ClipPath, &d.ClassID, &d.ClassName, &d.Notes, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DailySummary aggregates one local day of detections.
type DailySummary struct {
	UserID     string         `json:"user_id"`
	DateLocal  string         `json:"date_local"`
	Total      int            `json:"total"`
	ByClass    map[string]int `json:"by_class"`
	FirstUTC   *time.Time     `json:"first_utc,omitempty"`
	LastUTC    *time.Time     `json:"last_utc,omitempty"`
	MaxProb    float32        `json:"max_probability"`
}

// GetDailySummary groups the user's detections by class for one local day.
func (db *DB) GetDailySummary(ctx context.Context, userID, dateLocal, timezone string) (*DailySummary, error) {
	s := &DailySummary{UserID: userID, DateLocal: dateLocal, ByClass: map[string]int{}}

	rows, err := db.Pool.Query(ctx, `
		SELECT class_name, count(*), min(timestamp_utc), max(timestamp_utc), max(probability)
		FROM laughter_detections
		WHERE user_id = $1
		  AND (timestamp_utc AT TIME ZONE $3)::date = $2::date
		GROUP BY class_name
	`, userID, dateLocal, timezone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var class string
		var count int
		var first, last time.Time
		var maxProb float32
		if err := rows.Scan(&class, &count, &first, &last, &maxProb); err != nil {
			return nil, err
		}
		s.ByClass[class] = count
		s.Total += count
		if s.FirstUTC == nil || first.Before(*s.FirstUTC) {
			f := first
			s.FirstUTC = &f
		}
		if s.LastUTC == nil || last.After(*s.LastUTC) {
			l := last
			s.LastUTC = &l
		}
		if maxProb > s.MaxProb {
			s.MaxProb = maxProb
		}
	}
	return s, rows.Err()
}

// ListDetectionClipPathsInRange returns clip paths for detections in the
// local-date range, read before reprocessing deletes the rows.
func (db *DB) ListDetectionClipPathsInRange(ctx context.Context, userID, timezone, fromDate, toDate string) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT clip_path FROM laughter_detections
		WHERE user_id = $1
		  AND (timestamp_utc AT TIME ZONE $2)::date BETWEEN $3::date AND $4::date
	`, userID, timezone, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// DeleteDetectionsInRange removes detection rows for the local-date range.
func (db *DB) DeleteDetectionsInRange(ctx context.Context, userID, timezone, fromDate, toDate string) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM laughter_detections
		WHERE user_id = $1
		  AND (timestamp_utc AT TIME ZONE $2)::date BETWEEN $3::date AND $4::date
	`, userID, timezone, fromDate, toDate)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteUserData wipes all detections and segments for a user.
func (db *DB) DeleteUserData(ctx context.Context, userID string) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM laughter_detections WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete detections: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM audio_segments WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete segments: %w", err)
	}
	return tx.Commit(ctx)
}
