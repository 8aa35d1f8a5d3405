package database

import (
	"context"
	"time"
)

// SegmentRow is one upstream-fetched audio blob covering a sub-window.
// The row is retained after processing; the on-disk OGG is not.
type SegmentRow struct {
	ID        int64
	UserID    string
	DateLocal string // YYYY-MM-DD in the user's timezone
	StartUTC  time.Time
	EndUTC    time.Time
	FilePath  string // absolute
	Processed bool
	CreatedAt time.Time
}

// AlreadyOverlapsProcessed reports whether any processed segment for the
// user overlaps [start, end). This is the pre-download gate: the pipeline
// calls it before fetching to skip windows already covered.
// Overlap predicate: a.start < b.end AND b.start < a.end.
func (db *DB) AlreadyOverlapsProcessed(ctx context.Context, userID string, start, end time.Time) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM audio_segments
			WHERE user_id = $1 AND processed
			  AND start_utc < $3 AND end_utc > $2
		)
	`, userID, start, end).Scan(&exists)
	return exists, err
}

// InsertSegment inserts a segment row and returns its id.
func (db *DB) InsertSegment(ctx context.Context, s *SegmentRow) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO audio_segments (user_id, date_local, start_utc, end_utc, file_path, processed)
		VALUES ($1, $2::date, $3, $4, $5, false)
		RETURNING id
	`, s.UserID, s.DateLocal, s.StartUTC, s.EndUTC, s.FilePath).Scan(&id)
	return id, err
}

// MarkSegmentProcessed flips processed=true after the classifier finishes.
func (db *DB) MarkSegmentProcessed(ctx context.Context, id int64) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE audio_segments SET processed = true WHERE id = $1`, id)
	return err
}

// LatestSegmentEnd returns the greatest end_utc among the user's segments
// for the given local date. ok is false when the user has none.
func (db *DB) LatestSegmentEnd(ctx context.Context, userID, dateLocal string) (time.Time, bool, error) {
	var end *time.Time
	err := db.Pool.QueryRow(ctx, `
		SELECT max(end_utc) FROM audio_segments
		WHERE user_id = $1 AND date_local = $2::date
	`, userID, dateLocal).Scan(&end)
	if err != nil {
		return time.Time{}, false, err
	}
	if end == nil {
		return time.Time{}, false, nil
	}
	return *end, true, nil
}

// SegmentFileInfo pairs a segment's file path with its processed flag,
// for the orphan reconciler's on-disk cross-check.
type SegmentFileInfo struct {
	FilePath  string
	Processed bool
}

// ListSegmentFiles returns every (file_path, processed) pair for the user.
func (db *DB) ListSegmentFiles(ctx context.Context, userID string) ([]SegmentFileInfo, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT file_path, processed FROM audio_segments WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SegmentFileInfo
	for rows.Next() {
		var fi SegmentFileInfo
		if err := rows.Scan(&fi.FilePath, &fi.Processed); err != nil {
			return nil, err
		}
		out = append(out, fi)
	}
	return out, rows.Err()
}

// ListSegmentPathsInRange returns the file paths of segments whose local
// date falls in [fromDate, toDate]. Reprocessing reads these before it
// deletes the rows, so the files can still be found on disk.
func (db *DB) ListSegmentPathsInRange(ctx context.Context, userID, fromDate, toDate string) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT file_path FROM audio_segments
		WHERE user_id = $1 AND date_local BETWEEN $2::date AND $3::date
	`, userID, fromDate, toDate)
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

// DeleteSegmentsInRange removes segment rows for the local-date range.
func (db *DB) DeleteSegmentsInRange(ctx context.Context, userID, fromDate, toDate string) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM audio_segments
		WHERE user_id = $1 AND date_local BETWEEN $2::date AND $3::date
	`, userID, fromDate, toDate)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
