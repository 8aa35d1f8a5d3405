package database

import (
	"context"
	"encoding/json"
	"time"
)

// ProcessingLogRow is the per-(user, local-day) run record. Re-runs update
// the existing row; the unique constraint on (user_id, date_local) makes
// the upsert the natural write path.
type ProcessingLogRow struct {
	ID                 int64           `json:"id"`
	UserID             string          `json:"user_id"`
	DateLocal          string          `json:"date_local"`
	Trigger            string          `json:"trigger"` // manual, scheduled, cron
	Status             string          `json:"status"`  // pending, completed, failed
	DurationS          float32         `json:"duration_s"`
	FilesDownloaded    int             `json:"files_downloaded"`
	EventsFound        int             `json:"events_found"`
	DuplicatesSkipped  int             `json:"duplicates_skipped"`
	SkippedTimeWindow  int             `json:"skipped_time_window"`
	SkippedClipPath    int             `json:"skipped_clip_path"`
	SkippedMissingFile int             `json:"skipped_missing_file"`
	APICalls           json.RawMessage `json:"api_calls"`
	ErrorDetails       json.RawMessage `json:"error_details"`
	LastProcessedUTC   *time.Time      `json:"last_processed_utc,omitempty"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// UpsertProcessingLog writes the run record for (user, date_local),
// overwriting a prior run's row.
func (db *DB) UpsertProcessingLog(ctx context.Context, l *ProcessingLogRow) error {
	apiCalls := l.APICalls
	if apiCalls == nil {
		apiCalls = json.RawMessage(`[]`)
	}
	errDetails := l.ErrorDetails
	if errDetails == nil {
		errDetails = json.RawMessage(`{}`)
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO processing_logs
			(user_id, date_local, trigger_source, status, duration_s,
			 files_downloaded, events_found, duplicates_skipped,
			 skipped_time_window, skipped_clip_path, skipped_missing_file,
			 api_calls, error_details, last_processed_utc)
		VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id, date_local) DO UPDATE SET
			trigger_source = EXCLUDED.trigger_source,
			status = EXCLUDED.status,
			duration_s = EXCLUDED.duration_s,
			files_downloaded = EXCLUDED.files_downloaded,
			events_found = EXCLUDED.events_found,
			duplicates_skipped = EXCLUDED.duplicates_skipped,
			skipped_time_window = EXCLUDED.skipped_time_window,
			skipped_clip_path = EXCLUDED.skipped_clip_path,
			skipped_missing_file = EXCLUDED.skipped_missing_file,
			api_calls = EXCLUDED.api_calls,
			error_details = EXCLUDED.error_details,
			last_processed_utc = EXCLUDED.last_processed_utc,
			updated_at = now()
	`, l.UserID, l.DateLocal, l.Trigger, l.Status, l.DurationS,
		l.FilesDownloaded, l.EventsFound, l.DuplicatesSkipped,
		l.SkippedTimeWindow, l.SkippedClipPath, l.SkippedMissingFile,
		apiCalls, errDetails, l.LastProcessedUTC)
	return err
}

const processingLogColumns = `id, user_id, date_local::text, trigger_source, status, duration_s,
	files_downloaded, events_found, duplicates_skipped,
	skipped_time_window, skipped_clip_path, skipped_missing_file,
	api_calls, error_details, last_processed_utc, updated_at`

// ListProcessingLogs returns the user's run records for a local-date range,
// newest first.
func (db *DB) ListProcessingLogs(ctx context.Context, userID, fromDate, toDate string) ([]ProcessingLogRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+processingLogColumns+`
		FROM processing_logs
		WHERE user_id = $1 AND date_local BETWEEN $2::date AND $3::date
		ORDER BY date_local DESC
	`, userID, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProcessingLogRow
	for rows.Next() {
		var l ProcessingLogRow
		if err := rows.Scan(&l.ID, &l.UserID, &l.DateLocal, &l.Trigger, &l.Status, &l.DurationS,
			&l.FilesDownloaded, &l.EventsFound, &l.DuplicatesSkipped,
			&l.SkippedTimeWindow, &l.SkippedClipPath, &l.SkippedMissingFile,
			&l.APICalls, &l.ErrorDetails, &l.LastProcessedUTC, &l.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
