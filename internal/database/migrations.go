package database

import (
	"context"
	"fmt"
	"strings"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations is the ordered list of schema migrations to apply.
// Each must be idempotent (use IF NOT EXISTS, IF EXISTS, etc.).
var migrations = []migration{
	{
		name:  "add laughter_detections.notes",
		sql:   `ALTER TABLE laughter_detections ADD COLUMN IF NOT EXISTS notes text`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'laughter_detections' AND column_name = 'notes')`,
	},
	{
		name: "add processing_logs skip breakdown columns",
		sql: `ALTER TABLE processing_logs
			ADD COLUMN IF NOT EXISTS skipped_time_window int NOT NULL DEFAULT 0,
			ADD COLUMN IF NOT EXISTS skipped_clip_path int NOT NULL DEFAULT 0,
			ADD COLUMN IF NOT EXISTS skipped_missing_file int NOT NULL DEFAULT 0`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'processing_logs' AND column_name = 'skipped_time_window')`,
	},
	{
		name:  "add processing_logs.last_processed_utc",
		sql:   `ALTER TABLE processing_logs ADD COLUMN IF NOT EXISTS last_processed_utc timestamptz`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'processing_logs' AND column_name = 'last_processed_utc')`,
	},
	{
		name:  "add audio_segments window index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_audio_segments_user_window ON audio_segments (user_id, start_utc, end_utc)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_audio_segments_user_window')`,
	},
	{
		name:  "add partial unique index for active upstream keys",
		sql:   `CREATE UNIQUE INDEX IF NOT EXISTS uq_upstream_keys_active ON upstream_keys (user_id) WHERE is_active`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'uq_upstream_keys_active')`,
	},
}

// Migrate applies any pending migrations. Safe to run at every startup.
func (db *DB) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		var applied bool
		if err := db.Pool.QueryRow(ctx, m.check).Scan(&applied); err != nil {
			return fmt.Errorf("migration check %q: %w", m.name, err)
		}
		if applied {
			continue
		}

		db.log.Info().Str("migration", m.name).Msg("applying migration")
		for _, stmt := range strings.Split(m.sql, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := db.Pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migration %q: %w", m.name, err)
			}
		}
	}
	return nil
}
