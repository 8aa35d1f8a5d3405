package pipeline

import (
	"encoding/json"
	"time"

	"github.com/snarg/laughtrack/internal/database"
	"github.com/snarg/laughtrack/internal/dedup"
	"github.com/snarg/laughtrack/internal/upstream"
)

// Run statuses persisted to processing_logs.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Trigger sources.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerCron      = "cron"
)

// RunLog accumulates one run's counters for a (user, local day) and
// flattens them into a processing_logs row at the end. The accounting
// identity events_found − duplicates_skipped = rows inserted holds by
// construction: every dedup outcome increments exactly one side.
type RunLog struct {
	UserID    string
	DateLocal string
	Trigger   string

	FilesDownloaded    int
	EventsFound        int
	Inserted           int
	SkippedTimeWindow  int
	SkippedClipPath    int
	SkippedMissingFile int

	APICalls         []upstream.APICall
	ErrorDetails     map[string]string
	LastProcessedUTC *time.Time

	started time.Time
}

func NewRunLog(userID, dateLocal, trigger string) *RunLog {
	return &RunLog{
		UserID:       userID,
		DateLocal:    dateLocal,
		Trigger:      trigger,
		ErrorDetails: map[string]string{},
		started:      time.Now(),
	}
}

// Count files a dedup outcome under its counter.
func (r *RunLog) Count(out dedup.Outcome) {
	if out.Kind == dedup.Inserted {
		r.Inserted++
		return
	}
	switch out.Reason {
	case dedup.ReasonTimeWindow:
		r.SkippedTimeWindow++
	case dedup.ReasonClipPath:
		r.SkippedClipPath++
	case dedup.ReasonMissingFile:
		r.SkippedMissingFile++
	}
}

// DuplicatesSkipped is the derived total over the three skip counters.
func (r *RunLog) DuplicatesSkipped() int {
	return r.SkippedTimeWindow + r.SkippedClipPath + r.SkippedMissingFile
}

// RecordCall appends one upstream API call record.
func (r *RunLog) RecordCall(call upstream.APICall) {
	r.APICalls = append(r.APICalls, call)
}

// SetError records a keyed failure detail, e.g. "invalid_credential".
func (r *RunLog) SetError(key, msg string) {
	r.ErrorDetails[key] = msg
}

// MarkProcessed advances the run's high-water mark.
func (r *RunLog) MarkProcessed(end time.Time) {
	e := end
	r.LastProcessedUTC = &e
}

// Row flattens the run into its processing_logs row.
func (r *RunLog) Row(status string) *database.ProcessingLogRow {
	apiCalls, _ := json.Marshal(r.APICalls)
	if r.APICalls == nil {
		apiCalls = json.RawMessage(`[]`)
	}
	errDetails, _ := json.Marshal(r.ErrorDetails)

	return &database.ProcessingLogRow{
		UserID:             r.UserID,
		DateLocal:          r.DateLocal,
		Trigger:            r.Trigger,
		Status:             status,
		DurationS:          float32(time.Since(r.started).Seconds()),
		FilesDownloaded:    r.FilesDownloaded,
		EventsFound:        r.EventsFound,
		DuplicatesSkipped:  r.DuplicatesSkipped(),
		SkippedTimeWindow:  r.SkippedTimeWindow,
		SkippedClipPath:    r.SkippedClipPath,
		SkippedMissingFile: r.SkippedMissingFile,
		APICalls:           apiCalls,
		ErrorDetails:       errDetails,
		LastProcessedUTC:   r.LastProcessedUTC,
	}
}
