package pipeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/snarg/laughtrack/internal/dedup"
	"github.com/snarg/laughtrack/internal/upstream"
)

func TestRunLog_AccountingIdentity(t *testing.T) {
	r := NewRunLog("u1", "2026-03-10", TriggerManual)

	outcomes := []dedup.Outcome{
		{Kind: dedup.Inserted},
		{Kind: dedup.Inserted},
		{Kind: dedup.SkippedDeleted, Reason: dedup.ReasonTimeWindow},
		{Kind: dedup.Updated, Reason: dedup.ReasonTimeWindow},
		{Kind: dedup.SkippedKept, Reason: dedup.ReasonClipPath},
		{Kind: dedup.SkippedKept, Reason: dedup.ReasonMissingFile},
	}
	for _, out := range outcomes {
		r.EventsFound++
		r.Count(out)
	}

	if r.EventsFound != 6 {
		t.Fatalf("events_found = %d, want 6", r.EventsFound)
	}
	if r.DuplicatesSkipped() != 4 {
		t.Errorf("duplicates_skipped = %d, want 4", r.DuplicatesSkipped())
	}
	// events_found − duplicates_skipped = rows inserted.
	if got := r.EventsFound - r.DuplicatesSkipped(); got != r.Inserted {
		t.Errorf("identity broken: %d - %d != %d inserted",
			r.EventsFound, r.DuplicatesSkipped(), r.Inserted)
	}
	if r.SkippedTimeWindow != 2 || r.SkippedClipPath != 1 || r.SkippedMissingFile != 1 {
		t.Errorf("skip split = (%d, %d, %d), want (2, 1, 1)",
			r.SkippedTimeWindow, r.SkippedClipPath, r.SkippedMissingFile)
	}
}

func TestRunLog_Row(t *testing.T) {
	r := NewRunLog("u1", "2026-03-10", TriggerScheduled)
	r.FilesDownloaded = 3
	r.EventsFound = 2
	r.Count(dedup.Outcome{Kind: dedup.Inserted})
	r.Count(dedup.Outcome{Kind: dedup.SkippedDeleted, Reason: dedup.ReasonTimeWindow})
	r.RecordCall(upstream.APICall{Endpoint: "/v1/download-audio", Status: 503})
	r.SetError("transient", "503 on chunk 3")
	r.MarkProcessed(time.Date(2026, 3, 10, 17, 30, 0, 0, time.UTC))

	row := r.Row(StatusCompleted)
	if row.Status != StatusCompleted || row.Trigger != TriggerScheduled {
		t.Errorf("status/trigger = %s/%s", row.Status, row.Trigger)
	}
	if row.DuplicatesSkipped != 1 || row.SkippedTimeWindow != 1 {
		t.Errorf("duplicates = %d, time_window = %d, want 1, 1",
			row.DuplicatesSkipped, row.SkippedTimeWindow)
	}

	var calls []upstream.APICall
	if err := json.Unmarshal(row.APICalls, &calls); err != nil {
		t.Fatalf("api_calls not valid JSON: %v", err)
	}
	if len(calls) != 1 || calls[0].Status != 503 {
		t.Errorf("api_calls = %+v, want one 503 record", calls)
	}

	var details map[string]string
	if err := json.Unmarshal(row.ErrorDetails, &details); err != nil {
		t.Fatalf("error_details not valid JSON: %v", err)
	}
	if details["transient"] == "" {
		t.Error("error_details missing transient entry")
	}
	if row.LastProcessedUTC == nil {
		t.Error("last_processed_utc not set")
	}
}

func TestRunLog_EmptyRowDefaults(t *testing.T) {
	row := NewRunLog("u1", "2026-03-10", TriggerManual).Row(StatusFailed)
	if string(row.APICalls) != "[]" {
		t.Errorf("api_calls = %s, want []", row.APICalls)
	}
	if string(row.ErrorDetails) != "{}" {
		t.Errorf("error_details = %s, want {}", row.ErrorDetails)
	}
}
