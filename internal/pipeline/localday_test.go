package pipeline

import (
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

func TestDayWindow_FallBackDST(t *testing.T) {
	// America/Los_Angeles falls back on 2025-11-02: that local day is
	// 25 hours long, the next is back to 24. Two consecutive days span
	// 49 hours of UTC.
	loc := mustLoc(t, "America/Los_Angeles")

	s1, e1, err := DayWindow("2025-11-02", loc)
	if err != nil {
		t.Fatal(err)
	}
	if d := e1.Sub(s1); d != 25*time.Hour {
		t.Errorf("2025-11-02 spans %v, want 25h", d)
	}

	s2, e2, err := DayWindow("2025-11-03", loc)
	if err != nil {
		t.Fatal(err)
	}
	if d := e2.Sub(s2); d != 24*time.Hour {
		t.Errorf("2025-11-03 spans %v, want 24h", d)
	}

	if !s2.Equal(e1) {
		t.Errorf("days not contiguous: %v then %v", e1, s2)
	}
	if total := e2.Sub(s1); total != 49*time.Hour {
		t.Errorf("two-day span = %v, want 49h", total)
	}
}

func TestDayWindow_SpringForward(t *testing.T) {
	loc := mustLoc(t, "America/Los_Angeles")
	s, e, err := DayWindow("2026-03-08", loc)
	if err != nil {
		t.Fatal(err)
	}
	if d := e.Sub(s); d != 23*time.Hour {
		t.Errorf("spring-forward day spans %v, want 23h", d)
	}
}

func TestLocalDate(t *testing.T) {
	loc := mustLoc(t, "America/Los_Angeles")
	// 2026-03-10T05:00Z is still 2026-03-09 in LA (UTC-7 after DST).
	ts := time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC)
	if got := LocalDate(ts, loc); got != "2026-03-09" {
		t.Errorf("LocalDate = %s, want 2026-03-09", got)
	}
	if got := LocalDate(ts, time.UTC); got != "2026-03-10" {
		t.Errorf("LocalDate UTC = %s, want 2026-03-10", got)
	}
}

func TestDateRange(t *testing.T) {
	dates, err := DateRange("2025-11-01", "2025-11-03")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2025-11-01", "2025-11-02", "2025-11-03"}
	if len(dates) != len(want) {
		t.Fatalf("got %d dates, want %d", len(dates), len(want))
	}
	for i := range want {
		if dates[i] != want[i] {
			t.Errorf("dates[%d] = %s, want %s", i, dates[i], want[i])
		}
	}

	single, err := DateRange("2025-11-01", "2025-11-01")
	if err != nil || len(single) != 1 {
		t.Errorf("single-day range = %v (%v), want one date", single, err)
	}

	if _, err := DateRange("2025-11-03", "2025-11-01"); err == nil {
		t.Error("reversed range should fail")
	}
}
