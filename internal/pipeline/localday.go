package pipeline

import (
	"fmt"
	"time"
)

const dateFormat = "2006-01-02"

// LocalDate formats t's calendar date in the user's timezone.
func LocalDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dateFormat)
}

// DayWindow returns the UTC bounds of one local calendar day. The bounds
// come from local-midnight arithmetic, so DST days are 23 or 25 hours
// long rather than a flat 24.
func DayWindow(dateLocal string, loc *time.Location) (time.Time, time.Time, error) {
	d, err := time.ParseInLocation(dateFormat, dateLocal, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse date %q: %w", dateLocal, err)
	}
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start.UTC(), end.UTC(), nil
}

// DateRange lists the local dates from fromDate through toDate inclusive.
func DateRange(fromDate, toDate string) ([]string, error) {
	from, err := time.Parse(dateFormat, fromDate)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", fromDate, err)
	}
	to, err := time.Parse(dateFormat, toDate)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", toDate, err)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("date range %s..%s is reversed", fromDate, toDate)
	}

	var dates []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(dateFormat))
	}
	return dates, nil
}
