// Package pipeline drives ingestion end to end: chunked fetching,
// classification, clip writing, dedup, and per-run accounting, for one
// user at a time.
package pipeline

import "time"

// Window is one half-open [Start, End) fetch window.
type Window struct {
	Start, End time.Time
}

func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

// Chunks splits [start, end) into consecutive windows of at most size.
// The last window is truncated at end; [t, t) yields nothing. size must
// be positive.
func Chunks(start, end time.Time, size time.Duration) []Window {
	if size <= 0 {
		panic("chunk size must be positive")
	}
	var out []Window
	for cur := start; cur.Before(end); {
		next := cur.Add(size)
		if next.After(end) {
			next = end
		}
		out = append(out, Window{Start: cur, End: next})
		cur = next
	}
	return out
}
