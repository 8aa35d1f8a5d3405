package classifier

import (
	"math"
	"testing"
)

// scoreVector builds a 521-wide probability vector with the given
// class id → probability overrides.
func scoreVector(probs map[int]float32) []float32 {
	v := make([]float32, 521)
	for id, p := range probs {
		v[id] = p
	}
	return v
}

func TestEventsFromScores_Threshold(t *testing.T) {
	patches := [][]float32{
		scoreVector(map[int]float32{13: 0.7, 15: 0.1}), // patch 0: only class 13
		scoreVector(nil),                               // patch 1: silence
		scoreVector(map[int]float32{18: 0.31}),         // patch 2: chuckle
	}

	events := EventsFromScores(patches, 0.3)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	if events[0].ClassID != 13 || events[0].ClassName != "Laughter" {
		t.Errorf("events[0] = %+v, want class 13 Laughter", events[0])
	}
	if events[0].OffsetSec != 0 {
		t.Errorf("events[0].OffsetSec = %v, want 0", events[0].OffsetSec)
	}
	if events[1].ClassID != 18 {
		t.Errorf("events[1].ClassID = %d, want 18", events[1].ClassID)
	}
	if want := 2 * HopSeconds; math.Abs(events[1].OffsetSec-want) > 1e-9 {
		t.Errorf("events[1].OffsetSec = %v, want %v", events[1].OffsetSec, want)
	}
}

func TestEventsFromScores_ThresholdBoundary(t *testing.T) {
	// p == threshold counts (p ≥ threshold).
	patches := [][]float32{scoreVector(map[int]float32{14: 0.3})}
	events := EventsFromScores(patches, 0.3)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 (p == threshold must fire)", len(events))
	}
}

func TestEventsFromScores_TwoClassesSamePatch(t *testing.T) {
	// Same patch, two laughter classes: two distinct events, ordered by
	// class id.
	patches := [][]float32{scoreVector(map[int]float32{15: 0.5, 13: 0.9})}
	events := EventsFromScores(patches, 0.3)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].ClassID != 13 || events[1].ClassID != 15 {
		t.Errorf("order = [%d %d], want [13 15]", events[0].ClassID, events[1].ClassID)
	}
	if events[0].OffsetSec != events[1].OffsetSec {
		t.Error("both events should share the patch offset")
	}
}

func TestEventsFromScores_NonLaughterClassesIgnored(t *testing.T) {
	// Class 16 sits between giggle and belly laugh but is not laughter.
	patches := [][]float32{scoreVector(map[int]float32{16: 0.99, 0: 0.99})}
	if events := EventsFromScores(patches, 0.3); len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
}

func TestEventsFromScores_Empty(t *testing.T) {
	if events := EventsFromScores(nil, 0.3); len(events) != 0 {
		t.Errorf("got %d events from nil patches, want 0", len(events))
	}
	if events := EventsFromScores([][]float32{}, 0.3); len(events) != 0 {
		t.Errorf("got %d events from empty patches, want 0", len(events))
	}
}

func TestEventsFromScores_Deterministic(t *testing.T) {
	patches := [][]float32{
		scoreVector(map[int]float32{13: 0.4, 14: 0.4, 17: 0.4}),
		scoreVector(map[int]float32{18: 0.9}),
	}
	a := EventsFromScores(patches, 0.3)
	b := EventsFromScores(patches, 0.3)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("event %d differs between runs: %+v vs %+v", i, a[i], b[i])
		}
	}
}
