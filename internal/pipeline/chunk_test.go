package pipeline

import (
	"testing"
	"time"
)

func TestChunks(t *testing.T) {
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		size  time.Duration
		want  int
		last  time.Duration // duration of the final window
	}{
		{"even split", base, base.Add(2 * time.Hour), 30 * time.Minute, 4, 30 * time.Minute},
		{"truncated tail", base, base.Add(70 * time.Minute), 30 * time.Minute, 3, 10 * time.Minute},
		{"single partial", base, base.Add(5 * time.Minute), 30 * time.Minute, 1, 5 * time.Minute},
		{"empty window", base, base, 30 * time.Minute, 0, 0},
		{"end before start", base, base.Add(-time.Hour), 30 * time.Minute, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Chunks(tt.start, tt.end, tt.size)
			if len(got) != tt.want {
				t.Fatalf("got %d windows, want %d", len(got), tt.want)
			}
			if tt.want == 0 {
				return
			}
			if !got[0].Start.Equal(tt.start) {
				t.Errorf("first window starts %v, want %v", got[0].Start, tt.start)
			}
			if !got[len(got)-1].End.Equal(tt.end) {
				t.Errorf("last window ends %v, want %v", got[len(got)-1].End, tt.end)
			}
			if d := got[len(got)-1].Duration(); d != tt.last {
				t.Errorf("last window duration = %v, want %v", d, tt.last)
			}
			// Windows are contiguous and ordered.
			for i := 1; i < len(got); i++ {
				if !got[i].Start.Equal(got[i-1].End) {
					t.Errorf("gap between window %d and %d", i-1, i)
				}
			}
		})
	}
}

func TestChunks_InvalidSizePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Chunks should panic on non-positive size")
		}
	}()
	base := time.Now()
	Chunks(base, base.Add(time.Hour), 0)
}
