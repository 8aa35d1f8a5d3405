// Package classifier turns audio blobs into candidate laughter events.
// The acoustic model itself lives in an inference sidecar; this package
// owns decoding, the sidecar client, and threshold filtering.
package classifier

// SampleRate is the waveform rate the model expects: 16 kHz mono.
const SampleRate = 16000

// Patch geometry of the model: ~0.96 s analysis frames at a ~0.48 s hop.
const (
	PatchSeconds = 0.96
	HopSeconds   = 0.48
)

// LaughterClasses maps the model's laughter-family class ids to names.
var LaughterClasses = map[int]string{
	13: "Laughter",
	14: "Baby laughter",
	15: "Giggle",
	17: "Belly laugh",
	18: "Chuckle",
}

// laughterClassOrder keeps event emission deterministic for a given
// waveform: patches in order, classes in ascending id within a patch.
var laughterClassOrder = []int{13, 14, 15, 17, 18}

// Event is one above-threshold patch for one laughter class. OffsetSec is
// relative to the segment start; the clip path is filled in by the writer.
type Event struct {
	OffsetSec   float64
	Probability float32
	ClassID     int
	ClassName   string
	ClipPath    string
}

// EventsFromScores emits one Event per (patch, laughter class) whose
// probability meets the threshold. Deterministic: ordered by patch index,
// then class id.
func EventsFromScores(patches [][]float32, threshold float64) []Event {
	var events []Event
	for i, scores := range patches {
		for _, classID := range laughterClassOrder {
			if classID >= len(scores) {
				continue
			}
			p := scores[classID]
			if float64(p) >= threshold {
				events = append(events, Event{
					OffsetSec:   float64(i) * HopSeconds,
					Probability: p,
					ClassID:     classID,
					ClassName:   LaughterClasses[classID],
				})
			}
		}
	}
	return events
}
