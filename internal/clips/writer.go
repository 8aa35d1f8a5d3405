// Package clips cuts review excerpts around detected events and writes
// them as mono 16-bit PCM WAV files.
package clips

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/snarg/laughtrack/internal/classifier"
	"github.com/snarg/laughtrack/internal/storage"
)

const wavHeaderLen = 44

// EncodeWAV wraps float32 samples in a mono 16-bit PCM WAV container.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	wav := make([]byte, wavHeaderLen+len(samples)*2)
	pcm := wav[wavHeaderLen:]

	copy(wav[0:4], "RIFF")
	binary.LittleEndian.PutUint32(wav[4:], uint32(len(wav)-8))
	copy(wav[8:12], "WAVE")
	copy(wav[12:16], "fmt ")
	binary.LittleEndian.PutUint32(wav[16:], 16)
	binary.LittleEndian.PutUint16(wav[20:], 1) // PCM
	binary.LittleEndian.PutUint16(wav[22:], 1) // mono
	binary.LittleEndian.PutUint32(wav[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(wav[28:], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(wav[32:], 2)                    // block align
	binary.LittleEndian.PutUint16(wav[34:], 16)                   // bits per sample
	copy(wav[36:40], "data")
	binary.LittleEndian.PutUint32(wav[40:], uint32(len(samples)*2))

	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s*32767.0)))
	}

	return wav
}

// Writer cuts fixed-duration windows around events.
type Writer struct {
	layout   storage.Layout
	duration time.Duration // total clip length, event-centered
}

func NewWriter(layout storage.Layout, duration time.Duration) *Writer {
	return &Writer{layout: layout, duration: duration}
}

// Write cuts [offset − d/2, offset + d/2] clamped to the waveform and
// writes it atomically. Returns the absolute clip path; on failure no
// partial file is left behind.
func (w *Writer) Write(userID, segmentStem string, samples []float32, sampleRate int, ev classifier.Event) (string, error) {
	half := w.duration.Seconds() / 2

	lo := int(float64(sampleRate) * (ev.OffsetSec - half))
	hi := int(float64(sampleRate) * (ev.OffsetSec + half))
	if lo < 0 {
		lo = 0
	}
	if hi > len(samples) {
		hi = len(samples)
	}
	if lo >= hi {
		return "", fmt.Errorf("event at %.2fs outside waveform (%d samples)", ev.OffsetSec, len(samples))
	}

	path := w.layout.ClipPath(userID, segmentStem, ev.OffsetSec, ev.ClassID)
	if err := storage.WriteFileAtomic(path, EncodeWAV(samples[lo:hi], sampleRate)); err != nil {
		return "", fmt.Errorf("write clip: %w", err)
	}
	return path, nil
}
