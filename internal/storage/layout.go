// Package storage owns the on-disk upload tree and its reconciliation
// with the database.
//
// Layout:
//
//	uploads/
//	  audio/{user_id}/{YYYYMMDD_HHMMSS}-{YYYYMMDD_HHMMSS}.ogg
//	  clips/{user_id}/{segment_stem}_laughter_{ts with . as -}_{class_id}.wav
//	  clips/*.wav                      (legacy, pre-per-user layout)
package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const segmentTimeFormat = "20060102_150405"

// Layout computes absolute paths under the upload root. All paths handed
// to the database are absolute; Resolve maps legacy relative paths from
// older deployments back under the project root.
type Layout struct {
	root string // absolute upload root
}

func NewLayout(root string) Layout {
	return Layout{root: root}
}

func (l Layout) Root() string { return l.root }

// AudioDir is the per-user segment directory.
func (l Layout) AudioDir(userID string) string {
	return filepath.Join(l.root, "audio", userID)
}

// ClipsDir is the per-user clip directory.
func (l Layout) ClipsDir(userID string) string {
	return filepath.Join(l.root, "clips", userID)
}

// LegacyClipsDir is the old top-level clip directory, still swept by the
// reconciler until migrated files age out.
func (l Layout) LegacyClipsDir() string {
	return filepath.Join(l.root, "clips")
}

// SegmentPath names a segment blob by its UTC window.
func (l Layout) SegmentPath(userID string, start, end time.Time) string {
	name := fmt.Sprintf("%s-%s.ogg",
		start.UTC().Format(segmentTimeFormat),
		end.UTC().Format(segmentTimeFormat))
	return filepath.Join(l.AudioDir(userID), name)
}

// SegmentStem returns the segment file name without directory or extension.
func SegmentStem(segmentPath string) string {
	base := filepath.Base(segmentPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ClipPath names a clip after its segment, event offset, and class.
// The class id suffix keeps two same-offset events of different classes
// from colliding.
func (l Layout) ClipPath(userID, segmentStem string, offsetSec float64, classID int) string {
	ts := strings.ReplaceAll(fmt.Sprintf("%.2f", offsetSec), ".", "-")
	name := fmt.Sprintf("%s_laughter_%s_%d.wav", segmentStem, ts, classID)
	return filepath.Join(l.ClipsDir(userID), name)
}

// Resolve makes a stored path absolute. Relative paths only occur in rows
// migrated from older deployments; they resolve against the project root
// (the upload root's parent).
func (l Layout) Resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(l.root), p)
}
