package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/laughtrack/internal/database"
)

type fakeIndex struct {
	segments []database.SegmentFileInfo
	clips    []string
}

func (f *fakeIndex) ListSegmentFiles(_ context.Context, _ string) ([]database.SegmentFileInfo, error) {
	return f.segments, nil
}

func (f *fakeIndex) ListClipPaths(_ context.Context, _ string, limit, offset int) ([]string, error) {
	if offset >= len(f.clips) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.clips) {
		end = len(f.clips)
	}
	return f.clips[offset:end], nil
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestSweep_OrphansAndProcessed(t *testing.T) {
	root := t.TempDir()
	layout := NewLayout(root)
	const user = "u1"

	knownAudio := filepath.Join(layout.AudioDir(user), "20260310_170000-20260310_173000.ogg")
	processedAudio := filepath.Join(layout.AudioDir(user), "20260310_173000-20260310_180000.ogg")
	orphanAudio := filepath.Join(layout.AudioDir(user), "20260309_000000-20260309_003000.ogg")
	knownClip := filepath.Join(layout.ClipsDir(user), "seg_laughter_5-00_13.wav")
	orphanClip := filepath.Join(layout.ClipsDir(user), "seg_laughter_9-99_15.wav")
	excludedClip := filepath.Join(layout.ClipsDir(user), "seg_laughter_1-00_18.wav")
	legacyOrphan := filepath.Join(layout.LegacyClipsDir(), "old_laughter_2-00_13.wav")
	tmpFile := filepath.Join(layout.ClipsDir(user), ".upload-123.tmp")

	for _, p := range []string{knownAudio, processedAudio, orphanAudio, knownClip, orphanClip, excludedClip, legacyOrphan, tmpFile} {
		writeFile(t, p)
	}

	idx := &fakeIndex{
		segments: []database.SegmentFileInfo{
			{FilePath: knownAudio, Processed: false},
			{FilePath: processedAudio, Processed: true},
		},
		clips: []string{knownClip},
	}

	excl := NewExclusionSet()
	excl.Add(excludedClip)

	r := NewReconciler(layout, idx, zerolog.Nop())
	stats, err := r.Sweep(context.Background(), user, excl, 0)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if !exists(knownAudio) {
		t.Error("unprocessed known audio must survive")
	}
	if exists(processedAudio) {
		t.Error("processed segment audio must be deleted")
	}
	if exists(orphanAudio) {
		t.Error("orphan audio must be deleted")
	}
	if !exists(knownClip) {
		t.Error("referenced clip must survive")
	}
	if exists(orphanClip) {
		t.Error("orphan clip must be deleted")
	}
	if !exists(excludedClip) {
		t.Error("session-excluded clip must survive")
	}
	if exists(legacyOrphan) {
		t.Error("legacy top-level orphan clip must be deleted")
	}
	if !exists(tmpFile) {
		t.Error("in-flight .tmp file must be left alone")
	}

	if stats.OrphanClipsRemoved != 2 {
		t.Errorf("OrphanClipsRemoved = %d, want 2", stats.OrphanClipsRemoved)
	}
	if stats.OrphanAudioRemoved != 1 {
		t.Errorf("OrphanAudioRemoved = %d, want 1", stats.OrphanAudioRemoved)
	}
	if stats.ProcessedAudioRemoved != 1 {
		t.Errorf("ProcessedAudioRemoved = %d, want 1", stats.ProcessedAudioRemoved)
	}
}

func TestSweep_PaginatesClipPaths(t *testing.T) {
	root := t.TempDir()
	layout := NewLayout(root)
	const user = "u1"

	// More referenced clips than one page: everything referenced must
	// survive, which only works if the reconciler walks all pages.
	var clips []string
	for i := 0; i < 2*clipPathPageSize+7; i++ {
		p := filepath.Join(layout.ClipsDir(user), fmt.Sprintf("seg_laughter_%d-00_13.wav", i))
		clips = append(clips, p)
	}
	// Only materialize a sample on disk — the first, one past each page
	// boundary, and the last.
	onDisk := []string{clips[0], clips[clipPathPageSize], clips[2*clipPathPageSize], clips[len(clips)-1]}
	for _, p := range onDisk {
		writeFile(t, p)
	}

	r := NewReconciler(layout, &fakeIndex{clips: clips}, zerolog.Nop())
	stats, err := r.Sweep(context.Background(), user, NewExclusionSet(), 0)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	for _, p := range onDisk {
		if !exists(p) {
			t.Errorf("referenced clip %s deleted — pagination broken", filepath.Base(p))
		}
	}
	if stats.OrphanClipsRemoved != 0 {
		t.Errorf("OrphanClipsRemoved = %d, want 0", stats.OrphanClipsRemoved)
	}
}

func TestSweep_WindowSkipsOldFiles(t *testing.T) {
	root := t.TempDir()
	layout := NewLayout(root)
	const user = "u1"

	oldOrphan := filepath.Join(layout.ClipsDir(user), "ancient_laughter_0-00_13.wav")
	newOrphan := filepath.Join(layout.ClipsDir(user), "fresh_laughter_0-00_13.wav")
	writeFile(t, oldOrphan)
	writeFile(t, newOrphan)

	old := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(oldOrphan, old, old); err != nil {
		t.Fatal(err)
	}

	r := NewReconciler(layout, &fakeIndex{}, zerolog.Nop())
	if _, err := r.Sweep(context.Background(), user, NewExclusionSet(), 48*time.Hour); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if !exists(oldOrphan) {
		t.Error("orphan older than the window must be left for a full sweep")
	}
	if exists(newOrphan) {
		t.Error("recent orphan inside the window must be deleted")
	}
}

func TestSweep_ResolvesRelativePaths(t *testing.T) {
	// Rows migrated from old deployments store paths relative to the
	// project root (the upload root's parent).
	projectRoot := t.TempDir()
	root := filepath.Join(projectRoot, "uploads")
	layout := NewLayout(root)
	const user = "u1"

	clip := filepath.Join(layout.ClipsDir(user), "seg_laughter_3-50_17.wav")
	writeFile(t, clip)

	rel := filepath.Join("uploads", "clips", user, "seg_laughter_3-50_17.wav")
	r := NewReconciler(layout, &fakeIndex{clips: []string{rel}}, zerolog.Nop())
	if _, err := r.Sweep(context.Background(), user, NewExclusionSet(), 0); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !exists(clip) {
		t.Error("clip referenced by a relative legacy path must survive")
	}
}
