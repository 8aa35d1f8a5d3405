package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ClipArchiver pushes freshly written clips to S3 in the background
// without blocking the detection pipeline. Clips are always on local disk
// before being enqueued, so a dropped upload loses nothing.
type ClipArchiver struct {
	s3       *S3Store
	ch       chan archiveJob
	log      zerolog.Logger
	stopped  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type archiveJob struct {
	key  string
	data []byte
}

// NewClipArchiver creates an archiver with the given queue size.
func NewClipArchiver(s3 *S3Store, bufferSize int, log zerolog.Logger) *ClipArchiver {
	return &ClipArchiver{
		s3:  s3,
		ch:  make(chan archiveJob, bufferSize),
		log: log.With().Str("component", "clip-archiver").Logger(),
	}
}

// Enqueue adds an archive job. Non-blocking — drops with a warning when
// the queue is full or the archiver is stopping.
func (a *ClipArchiver) Enqueue(key string, data []byte) {
	if a.stopped.Load() {
		return
	}
	select {
	case a.ch <- archiveJob{key: key, data: data}:
	default:
		a.log.Warn().Str("key", key).Msg("archive queue full, skipping (clip safe on disk)")
	}
}

// Start launches worker goroutines.
func (a *ClipArchiver) Start(workers int) {
	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.worker()
	}
	a.log.Info().Int("workers", workers).Int("buffer", cap(a.ch)).Msg("clip archiver started")
}

// Stop drains the queue and waits for in-flight uploads.
func (a *ClipArchiver) Stop() {
	a.stopped.Store(true)
	a.stopOnce.Do(func() { close(a.ch) })
	a.wg.Wait()
}

func (a *ClipArchiver) worker() {
	defer a.wg.Done()
	for job := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := a.s3.Save(ctx, job.key, job.data, "audio/wav"); err != nil {
			a.log.Error().Err(err).Str("key", job.key).Msg("clip archive upload failed (clip safe on disk)")
		}
		cancel()
	}
}
