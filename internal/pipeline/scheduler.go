package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler fires the nightly fleet run once per day at a fixed UTC
// wall-clock time.
type Scheduler struct {
	at  time.Duration // offset from UTC midnight
	run func(ctx context.Context)
	log zerolog.Logger
}

func NewScheduler(at time.Duration, run func(ctx context.Context), log zerolog.Logger) *Scheduler {
	return &Scheduler{
		at:  at,
		run: run,
		log: log.With().Str("component", "scheduler").Logger(),
	}
}

// NextRun returns the next firing instant strictly after now.
func NextRun(now time.Time, at time.Duration) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(at)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run blocks until ctx is cancelled, firing the nightly job on schedule.
// The job itself is run synchronously; a long run simply delays the next
// computation of the firing time.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := NextRun(time.Now(), s.at)
		s.log.Info().Time("next_run", next).Msg("nightly run scheduled")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info().Msg("scheduler stopped")
			return
		case <-timer.C:
			s.log.Info().Msg("nightly run starting")
			s.run(ctx)
		}
	}
}
