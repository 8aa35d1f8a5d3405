package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/snarg/laughtrack/internal/classifier"
	"github.com/snarg/laughtrack/internal/database"
)

// UserDirectory enumerates the fleet.
type UserDirectory interface {
	ListActiveUsers(ctx context.Context) ([]database.User, error)
	GetUser(ctx context.Context, idOrEmail string) (*database.User, error)
}

// RunnerFactory builds a per-user runner plus its teardown (closes the
// user's upstream HTTP client).
type RunnerFactory func(user *database.User) (*Runner, func())

// Filter restricts a fleet run to explicit users. IDs and emails are
// processed in the listed order; empty means all active users.
type Filter struct {
	IDs    []string
	Emails []string
}

func (f Filter) empty() bool { return len(f.IDs) == 0 && len(f.Emails) == 0 }

// Result summarizes one fleet run.
type Result struct {
	Succeeded int
	Failed    int
}

// Fleet runs the per-user pipeline sequentially over the active users.
// One user at a time keeps peak memory bounded on small hosts.
type Fleet struct {
	users     UserDirectory
	newRunner RunnerFactory
	scorer    classifier.Scorer
	log       zerolog.Logger

	running   atomic.Bool
	succeeded atomic.Int64
	failed    atomic.Int64
}

func NewFleet(users UserDirectory, newRunner RunnerFactory, scorer classifier.Scorer, log zerolog.Logger) *Fleet {
	return &Fleet{
		users:     users,
		newRunner: newRunner,
		scorer:    scorer,
		log:       log.With().Str("component", "fleet").Logger(),
	}
}

// Running, UsersSucceeded, UsersFailed feed the metrics collector.
func (f *Fleet) Running() bool       { return f.running.Load() }
func (f *Fleet) UsersSucceeded() int { return int(f.succeeded.Load()) }
func (f *Fleet) UsersFailed() int    { return int(f.failed.Load()) }

// RunNightly processes yesterday for every selected user.
func (f *Fleet) RunNightly(ctx context.Context, filter Filter) (Result, error) {
	return f.Run(ctx, filter, func(ctx context.Context, r *Runner, u *database.User) error {
		return r.Nightly(ctx, u)
	})
}

// Run executes op per selected user, sequentially. A per-user failure is
// logged and counted; it never aborts the fleet. The returned error is
// non-nil when at least one user failed.
func (f *Fleet) Run(ctx context.Context, filter Filter, op func(ctx context.Context, r *Runner, u *database.User) error) (Result, error) {
	users, err := f.selectUsers(ctx, filter)
	if err != nil {
		return Result{}, err
	}

	f.running.Store(true)
	f.succeeded.Store(0)
	f.failed.Store(0)
	defer f.running.Store(false)

	var res Result
	for i := range users {
		u := &users[i]
		if ctx.Err() != nil {
			f.log.Info().Msg("fleet run interrupted")
			break
		}

		runner, cleanup := f.newRunner(u)
		err := op(ctx, runner, u)
		cleanup()

		if err != nil {
			f.log.Error().Err(err).Str("user_id", u.ID).Msg("user run failed")
			res.Failed++
			f.failed.Add(1)
		} else {
			res.Succeeded++
			f.succeeded.Add(1)
		}

		f.reclaim(ctx, u.ID)
	}

	if res.Failed > 0 {
		return res, fmt.Errorf("%d of %d users failed", res.Failed, res.Failed+res.Succeeded)
	}
	return res, nil
}

// selectUsers resolves the filter against the active fleet, preserving
// the order given on the command line.
func (f *Fleet) selectUsers(ctx context.Context, filter Filter) ([]database.User, error) {
	if filter.empty() {
		return f.users.ListActiveUsers(ctx)
	}

	var out []database.User
	for _, key := range append(append([]string{}, filter.IDs...), filter.Emails...) {
		u, err := f.users.GetUser(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("resolve user %q: %w", key, err)
		}
		out = append(out, *u)
	}
	return out, nil
}

// reclaim drops per-user state between users: classifier session, heap,
// and (where the platform supports it) OS-held memory.
func (f *Fleet) reclaim(ctx context.Context, userID string) {
	f.scorer.Reset(ctx)
	runtime.GC()
	debug.FreeOSMemory()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	f.log.Debug().
		Str("user_id", userID).
		Uint64("heap_alloc_mb", ms.HeapAlloc/1024/1024).
		Uint64("sys_mb", ms.Sys/1024/1024).
		Msg("memory after user")
}
