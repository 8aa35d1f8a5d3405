package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/laughtrack/internal/database"
)

type fakeDirectory struct {
	users []database.User
}

func (f *fakeDirectory) ListActiveUsers(context.Context) ([]database.User, error) {
	return f.users, nil
}

func (f *fakeDirectory) GetUser(_ context.Context, idOrEmail string) (*database.User, error) {
	for i := range f.users {
		if f.users[i].ID == idOrEmail || f.users[i].Email == idOrEmail {
			return &f.users[i], nil
		}
	}
	return nil, fmt.Errorf("user %q not found", idOrEmail)
}

func testFleet(dir *fakeDirectory, cleanups *int) *Fleet {
	factory := func(*database.User) (*Runner, func()) {
		return &Runner{}, func() { *cleanups++ }
	}
	return NewFleet(dir, factory, &stubScorer{}, zerolog.Nop())
}

func fleetUsers(ids ...string) []database.User {
	var out []database.User
	for _, id := range ids {
		out = append(out, database.User{ID: id, Email: id + "@example.com", Timezone: "UTC", IsActive: true})
	}
	return out
}

func TestFleet_FailureDoesNotAbort(t *testing.T) {
	dir := &fakeDirectory{users: fleetUsers("u1", "u2", "u3")}
	cleanups := 0
	f := testFleet(dir, &cleanups)

	var order []string
	res, err := f.Run(context.Background(), Filter{}, func(_ context.Context, _ *Runner, u *database.User) error {
		order = append(order, u.ID)
		if u.ID == "u2" {
			return errors.New("upstream fatal")
		}
		return nil
	})

	if err == nil {
		t.Error("run with a failed user should return an error")
	}
	if res.Succeeded != 2 || res.Failed != 1 {
		t.Errorf("result = %+v, want 2 succeeded, 1 failed", res)
	}
	if len(order) != 3 || order[0] != "u1" || order[1] != "u2" || order[2] != "u3" {
		t.Errorf("order = %v, want all three users in sequence", order)
	}
	if cleanups != 3 {
		t.Errorf("cleanups = %d, want one per user", cleanups)
	}
	if f.Running() {
		t.Error("fleet still marked running after Run returned")
	}
	if f.UsersSucceeded() != 2 || f.UsersFailed() != 1 {
		t.Errorf("stats = %d/%d, want 2/1", f.UsersSucceeded(), f.UsersFailed())
	}
}

func TestFleet_FilterPreservesListedOrder(t *testing.T) {
	dir := &fakeDirectory{users: fleetUsers("u1", "u2", "u3")}
	cleanups := 0
	f := testFleet(dir, &cleanups)

	var order []string
	_, err := f.Run(context.Background(),
		Filter{IDs: []string{"u3", "u1"}},
		func(_ context.Context, _ *Runner, u *database.User) error {
			order = append(order, u.ID)
			return nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "u3" || order[1] != "u1" {
		t.Errorf("order = %v, want [u3 u1]", order)
	}
}

func TestFleet_FilterByEmail(t *testing.T) {
	dir := &fakeDirectory{users: fleetUsers("u1", "u2")}
	cleanups := 0
	f := testFleet(dir, &cleanups)

	var order []string
	_, err := f.Run(context.Background(),
		Filter{Emails: []string{"u2@example.com"}},
		func(_ context.Context, _ *Runner, u *database.User) error {
			order = append(order, u.ID)
			return nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 1 || order[0] != "u2" {
		t.Errorf("order = %v, want [u2]", order)
	}
}

func TestFleet_UnknownFilteredUser(t *testing.T) {
	dir := &fakeDirectory{users: fleetUsers("u1")}
	cleanups := 0
	f := testFleet(dir, &cleanups)

	_, err := f.Run(context.Background(), Filter{IDs: []string{"nope"}},
		func(context.Context, *Runner, *database.User) error { return nil })
	if err == nil {
		t.Error("unknown user in filter should fail the run up front")
	}
}

func TestFleet_CancelledContextStopsEnumeration(t *testing.T) {
	dir := &fakeDirectory{users: fleetUsers("u1", "u2", "u3")}
	cleanups := 0
	f := testFleet(dir, &cleanups)

	ctx, cancel := context.WithCancel(context.Background())
	var order []string
	res, err := f.Run(ctx, Filter{}, func(_ context.Context, _ *Runner, u *database.User) error {
		order = append(order, u.ID)
		cancel() // stop after the first user finishes
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 1 {
		t.Errorf("processed %d users after cancel, want 1", len(order))
	}
	if res.Succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", res.Succeeded)
	}
}

func TestFleet_ResetsScorerBetweenUsers(t *testing.T) {
	dir := &fakeDirectory{users: fleetUsers("u1", "u2")}
	scorer := &stubScorer{}
	factory := func(*database.User) (*Runner, func()) { return &Runner{}, func() {} }
	f := NewFleet(dir, factory, scorer, zerolog.Nop())

	_, err := f.Run(context.Background(), Filter{},
		func(context.Context, *Runner, *database.User) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if scorer.resets != 2 {
		t.Errorf("scorer resets = %d, want one per user", scorer.resets)
	}
}

func TestNextRun(t *testing.T) {
	at := 9 * time.Hour // 09:00 UTC

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			"before today's slot",
			time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		},
		{
			"after today's slot",
			time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC),
		},
		{
			"exactly at the slot rolls over",
			time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextRun(tt.now, at); !got.Equal(tt.want) {
				t.Errorf("NextRun = %v, want %v", got, tt.want)
			}
		})
	}
}
