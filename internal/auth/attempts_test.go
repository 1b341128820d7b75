package auth

import (
	"context"
	"testing"
	"time"

	"shalomjobs.org/internal/kv"
	"shalomjobs.org/internal/seclog"
)

func newTestTracker() (*Tracker, *seclog.Log, *testClock) {
	store := kv.NewMemory()
	clock := newTestClock()
	log := seclog.New(store, seclog.WithClock(clock.Now))
	tr := NewTracker(store, log, 5, time.Hour)
	tr.now = clock.Now
	return tr, log, clock
}

func TestTrackerLocksAfterFiveFailures(t *testing.T) {
	tr, log, _ := newTestTracker()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		st, err := tr.Update(ctx, "Someone@Example.com", true)
		if err != nil {
			t.Fatalf("Update #%d: %v", i, err)
		}
		if st.Count != i {
			t.Fatalf("expected count %d, got %d", i, st.Count)
		}
	}
	status := tr.IsLocked(ctx, "someone@example.com")
	if !status.Locked || status.RemainingMinutes != 60 {
		t.Fatalf("expected 60 minute lock, got %+v", status)
	}
	if n := countType(log.List(ctx, seclog.StreamSecurity, 0), seclog.AccountLocked); n != 1 {
		t.Fatalf("expected one account_locked entry, got %d", n)
	}
}

func TestTrackerRemainingMinutesRoundsUp(t *testing.T) {
	tr, _, clock := newTestTracker()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := tr.Update(ctx, "a@b.co", true); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	clock.Advance(59*time.Minute + 30*time.Second)
	if st := tr.IsLocked(ctx, "a@b.co"); !st.Locked || st.RemainingMinutes != 1 {
		t.Fatalf("expected 1 minute remaining, got %+v", st)
	}
	clock.Advance(31 * time.Second)
	if st := tr.IsLocked(ctx, "a@b.co"); st.Locked {
		t.Fatalf("lock should have expired, got %+v", st)
	}
}

func TestTrackerExpiredLockRestartsCount(t *testing.T) {
	tr, _, clock := newTestTracker()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := tr.Update(ctx, "a@b.co", true); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	clock.Advance(time.Hour + time.Second)

	if got := tr.Get(ctx, "a@b.co"); got.Count != 0 || got.LockUntil != nil {
		t.Fatalf("expired lock should read as cleared, got %+v", got)
	}
	st, err := tr.Update(ctx, "a@b.co", true)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if st.Count != 1 || st.LockUntil != nil {
		t.Fatalf("expected fresh count of 1, got %+v", st)
	}
}

func TestTrackerSuccessResets(t *testing.T) {
	tr, _, _ := newTestTracker()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := tr.Update(ctx, "a@b.co", true); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	st, err := tr.Update(ctx, "a@b.co", false)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if st.Count != 0 || st.LockUntil != nil {
		t.Fatalf("expected reset, got %+v", st)
	}
	if got := tr.Get(ctx, "a@b.co"); got.Count != 0 {
		t.Fatalf("stored counter not reset: %+v", got)
	}
}

func TestTrackerConcurrentFailuresAreCounted(t *testing.T) {
	tr, _, _ := newTestTracker()
	tr.max = 1000
	ctx := context.Background()

	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_, _ = tr.Update(ctx, "race@b.co", true)
		}()
	}
	for i := 0; i < 20; i++ {
		<-done
	}
	if got := tr.Get(ctx, "race@b.co"); got.Count != 20 {
		t.Fatalf("expected 20 recorded failures, got %d", got.Count)
	}
}
