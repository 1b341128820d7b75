package auth

import (
	"context"
	"fmt"
	"time"

	"shalomjobs.org/internal/kv"
	"shalomjobs.org/internal/obs"
	"shalomjobs.org/internal/seclog"
)

const (
	DefaultMaxAttempts  = 5
	DefaultLockDuration = time.Hour

	attemptsKeyPrefix = "login_attempts_"
)

// AttemptState is the per-email failed sign-in counter.
type AttemptState struct {
	Count     int        `json:"count"`
	Timestamp time.Time  `json:"timestamp"`
	LockUntil *time.Time `json:"lockUntil,omitempty"`
}

// LockStatus is the answer of Tracker.IsLocked.
type LockStatus struct {
	Locked           bool
	Until            time.Time
	RemainingMinutes int
}

// Tracker counts failed sign-ins per email and locks the email once the
// count reaches the limit.
type Tracker struct {
	store   kv.Store
	log     *seclog.Log
	now     func() time.Time
	max     int
	lockFor time.Duration
	locks   kv.KeyedMutex
}

// NewTracker builds a Tracker. Non-positive limits fall back to 5 attempts
// and a one hour lock.
func NewTracker(store kv.Store, log *seclog.Log, maxAttempts int, lockFor time.Duration) *Tracker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if lockFor <= 0 {
		lockFor = DefaultLockDuration
	}
	return &Tracker{store: store, log: log, now: time.Now, max: maxAttempts, lockFor: lockFor}
}

// MaxAttempts is the number of failures that locks an email.
func (t *Tracker) MaxAttempts() int { return t.max }

func attemptsKey(email string) string {
	return attemptsKeyPrefix + normalizeEmail(email)
}

func (t *Tracker) load(ctx context.Context, email string) AttemptState {
	var st AttemptState
	kv.LoadJSON(ctx, t.store, attemptsKey(email), &st)
	return st
}

// Get returns the counter for email. A lock that has already elapsed is
// reported as a cleared counter.
func (t *Tracker) Get(ctx context.Context, email string) AttemptState {
	st := t.load(ctx, email)
	if st.LockUntil != nil && !st.LockUntil.After(t.now()) {
		return AttemptState{Timestamp: st.Timestamp}
	}
	return st
}

// Update records a failed attempt when increment is true and clears the
// counter otherwise.
func (t *Tracker) Update(ctx context.Context, email string, increment bool) (AttemptState, error) {
	key := attemptsKey(email)
	unlock := t.locks.Lock(key)
	defer unlock()

	now := t.now().UTC()
	st := t.load(ctx, email)

	if !increment {
		st = AttemptState{Count: 0, Timestamp: now}
		if err := kv.SetJSON(ctx, t.store, key, st); err != nil {
			return st, fmt.Errorf("auth: reset attempts: %w", err)
		}
		return st, nil
	}

	if st.LockUntil != nil && !st.LockUntil.After(now) {
		st.Count = 1
		st.LockUntil = nil
	} else {
		st.Count++
	}
	st.Timestamp = now

	locked := false
	if st.Count >= t.max {
		until := now.Add(t.lockFor)
		st.LockUntil = &until
		locked = true
	}
	if err := kv.SetJSON(ctx, t.store, key, st); err != nil {
		return st, fmt.Errorf("auth: record attempt: %w", err)
	}

	if locked {
		obs.ObserveLockout()
		if t.log != nil {
			t.log.Append(ctx, seclog.AccountLocked, seclog.Subject{Email: normalizeEmail(email)}, map[string]any{
				"attempts":  st.Count,
				"lockUntil": st.LockUntil.Format(time.RFC3339),
			})
		}
	}
	return st, nil
}

// IsLocked reports whether email is locked and for how many whole minutes.
func (t *Tracker) IsLocked(ctx context.Context, email string) LockStatus {
	st := t.load(ctx, email)
	now := t.now()
	if st.LockUntil == nil || !st.LockUntil.After(now) {
		return LockStatus{}
	}
	return LockStatus{
		Locked:           true,
		Until:            *st.LockUntil,
		RemainingMinutes: remainingMinutes(st.LockUntil.Sub(now)),
	}
}

// Reset clears the counter and any lock, e.g. on administrator unlock.
func (t *Tracker) Reset(ctx context.Context, email string) error {
	_, err := t.Update(ctx, email, false)
	return err
}
