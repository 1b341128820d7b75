package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"shalomjobs.org/internal/kv"
	"shalomjobs.org/internal/seclog"
)

const (
	testAdminEmail    = "admin@shalomjobcenter.org"
	testAdminPassword = "Admin@2024"
	testDemoEmail     = "user@example.com"
	testDemoPassword  = "password123"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingWelcomer struct {
	mu    sync.Mutex
	users []string
}

func (w *recordingWelcomer) Welcome(_ context.Context, userID, _ string) error {
	w.mu.Lock()
	w.users = append(w.users, userID)
	w.mu.Unlock()
	return nil
}

type fixture struct {
	store   *kv.Memory
	log     *seclog.Log
	svc     *Service
	clock   *testClock
	welcome *recordingWelcomer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := kv.NewMemory()
	clock := newTestClock()
	log := seclog.New(store, seclog.WithClock(clock.Now))
	accounts := NewAccounts(store, AccountsConfig{
		AdminEmail:    testAdminEmail,
		AdminPassword: testAdminPassword,
		DemoEmail:     testDemoEmail,
		DemoPassword:  testDemoPassword,
	})
	if err := accounts.EnsureAdminAccount(context.Background()); err != nil {
		t.Fatalf("EnsureAdminAccount: %v", err)
	}
	tracker := NewTracker(store, log, DefaultMaxAttempts, DefaultLockDuration)
	codec := NewCodec(store, "", DefaultTokenTTL)
	w := &recordingWelcomer{}
	svc := NewService(store, accounts, tracker, codec, log, WithClock(clock.Now), WithWelcomer(w))
	return &fixture{store: store, log: log, svc: svc, clock: clock, welcome: w}
}

func countType(entries []seclog.Entry, typ string) int {
	n := 0
	for _, e := range entries {
		if e.Type == typ {
			n++
		}
	}
	return n
}
