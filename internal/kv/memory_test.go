package kv

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)

	require.NoError(t, s.Set(ctx, "login_attempts_a@example.com", []byte(`{"count":1}`)))
	require.NoError(t, s.Set(ctx, "login_attempts_b@example.com", []byte(`{"count":2}`)))
	require.NoError(t, s.Set(ctx, "all_users", []byte(`[]`)))

	v, err := s.Get(ctx, "login_attempts_a@example.com")
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":1}`, string(v))

	// last write wins
	require.NoError(t, s.Set(ctx, "login_attempts_a@example.com", []byte(`{"count":3}`)))
	v, err = s.Get(ctx, "login_attempts_a@example.com")
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":3}`, string(v))

	keys, err := s.Keys(ctx, "login_attempts_")
	require.NoError(t, err)
	assert.Equal(t, []string{"login_attempts_a@example.com", "login_attempts_b@example.com"}, keys)

	all, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.Delete(ctx, "all_users"))
	require.NoError(t, s.Delete(ctx, "all_users"), "deleting twice must not fail")
	_, err = s.Get(ctx, "all_users")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	in := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", in))
	in[0] = 'x'
	out, err := m.Get(ctx, "k")
	require.NoError(t, err)
	out[1] = 'y'
	again, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestPrefixedStore(t *testing.T) {
	ctx := context.Background()
	base := NewMemory()
	sess := Prefixed(base, "sessions/abc/")
	exerciseStore(t, sess)

	require.NoError(t, sess.Set(ctx, "auth_token", []byte(`"t"`)))
	_, err := base.Get(ctx, "sessions/abc/auth_token")
	require.NoError(t, err, "value must land under the prefix")
	_, err = base.Get(ctx, "auth_token")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Same(t, Store(base), Prefixed(base, ""))
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	type counter struct {
		Count int `json:"count"`
	}
	var c counter
	ok, err := GetJSON(ctx, s, "c", &c)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SetJSON(ctx, s, "c", counter{Count: 4}))
	ok, err = GetJSON(ctx, s, "c", &c)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, c.Count)

	require.NoError(t, s.Set(ctx, "corrupt", []byte("{not json")))
	_, err = GetJSON(ctx, s, "corrupt", &c)
	assert.Error(t, err)

	var fallback counter
	assert.False(t, LoadJSON(ctx, s, "corrupt", &fallback), "corrupt values load as empty")
	assert.Zero(t, fallback.Count)
}

func TestKeyedMutexSerialises(t *testing.T) {
	var m KeyedMutex
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, SetJSON(ctx, s, "n", 0))

	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			unlock := m.Lock("n")
			defer unlock()
			var n int
			_, _ = GetJSON(ctx, s, "n", &n)
			_ = SetJSON(ctx, s, "n", n+1)
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}
	var n int
	_, err := GetJSON(ctx, s, "n", &n)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
	assert.Empty(t, m.locks, "released locks must be dropped")
}
