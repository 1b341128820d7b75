// Package kv is the persistence adapter: a string-keyed store of JSON values.
//
// All account, session, lockout, security-log and messaging state lives in a
// Store. Backends are interchangeable; writes are last-write-wins per key.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"shalomjobs.org/internal/obs"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kv: not found")

// Store is a flat key-value table.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists keys starting with prefix in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// GetJSON decodes the value at key into dst. It reports false when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, dst any) (bool, error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

// LoadJSON is GetJSON for callers that treat unreadable data as empty.
// Storage and decode failures are logged and reported as a missing key.
func LoadJSON(ctx context.Context, s Store, key string, dst any) bool {
	ok, err := GetJSON(ctx, s, key, dst)
	if err != nil {
		obs.Warn("kv value unreadable, using default", map[string]any{"key": key, "error": err})
		return false
	}
	return ok
}

type prefixed struct {
	inner  Store
	prefix string
	owns   bool
}

// Prefixed returns a view of s where every key is namespaced under prefix.
// Closing the view does not close s.
func Prefixed(s Store, prefix string) Store {
	if prefix == "" {
		return s
	}
	return &prefixed{inner: s, prefix: prefix}
}

func (p *prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.inner.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key string, value []byte) error {
	return p.inner.Set(ctx, p.prefix+key, value)
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	return p.inner.Delete(ctx, p.prefix+key)
}

func (p *prefixed) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := p.inner.Keys(ctx, p.prefix+prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, p.prefix))
	}
	sort.Strings(out)
	return out, nil
}

func (p *prefixed) Close() error {
	if p.owns {
		return p.inner.Close()
	}
	return nil
}

func (p *prefixed) Ping(ctx context.Context) error { return Ping(ctx, p.inner) }

// Pinger is implemented by backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks s if it is a Pinger; in-process stores are always reachable.
func Ping(ctx context.Context, s Store) error {
	if p, ok := s.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// AsSQL returns the SQL backend behind s, looking through prefixed views.
func AsSQL(s Store) (*SQLStore, bool) {
	switch v := s.(type) {
	case *SQLStore:
		return v, true
	case *prefixed:
		return AsSQL(v.inner)
	}
	return nil, false
}
