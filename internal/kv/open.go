package kv

import (
	"context"
	"fmt"
)

// Options selects and configures a backend for Open.
type Options struct {
	Driver string
	DSN    string
	Prefix string
	Redis  RedisOptions
}

// Open constructs the configured backend. SQL backends are returned without
// running migrations; see package migrate.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "memory":
		return Prefixed(NewMemory(), opts.Prefix), nil
	case "redis":
		ro := opts.Redis
		if ro.Prefix == "" {
			ro.Prefix = opts.Prefix
		}
		return NewRedis(ctx, ro)
	case "sqlite", "postgres", "mysql":
		s, err := OpenSQL(ctx, opts.Driver, opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", opts.Driver, err)
		}
		if opts.Prefix != "" {
			return &prefixed{inner: s, prefix: opts.Prefix, owns: true}, nil
		}
		return s, nil
	}
	return nil, fmt.Errorf("kv: unknown driver %q", opts.Driver)
}
