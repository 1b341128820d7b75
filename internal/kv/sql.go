package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect holds the statements that differ between SQL backends.
type Dialect struct {
	Name       string
	DriverName string
	get        string
	upsert     string
	del        string
	keys       string
	keysPrefix string
}

var (
	Postgres = Dialect{
		Name:       "postgres",
		DriverName: "pgx",
		get:        `select entry_value from kv_entries where entry_key = $1`,
		upsert: `insert into kv_entries(entry_key, entry_value, updated_at) values ($1, $2, $3)
			on conflict (entry_key) do update set entry_value = excluded.entry_value, updated_at = excluded.updated_at`,
		del:        `delete from kv_entries where entry_key = $1`,
		keys:       `select entry_key from kv_entries order by entry_key`,
		keysPrefix: `select entry_key from kv_entries where substr(entry_key, 1, $1) = $2 order by entry_key`,
	}

	SQLite = Dialect{
		Name:       "sqlite",
		DriverName: "sqlite",
		get:        `select entry_value from kv_entries where entry_key = ?`,
		upsert: `insert into kv_entries(entry_key, entry_value, updated_at) values (?, ?, ?)
			on conflict(entry_key) do update set entry_value = excluded.entry_value, updated_at = excluded.updated_at`,
		del:        `delete from kv_entries where entry_key = ?`,
		keys:       `select entry_key from kv_entries order by entry_key`,
		keysPrefix: `select entry_key from kv_entries where substr(entry_key, 1, ?) = ? order by entry_key`,
	}

	MySQL = Dialect{
		Name:       "mysql",
		DriverName: "mysql",
		get:        `select entry_value from kv_entries where entry_key = ?`,
		upsert: `insert into kv_entries(entry_key, entry_value, updated_at) values (?, ?, ?)
			on duplicate key update entry_value = values(entry_value), updated_at = values(updated_at)`,
		del:        `delete from kv_entries where entry_key = ?`,
		keys:       `select entry_key from kv_entries order by entry_key`,
		keysPrefix: `select entry_key from kv_entries where substr(entry_key, 1, ?) = ? order by entry_key`,
	}
)

// DialectFor maps a configured driver name to its Dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "pgx":
		return Postgres, nil
	case "sqlite":
		return SQLite, nil
	case "mysql":
		return MySQL, nil
	}
	return Dialect{}, fmt.Errorf("kv: unsupported sql driver %q", driver)
}

// SQLStore implements Store on a single kv_entries table.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLStore wraps an open database. The kv_entries table must exist.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// OpenSQL opens a database for the named driver and verifies the connection.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if dialect.Name == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", dsn)
	}
	db, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, err
	}
	if dialect.Name == "sqlite" {
		// one writer; avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewSQLStore(db, dialect), nil
}

// DB exposes the handle for migrations and readiness probes.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Dialect reports the backend dialect.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var v string
	err := s.db.QueryRowContext(ctx, s.dialect.get, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(v), nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, s.dialect.upsert, key, string(value), s.now().UTC())
	return err
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.del, key)
	return err
}

func (s *SQLStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if prefix == "" {
		rows, err = s.db.QueryContext(ctx, s.dialect.keys)
	} else {
		rows, err = s.db.QueryContext(ctx, s.dialect.keysPrefix, utf8.RuneCountInString(prefix), prefix)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLStore) Close() error { return s.db.Close() }
