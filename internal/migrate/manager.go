// Package migrate applies the SQL schema used by the SQL-backed key-value stores.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const defaultMigrationsTable = "schema_migrations"

//go:embed sql
var embedded embed.FS

// Manager executes SQL migrations for one dialect.
type Manager struct {
	db              *sql.DB
	dialect         string
	fsys            fs.FS
	migrationsTable string
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithFS replaces the embedded migration files. Files are read from the root of fsys.
func WithFS(fsys fs.FS) Option {
	return func(m *Manager) {
		if fsys != nil {
			m.fsys = fsys
		}
	}
}

// NewManager constructs a Manager for dialect postgres, sqlite or mysql.
func NewManager(db *sql.DB, dialect string, opts ...Option) (*Manager, error) {
	switch dialect {
	case "postgres", "sqlite", "mysql":
	default:
		return nil, fmt.Errorf("migrate: unsupported dialect %q", dialect)
	}
	sub, err := fs.Sub(embedded, path.Join("sql", dialect))
	if err != nil {
		return nil, err
	}
	m := &Manager{
		db:              db,
		dialect:         dialect,
		fsys:            sub,
		migrationsTable: defaultMigrationsTable,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Up applies all pending migrations.
func (m *Manager) Up(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	executed, err := m.listExecuted(ctx)
	if err != nil {
		return err
	}
	files, err := collectSQL(m.fsys, ".up.sql")
	if err != nil {
		return err
	}
	for _, name := range files {
		if executed[name] {
			continue
		}
		if err := m.exec(ctx, name); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if err := m.insertRecord(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	executed, err := m.history(ctx)
	if err != nil {
		return err
	}
	if len(executed) == 0 {
		return errors.New("no migrations applied")
	}
	last := executed[len(executed)-1]
	down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	if _, err := fs.Stat(m.fsys, down); err != nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	if err := m.exec(ctx, down); err != nil {
		return fmt.Errorf("rollback migration %s: %w", last, err)
	}
	q := fmt.Sprintf(`delete from %s where name = %s`, m.migrationsTable, m.placeholder(1))
	_, err = m.db.ExecContext(ctx, q, last)
	return err
}

// Status returns applied migrations in order.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	return m.history(ctx)
}

func (m *Manager) ensureTable(ctx context.Context) error {
	var ddl string
	switch m.dialect {
	case "postgres":
		ddl = `create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`
	case "sqlite":
		ddl = `create table if not exists %s (
			name text primary key,
			applied_at timestamp not null
		)`
	case "mysql":
		ddl = `create table if not exists %s (
			name varchar(255) not null primary key,
			applied_at datetime(6) not null
		)`
	}
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(ddl, m.migrationsTable))
	return err
}

func (m *Manager) exec(ctx context.Context, name string) error {
	sqlBytes, err := fs.ReadFile(m.fsys, name)
	if err != nil {
		return err
	}
	statements := splitStatements(string(sqlBytes))
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *Manager) insertRecord(ctx context.Context, name string) error {
	q := fmt.Sprintf(`insert into %s(name, applied_at) values (%s, %s)`,
		m.migrationsTable, m.placeholder(1), m.placeholder(2))
	_, err := m.db.ExecContext(ctx, q, name, time.Now().UTC())
	return err
}

func (m *Manager) listExecuted(ctx context.Context) (map[string]bool, error) {
	names, err := m.history(ctx)
	if err != nil {
		return nil, err
	}
	result := make(map[string]bool, len(names))
	for _, n := range names {
		result[n] = true
	}
	return result, nil
}

func (m *Manager) history(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by name asc`, m.migrationsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

func (m *Manager) placeholder(n int) string {
	if m.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func collectSQL(fsys fs.FS, suffix string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// splitStatements naively splits SQL by semicolon while preserving simple cases.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	var inString bool
	for _, r := range sql {
		switch r {
		case '\'':
			current.WriteRune(r)
			inString = !inString
		case ';':
			current.WriteRune(r)
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
