package migrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	_ "modernc.org/sqlite"
)

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("create table a(x text default 'a;b'); insert into a values ('c');\n")
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
}

func TestUpPostgresAppliesPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_kv.up.sql":   {Data: []byte("create table kv_entries (entry_key text primary key);")},
		"0001_kv.down.sql": {Data: []byte("drop table kv_entries;")},
		"0002_idx.up.sql":  {Data: []byte("create index i on kv_entries (entry_key);")},
	}
	mgr, err := NewManager(db, "postgres", WithFS(fsys))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_kv.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create index i on kv_entries").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec(`insert into schema_migrations\(name, applied_at\) values \(\$1, \$2\)`).
		WithArgs("0002_idx.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := mgr.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestNewManagerRejectsUnknownDialect(t *testing.T) {
	if _, err := NewManager(nil, "oracle"); err == nil {
		t.Fatal("expected error")
	}
}

func TestEmbeddedSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	mgr, err := NewManager(db, "sqlite")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := mgr.Up(ctx); err != nil {
		t.Fatalf("Up: %v", err)
	}
	// second run is a no-op
	if err := mgr.Up(ctx); err != nil {
		t.Fatalf("Up again: %v", err)
	}
	applied, err := mgr.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("expected 2 applied migrations, got %v", applied)
	}
	if _, err := db.ExecContext(ctx, `insert into kv_entries(entry_key, entry_value, updated_at) values ('k', 'v', current_timestamp)`); err != nil {
		t.Fatalf("kv_entries not usable: %v", err)
	}

	if err := mgr.Down(ctx); err != nil {
		t.Fatalf("Down: %v", err)
	}
	applied, _ = mgr.Status(ctx)
	if len(applied) != 1 || applied[0] != "0001_kv_entries.up.sql" {
		t.Fatalf("unexpected history after down: %v", applied)
	}
}
