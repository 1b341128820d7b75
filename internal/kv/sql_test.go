package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLStorePostgresStatements(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLStore(db, Postgres)
	ctx := context.Background()

	mock.ExpectExec("insert into kv_entries").
		WithArgs("auth_secret", `"s3cr3t"`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.Set(ctx, "auth_secret", []byte(`"s3cr3t"`)))

	mock.ExpectQuery(`select entry_value from kv_entries where entry_key = \$1`).
		WithArgs("auth_secret").
		WillReturnRows(sqlmock.NewRows([]string{"entry_value"}).AddRow(`"s3cr3t"`))
	v, err := s.Get(ctx, "auth_secret")
	require.NoError(t, err)
	assert.Equal(t, `"s3cr3t"`, string(v))

	mock.ExpectQuery("select entry_value from kv_entries").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"entry_value"}))
	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectQuery("select entry_key from kv_entries where substr").
		WithArgs(int64(len("login_attempts_")), "login_attempts_").
		WillReturnRows(sqlmock.NewRows([]string{"entry_key"}).AddRow("login_attempts_a").AddRow("login_attempts_b"))
	keys, err := s.Keys(ctx, "login_attempts_")
	require.NoError(t, err)
	assert.Equal(t, []string{"login_attempts_a", "login_attempts_b"}, keys)

	mock.ExpectQuery("select entry_key from kv_entries where substr").
		WithArgs(int64(len("sessions/é")-1), "sessions/é").
		WillReturnRows(sqlmock.NewRows([]string{"entry_key"}).AddRow("sessions/é/auth_token"))
	keys, err = s.Keys(ctx, "sessions/é")
	require.NoError(t, err)
	assert.Equal(t, []string{"sessions/é/auth_token"}, keys)

	mock.ExpectExec("delete from kv_entries").
		WithArgs("auth_secret").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Delete(ctx, "auth_secret"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "profile", "store.db")
	s, err := OpenSQL(ctx, "sqlite", path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.DB().ExecContext(ctx, `create table kv_entries (
		entry_key text primary key,
		entry_value text not null,
		updated_at timestamp not null
	)`)
	require.NoError(t, err)

	exerciseStore(t, s)

	for _, k := range []string{"conversations_zoë_1", "conversations_zoë_2", "conversations_zoe_3"} {
		require.NoError(t, s.Set(ctx, k, []byte("[]")))
	}
	keys, err := s.Keys(ctx, "conversations_zoë_")
	require.NoError(t, err)
	assert.Equal(t, []string{"conversations_zoë_1", "conversations_zoë_2"}, keys)
}

func TestDialectFor(t *testing.T) {
	for _, name := range []string{"postgres", "pgx", "sqlite", "mysql"} {
		d, err := DialectFor(name)
		require.NoError(t, err)
		assert.NotEmpty(t, d.DriverName)
	}
	_, err := DialectFor("oracle")
	assert.Error(t, err)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "etcd"})
	assert.Error(t, err)

	s, err := Open(context.Background(), Options{Driver: "memory", Prefix: "jc:"})
	require.NoError(t, err)
	exerciseStore(t, s)
}
