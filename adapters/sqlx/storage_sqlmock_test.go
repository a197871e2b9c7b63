package sqlx_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	libsqlx "github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	storage "playkit/adapters/sqlx"
	kv "playkit/storage"
)

func newMockStore(t *testing.T, driver storage.Driver) (*storage.Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	xdb := storage.NewWithDB(libsqlx.NewDb(db, string(driver)), driver)
	cleanup := func() {
		_ = db.Close()
	}
	return xdb, mock, cleanup
}

func TestSQLMock_Get(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectQuery(`SELECT store_value FROM kv_store WHERE store_key = \$1`).
		WithArgs("levels:u1").
		WillReturnRows(sqlmock.NewRows([]string{"store_value"}).AddRow([]byte(`{"level":3}`)))

	got, err := store.Get(context.Background(), "levels:u1")
	require.NoError(t, err)
	require.JSONEq(t, `{"level":3}`, string(got))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_GetMissing(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectQuery(`SELECT store_value FROM kv_store`).
		WithArgs("levels:u1").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "levels:u1")
	require.ErrorIs(t, err, kv.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_SetPostgresUpsert(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO kv_store .* VALUES \(\$1, \$2, \$3\)\s+ON CONFLICT \(store_key\) DO UPDATE`).
		WithArgs("points:u1", []byte(`{"balance":5}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Set(context.Background(), "points:u1", []byte(`{"balance":5}`)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_SetMySQLUpsert(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverMySQL)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO kv_store .* VALUES \(\?, \?, \?\)\s+ON DUPLICATE KEY UPDATE`).
		WithArgs("points:u1", []byte(`{}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Set(context.Background(), "points:u1", []byte(`{}`)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_DeletePrefixEscapesWildcards(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectExec(`DELETE FROM kv_store WHERE store_key LIKE \$1 ESCAPE '!'`).
		WithArgs("session!_1:levels:%").
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, store.DeletePrefix(context.Background(), "session_1:levels:"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Delete(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverSQLite)
	defer cleanup()

	mock.ExpectExec(`DELETE FROM kv_store WHERE store_key = \?`).
		WithArgs("badges:u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), "badges:u1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Migrate(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS kv_store \(store_key VARCHAR\(512\) PRIMARY KEY, store_value BYTEA`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_ErrorsAreRecoverable(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO kv_store`).WillReturnError(errors.New("connection reset"))

	err := store.Set(context.Background(), "k", []byte(`1`))
	require.Error(t, err)
	require.False(t, kv.Unrecoverable(err))
}

func TestSQLMock_Closed(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()
	mock.ExpectClose()

	require.NoError(t, store.Close())
	_, err := store.Get(context.Background(), "k")
	require.ErrorIs(t, err, kv.ErrClosed)
}

func TestConfigValidate(t *testing.T) {
	cfg := storage.DefaultConfig(storage.DriverSQLite)
	require.NoError(t, cfg.Validate())

	cfg.Table = "kv; DROP TABLE users"
	require.Error(t, cfg.Validate())

	pg := storage.DefaultConfig(storage.DriverPostgres)
	require.Error(t, pg.Validate(), "postgres has no default dsn")

	bad := storage.DefaultConfig("oracle")
	bad.DSN = "x"
	require.Error(t, bad.Validate())
}
