package sql

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tracker"
	"github.com/syssam/tracker/dialect"
	"github.com/syssam/tracker/model"
	"github.com/syssam/tracker/tracking"
	"github.com/syssam/tracker/update"
)

func shop(t *testing.T) *tracking.StateManager {
	t.Helper()
	m, err := model.Build(
		model.Type("Customer").
			Fields(
				model.Int64("ID").Key().Generated(),
				model.String("Name"),
				model.Bytes("Version").Computed().ConcurrencyToken(),
			),
		model.Type("Order").
			Fields(
				model.Int64("ID").Key().Generated(),
				model.Int64("CustomerID"),
			).
			Edges(model.From("Customer", "Customer").Field("CustomerID").Ref("Orders")),
	)
	require.NoError(t, err)
	return tracking.NewStateManager(m)
}

func mockDriver(t *testing.T, name string) (*Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return OpenDB(name, db), mock
}

func save(ctx context.Context, drv *Driver, m *tracking.StateManager) (int, error) {
	return update.NewPipeline(drv).Save(ctx, m, true)
}

func TestOpenMySQLFoundRows(t *testing.T) {
	src, err := mysqlSource("app:secret@tcp(localhost:3306)/shop")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(src, "app:secret@tcp(localhost:3306)/shop?"), src)
	assert.Contains(t, src, "clientFoundRows=true")

	src, err = mysqlSource("app@tcp(localhost:3306)/shop?clientFoundRows=false&parseTime=true")
	require.NoError(t, err)
	assert.Contains(t, src, "clientFoundRows=true")
	assert.Contains(t, src, "parseTime=true")

	_, err = Open("mysql", "no-database-name")
	assert.Error(t, err)
	drv, err := Open("mysql", "app@tcp(localhost:3306)/shop")
	require.NoError(t, err)
	assert.Equal(t, dialect.MySQL, drv.Dialect())
	assert.NoError(t, drv.Close())
}

func TestOpenDB(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		dialect string
	}{
		{"Postgres", "postgres", dialect.Postgres},
		{"PGX", "pgx", dialect.Postgres},
		{"MySQL", "mysql", dialect.MySQL},
		{"SQLite", "sqlite", dialect.SQLite},
		{"SQLite3", "sqlite3", dialect.SQLite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, _, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			drv := OpenDB(tt.driver, db)
			assert.Equal(t, tt.dialect, drv.Dialect())
			assert.Same(t, db, drv.DB())
		})
	}
}

func TestExecuteBatchPostgresReturning(t *testing.T) {
	drv, mock := mockDriver(t, dialect.Postgres)
	m := shop(t)
	c, err := m.Add(model.NewBag("Customer", map[string]any{"Name": "ada"}))
	require.NoError(t, err)
	o, err := m.Add(model.NewBag("Order", nil))
	require.NoError(t, err)
	require.NoError(t, o.SetReference("Customer", c))

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "customers" ("name") VALUES ($1) RETURNING "id", "version"`).
		WithArgs("ada").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version"}).AddRow(int64(1), []byte("v1")))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "orders" ("customer_id") VALUES ($1) RETURNING "id"`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectCommit()

	n, err := save(context.Background(), drv, m)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, tracker.Unchanged, c.State())
	assert.Equal(t, []any{int64(1)}, c.KeyValues())
	v, err := c.Value("Version")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)
	assert.Equal(t, []any{int64(10)}, o.KeyValues())
}

func TestExecuteBatchMySQLLastInsertID(t *testing.T) {
	drv, mock := mockDriver(t, dialect.MySQL)
	m := shop(t)
	c, err := m.Add(model.NewBag("Customer", map[string]any{"Name": "ada"}))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `customers` (`name`) VALUES (?)").
		WithArgs("ada").
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectQuery("SELECT `version` FROM `customers` WHERE `id` = ?").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow([]byte("v1")))
	mock.ExpectCommit()

	_, err = save(context.Background(), drv, m)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []any{int64(7)}, c.KeyValues())
	v, err := c.Value("Version")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)
}

func TestExecuteBatchUpdateAndDelete(t *testing.T) {
	drv, mock := mockDriver(t, dialect.SQLite)
	m := shop(t)
	c, err := m.Attach(model.NewBag("Customer", map[string]any{"ID": int64(1), "Name": "a", "Version": []byte("v0")}))
	require.NoError(t, err)
	require.NoError(t, c.SetValue("Name", "b"))
	gone, err := m.Attach(model.NewBag("Customer", map[string]any{"ID": int64(2), "Name": "x"}))
	require.NoError(t, err)
	require.NoError(t, gone.SetState(tracker.Deleted))

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE "customers" SET "name" = ? WHERE "id" = ? AND "version" = ? RETURNING "version"`).
		WithArgs("b", int64(1), []byte("v0")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow([]byte("v1")))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "customers" WHERE "id" = ? AND "version" IS NULL`).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := save(context.Background(), drv, m)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, tracker.Detached, gone.State())
}

func TestExecuteBatchConflictRollsBack(t *testing.T) {
	drv, mock := mockDriver(t, dialect.Postgres)
	m := shop(t)
	c, err := m.Attach(model.NewBag("Customer", map[string]any{"ID": int64(1), "Name": "a", "Version": []byte("v0")}))
	require.NoError(t, err)
	require.NoError(t, c.SetValue("Name", "b"))

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE "customers" SET "name" = $1 WHERE "id" = $2 AND "version" = $3 RETURNING "version"`).
		WithArgs("b", int64(1), []byte("v0")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectRollback()

	_, err = save(context.Background(), drv, m)
	require.Error(t, err)
	assert.True(t, tracker.IsConcurrencyError(err))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, tracker.Modified, c.State())
}

func TestExecuteBatchStopsAtFailure(t *testing.T) {
	drv, mock := mockDriver(t, dialect.SQLite)
	m := shop(t)
	for _, id := range []int64{1, 2, 3} {
		e, err := m.Attach(model.NewBag("Order", map[string]any{"ID": id, "CustomerID": int64(9)}))
		require.NoError(t, err)
		require.NoError(t, e.SetState(tracker.Deleted))
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "orders" WHERE "id" = ?`).WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "orders" WHERE "id" = ?`).WithArgs(int64(2)).WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err := save(context.Background(), drv, m)
	require.Error(t, err)
	var uerr *tracker.UpdateError
	require.ErrorAs(t, err, &uerr)
	require.Len(t, uerr.Entries, 1)
	assert.Equal(t, []any{int64(2)}, uerr.Entries[0].KeyValues())
	assert.False(t, tracker.IsConstraintError(err))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 3, m.ChangedCount(), "rolled back batch keeps every entry pending")
}

func TestExecuteBatchRollbackFailure(t *testing.T) {
	drv, mock := mockDriver(t, dialect.SQLite)
	m := shop(t)
	e, err := m.Attach(model.NewBag("Order", map[string]any{"ID": int64(1), "CustomerID": int64(9)}))
	require.NoError(t, err)
	require.NoError(t, e.SetState(tracker.Deleted))

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "orders" WHERE "id" = ?`).WithArgs(int64(1)).WillReturnError(errors.New("boom"))
	mock.ExpectRollback().WillReturnError(errors.New("connection lost"))

	_, err = save(context.Background(), drv, m)
	var rerr *tracker.RollbackError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorContains(t, err, "connection lost")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteBatchConstraintError(t *testing.T) {
	drv, mock := mockDriver(t, dialect.Postgres)
	m := shop(t)
	_, err := m.Add(model.NewBag("Customer", map[string]any{"Name": "ada"}))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "customers" ("name") VALUES ($1) RETURNING "id", "version"`).
		WithArgs("ada").
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "customers_name_key"`))
	mock.ExpectRollback()

	_, err = save(context.Background(), drv, m)
	require.Error(t, err)
	assert.True(t, tracker.IsConstraintError(err))
	assert.True(t, tracker.IsUpdateError(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteBatchExternalTx(t *testing.T) {
	drv, mock := mockDriver(t, dialect.Postgres)
	m := shop(t)
	c, err := m.Add(model.NewBag("Customer", map[string]any{"Name": "ada"}))
	require.NoError(t, err)
	stale, err := m.Attach(model.NewBag("Order", map[string]any{"ID": int64(5), "CustomerID": int64(1)}))
	require.NoError(t, err)
	require.NoError(t, stale.SetState(tracker.Deleted))

	mock.ExpectBegin()
	tx, err := drv.DB().Begin()
	require.NoError(t, err)
	mock.ExpectQuery(`INSERT INTO "customers" ("name") VALUES ($1) RETURNING "id", "version"`).
		WithArgs("ada").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version"}).AddRow(int64(1), []byte("v1")))
	mock.ExpectExec(`DELETE FROM "orders" WHERE "id" = $1`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = save(context.Background(), drv.WithTx(tx), m)
	require.True(t, tracker.IsConcurrencyError(err))
	assert.Equal(t, tracker.Unchanged, c.State(), "batches before the conflict are accepted")
	assert.Equal(t, tracker.Deleted, stale.State())

	mock.ExpectRollback()
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithVars(t *testing.T) {
	ctx := WithVar(context.Background(), "app.tenant", "acme")
	v, ok := VarFromContext(ctx, "app.tenant")
	require.True(t, ok)
	assert.Equal(t, "acme", v)
	v, _ = VarFromContext(WithVar(ctx, "app.tenant", "other"), "app.tenant")
	assert.Equal(t, "other", v)
	_, ok = VarFromContext(ctx, "missing")
	assert.False(t, ok)
	v, _ = VarFromContext(WithIntVar(ctx, "app.level", 3), "app.level")
	assert.Equal(t, "3", v)
}

func TestWithVarsPostgres(t *testing.T) {
	drv, mock := mockDriver(t, dialect.Postgres)
	m := shop(t)
	e, err := m.Attach(model.NewBag("Order", map[string]any{"ID": int64(1), "CustomerID": int64(9)}))
	require.NoError(t, err)
	require.NoError(t, e.SetState(tracker.Deleted))

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL app.tenant = 'it''s'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM "orders" WHERE "id" = $1`).WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err = save(WithVar(context.Background(), "app.tenant", "it's"), drv, m)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithVarsMySQL(t *testing.T) {
	drv, mock := mockDriver(t, dialect.MySQL)
	m := shop(t)
	e, err := m.Attach(model.NewBag("Order", map[string]any{"ID": int64(1), "CustomerID": int64(9)}))
	require.NoError(t, err)
	require.NoError(t, e.SetState(tracker.Deleted))

	mock.ExpectBegin()
	mock.ExpectExec("SET foo = 'bar'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET foo = 'baz'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM `orders` WHERE `id` = ?").WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET foo = NULL").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ctx := WithVar(WithVar(context.Background(), "foo", "bar"), "foo", "baz")
	_, err = save(ctx, drv, m)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithVarsRejected(t *testing.T) {
	tests := []struct {
		name    string
		dialect string
		ctx     context.Context
		msg     string
	}{
		{"InvalidIdentifier", dialect.Postgres, WithVar(context.Background(), "foo; DROP TABLE users; --", "bar"), "invalid session variable name"},
		{"SQLite", dialect.SQLite, WithVar(context.Background(), "foo", "bar"), "not supported by sqlite"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv, mock := mockDriver(t, tt.dialect)
			m := shop(t)
			e, err := m.Attach(model.NewBag("Order", map[string]any{"ID": int64(1), "CustomerID": int64(9)}))
			require.NoError(t, err)
			require.NoError(t, e.SetState(tracker.Deleted))

			mock.ExpectBegin()
			mock.ExpectRollback()
			_, err = save(tt.ctx, drv, m)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestIsValidIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"valid_simple", "foo", true},
		{"valid_with_underscore", "foo_bar", true},
		{"valid_with_number", "foo123", true},
		{"valid_with_dot", "app.tenant", true},
		{"valid_starting_underscore", "_private", true},
		{"invalid_empty", "", false},
		{"invalid_starting_number", "123foo", false},
		{"invalid_with_space", "foo bar", false},
		{"invalid_with_quote", "foo'bar", false},
		{"invalid_with_semicolon", "foo;DROP TABLE", false},
		{"invalid_too_long", string(make([]byte, 129)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isValidIdentifier(tt.input))
		})
	}
}

func TestEscapeStringValue(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"no_escaping_needed", "hello", "hello"},
		{"single_quote", "it's", "it''s"},
		{"backslash", `path\to\file`, `path\\to\\file`},
		{"both_quote_and_backslash", `it's a \test`, `it''s a \\test`},
		{"empty_string", "", ""},
		{"sql_injection_attempt", "'; DROP TABLE users; --", "''; DROP TABLE users; --"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, escapeStringValue(tt.input))
		})
	}
}
