package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/registry"
)

type staticConnector struct {
	db  *sql.DB
	err error
}

func (s staticConnector) DB(context.Context, registry.DatabaseConnection) (*sql.DB, error) {
	return s.db, s.err
}

func TestRunOwnerQueriesDirectlyWithRowLimit(t *testing.T) {
	db, mock := newSQLMock(t)
	engine := NewEngine(staticConnector{db: db})

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM (SELECT name FROM users) AS q LIMIT 10`)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow([]byte("ada")).AddRow("alan"))

	rows, err := engine.Run(context.Background(), query.Request{
		Connection: registry.DatabaseConnection{ID: "db-1", Role: registry.RoleOwner},
		SQL:        "SELECT name FROM users;",
		RowLimit:   10,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(rows.Values) != 2 || rows.Values[0][0] != "ada" {
		t.Fatalf("rows = %#v", rows.Values)
	}
	if rows.Columns[0] != "name" {
		t.Fatalf("columns = %v", rows.Columns)
	}
	assertSQLMock(t, mock)
}

func TestRunReadOnlyRoleUsesTransaction(t *testing.T) {
	db, mock := newSQLMock(t)
	engine := NewEngine(staticConnector{db: db})

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM orders`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectCommit()

	rows, err := engine.Run(context.Background(), query.Request{
		Connection: registry.DatabaseConnection{ID: "db-1", Role: registry.RoleReadOnly},
		SQL:        "SELECT count(*) FROM orders",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rows.Values[0][0] != int64(3) {
		t.Fatalf("rows = %#v", rows.Values)
	}
	assertSQLMock(t, mock)
}

func TestRunReadOnlyRoleRollsBackOnError(t *testing.T) {
	db, mock := newSQLMock(t)
	engine := NewEngine(staticConnector{db: db})

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`DELETE FROM orders`)).
		WillReturnError(errors.New("cannot execute DELETE in a read-only transaction"))
	mock.ExpectRollback()

	_, err := engine.Run(context.Background(), query.Request{
		Connection: registry.DatabaseConnection{ID: "db-1", Role: registry.RoleReadOnly},
		SQL:        "DELETE FROM orders",
		RowLimit:   10,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	assertSQLMock(t, mock)
}

func TestRunPropagatesConnectorError(t *testing.T) {
	engine := NewEngine(staticConnector{err: errors.New("dial tcp: refused")})
	_, err := engine.Run(context.Background(), query.Request{SQL: "SELECT 1"})
	if err == nil || err.Error() != "dial tcp: refused" {
		t.Fatalf("error = %v", err)
	}
}

func TestPrepareSQL(t *testing.T) {
	tests := []struct {
		sql   string
		limit int
		want  string
	}{
		{sql: "SELECT 1;;", limit: 0, want: "SELECT 1"},
		{sql: "select * from t;", limit: 5, want: "SELECT * FROM (select * from t) AS q LIMIT 5"},
		{sql: "WITH x AS (SELECT 1) SELECT * FROM x", limit: 5, want: "SELECT * FROM (WITH x AS (SELECT 1) SELECT * FROM x) AS q LIMIT 5"},
		{sql: "UPDATE t SET a = 1;", limit: 5, want: "UPDATE t SET a = 1"},
		{sql: " ; ", limit: 5, want: ""},
	}
	for _, tc := range tests {
		if got := PrepareSQL(tc.sql, tc.limit); got != tc.want {
			t.Fatalf("PrepareSQL(%q, %d) = %q, want %q", tc.sql, tc.limit, got, tc.want)
		}
	}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
