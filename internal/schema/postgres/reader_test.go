package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

const (
	listTablesQuery = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`
	listColumnsQuery = `
SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`
)

func TestReadCatalogGroupsColumnsInOrder(t *testing.T) {
	db, mock := newSQLMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(listTablesQuery)).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).
			AddRow("customers").
			AddRow("orders"))
	mock.ExpectQuery(regexp.QuoteMeta(listColumnsQuery)).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type"}).
			AddRow("customer_summary", "total", "numeric").
			AddRow("customers", "id", "integer").
			AddRow("customers", "name", "text").
			AddRow("orders", "id", "integer").
			AddRow("orders", "customer_id", "integer"))

	tables, err := NewReader().ReadCatalog(context.Background(), db, "public")
	if err != nil {
		t.Fatalf("ReadCatalog() error = %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("len(tables) = %d", len(tables))
	}
	if tables[0].Name != "customers" || len(tables[0].Columns) != 2 {
		t.Fatalf("customers = %+v", tables[0])
	}
	if tables[1].Columns[1].Name != "customer_id" || tables[1].Columns[1].DataType != "integer" {
		t.Fatalf("orders columns = %+v", tables[1].Columns)
	}
	assertSQLMock(t, mock)
}

func TestReadCatalogEmptySchemaSkipsColumnQuery(t *testing.T) {
	db, mock := newSQLMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(listTablesQuery)).
		WithArgs("empty").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}))

	tables, err := NewReader().ReadCatalog(context.Background(), db, "empty")
	if err != nil {
		t.Fatalf("ReadCatalog() error = %v", err)
	}
	if len(tables) != 0 {
		t.Fatalf("tables = %+v", tables)
	}
	assertSQLMock(t, mock)
}

func TestReadCatalogPropagatesQueryError(t *testing.T) {
	db, mock := newSQLMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(listTablesQuery)).
		WithArgs("public").
		WillReturnError(errors.New("permission denied for schema public"))

	if _, err := NewReader().ReadCatalog(context.Background(), db, "public"); err == nil {
		t.Fatal("expected error")
	}
	assertSQLMock(t, mock)
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
