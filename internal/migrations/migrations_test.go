package migrations

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestLoadMigrationsSortsAndPairsUpDown(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000002_query_logs.up.sql":   {Data: []byte("SELECT 2;")},
		"sql/000002_query_logs.down.sql": {Data: []byte("SELECT -2;")},
		"sql/000001_registry.up.sql":     {Data: []byte("SELECT 1;")},
		"sql/000001_registry.down.sql":   {Data: []byte("SELECT -1;")},
		"sql/README.md":                  {Data: []byte("ignored")},
	}

	items, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d", len(items))
	}
	if items[0].Version != 1 || items[0].Name != "registry" || items[1].Version != 2 {
		t.Fatalf("unexpected migration order: %+v", items)
	}
	if items[1].DownSQL != "SELECT -2;" {
		t.Fatalf("down sql = %q", items[1].DownSQL)
	}
}

func TestLoadMigrationsErrorsWhenDownMissing(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_registry.up.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := loadMigrations(fsys)
	if err == nil {
		t.Fatal("expected error for missing down migration")
	}
	if !strings.Contains(err.Error(), "missing down SQL") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadMigrationsRejectsConflictingNames(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_registry.up.sql": {Data: []byte("SELECT 1;")},
		"sql/000001_other.down.sql":  {Data: []byte("SELECT -1;")},
	}
	if _, err := loadMigrations(fsys); err == nil || !strings.Contains(err.Error(), "conflicting names") {
		t.Fatalf("err = %v", err)
	}
}

func testRunner() *Runner {
	return &Runner{source: fstest.MapFS{
		"sql/000001_registry.up.sql":     {Data: []byte("CREATE TABLE databases (id TEXT)")},
		"sql/000001_registry.down.sql":   {Data: []byte("DROP TABLE databases")},
		"sql/000002_query_logs.up.sql":   {Data: []byte("CREATE TABLE query_logs (id TEXT)")},
		"sql/000002_query_logs.down.sql": {Data: []byte("DROP TABLE query_logs")},
	}}
}

func TestUpAppliesOnlyPendingMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS askdb_schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM askdb_schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE query_logs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO askdb_schema_migrations").WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := testRunner().Up(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied = %d", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownRollsBackNewestFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS askdb_schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM askdb_schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)).AddRow(int64(2)))
	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE query_logs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM askdb_schema_migrations").WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rolledBack, err := testRunner().Down(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if rolledBack != 1 {
		t.Fatalf("rolled back = %d", rolledBack)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStatusRejectsUnknownAppliedVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS askdb_schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM askdb_schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(9)))

	if _, err := testRunner().Status(context.Background(), db); err == nil || !strings.Contains(err.Error(), "missing from source") {
		t.Fatalf("err = %v", err)
	}
}

func TestStatusListsAppliedAndPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS askdb_schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM askdb_schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)))

	statuses, err := testRunner().Status(context.Background(), db)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	want := []Status{{Version: 1, Name: "registry", Applied: true}, {Version: 2, Name: "query_logs"}}
	if len(statuses) != len(want) || statuses[0] != want[0] || statuses[1] != want[1] {
		t.Fatalf("statuses = %+v", statuses)
	}
}
