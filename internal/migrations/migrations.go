// Package migrations owns the registry database schema: the databases users
// register and the log of queries executed against them.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const versionTable = "askdb_schema_migrations"

var fileNamePattern = regexp.MustCompile(`^([0-9]+)_([a-z0-9_]+)\.(up|down)\.sql$`)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// Status reports whether one embedded migration has been applied.
type Status struct {
	Version int64
	Name    string
	Applied bool
}

type Runner struct {
	source fs.FS
}

func NewRunner() *Runner {
	return &Runner{source: embeddedFS}
}

// Up applies pending migrations in version order. steps <= 0 applies all.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	pending, _, err := r.plan(ctx, db)
	if err != nil {
		return 0, err
	}
	if steps > 0 && len(pending) > steps {
		pending = pending[:steps]
	}
	for i, item := range pending {
		if err := runStep(ctx, db, item.Version, item.UpSQL, true); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

// Down rolls back the newest applied migrations. steps <= 0 rolls back one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	_, applied, err := r.plan(ctx, db)
	if err != nil {
		return 0, err
	}
	slices.Reverse(applied)
	if len(applied) > steps {
		applied = applied[:steps]
	}
	for i, item := range applied {
		if err := runStep(ctx, db, item.Version, item.DownSQL, false); err != nil {
			return i, err
		}
	}
	return len(applied), nil
}

func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]Status, error) {
	pending, applied, err := r.plan(ctx, db)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(pending)+len(applied))
	for _, item := range applied {
		out = append(out, Status{Version: item.Version, Name: item.Name, Applied: true})
	}
	for _, item := range pending {
		out = append(out, Status{Version: item.Version, Name: item.Name})
	}
	slices.SortFunc(out, func(a, b Status) int { return int(a.Version - b.Version) })
	return out, nil
}

// plan splits the embedded migrations into pending and applied, both in
// ascending version order.
func (r *Runner) plan(ctx context.Context, db *sql.DB) (pending, applied []migration, err error) {
	all, err := loadMigrations(r.source)
	if err != nil {
		return nil, nil, err
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+versionTable+` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return nil, nil, fmt.Errorf("ensure migration table: %w", err)
	}
	done, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, nil, err
	}

	known := make(map[int64]bool, len(all))
	for _, item := range all {
		known[item.Version] = true
		if done[item.Version] {
			applied = append(applied, item)
		} else {
			pending = append(pending, item)
		}
	}
	for version := range done {
		if !known[version] {
			return nil, nil, fmt.Errorf("applied migration %d is missing from source", version)
		}
	}
	return pending, applied, nil
}

func runStep(ctx context.Context, db *sql.DB, version int64, script string, up bool) error {
	verb, bookkeeping := "apply", `INSERT INTO `+versionTable+` (version) VALUES ($1)`
	if !up {
		verb, bookkeeping = "rollback", `DELETE FROM `+versionTable+` WHERE version = $1`
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s %d: %w", verb, version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("%s migration %d: %w", verb, version, err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, version); err != nil {
		return fmt.Errorf("record %s of migration %d: %w", verb, version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s %d: %w", verb, version, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int64]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM `+versionTable)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	done := map[int64]bool{}
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		done[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read applied versions: %w", err)
	}
	return done, nil
}

// loadMigrations pairs NNN_name.up.sql with NNN_name.down.sql. Both halves
// are required so every migration can be rolled back.
func loadMigrations(source fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(source, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]*migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		parts := fileNamePattern.FindStringSubmatch(entry.Name())
		if parts == nil {
			continue
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version for %q: %w", entry.Name(), err)
		}
		body, err := fs.ReadFile(source, "sql/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		item, ok := byVersion[version]
		if !ok {
			item = &migration{Version: version, Name: parts[2]}
			byVersion[version] = item
		} else if item.Name != parts[2] {
			return nil, fmt.Errorf("migration %d has conflicting names %q and %q", version, item.Name, parts[2])
		}
		if parts[3] == "up" {
			item.UpSQL = string(body)
		} else {
			item.DownSQL = string(body)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, item := range byVersion {
		if strings.TrimSpace(item.UpSQL) == "" {
			return nil, fmt.Errorf("migration %d missing up SQL", item.Version)
		}
		if strings.TrimSpace(item.DownSQL) == "" {
			return nil, fmt.Errorf("migration %d missing down SQL", item.Version)
		}
		out = append(out, *item)
	}
	slices.SortFunc(out, func(a, b migration) int { return int(a.Version - b.Version) })
	return out, nil
}
