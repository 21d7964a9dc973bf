package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/registry"
)

// Connector hands out a live pool for a registered database.
type Connector interface {
	DB(ctx context.Context, conn registry.DatabaseConnection) (*sql.DB, error)
}

// Engine runs statements through database/sql. Registrations without the
// owner role run inside a read-only transaction.
type Engine struct {
	connector Connector
}

func NewEngine(connector Connector) *Engine {
	return &Engine{connector: connector}
}

func (e *Engine) Run(ctx context.Context, request query.Request) (query.Rows, error) {
	sqlText := PrepareSQL(request.SQL, request.RowLimit)
	if sqlText == "" {
		return query.Rows{}, fmt.Errorf("sql is required")
	}

	db, err := e.connector.DB(ctx, request.Connection)
	if err != nil {
		return query.Rows{}, err
	}

	if !request.Connection.ReadOnly() {
		return collect(db.QueryContext(ctx, sqlText))
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return query.Rows{}, fmt.Errorf("begin read-only tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := collect(tx.QueryContext(ctx, sqlText))
	if err != nil {
		return query.Rows{}, err
	}
	if err := tx.Commit(); err != nil {
		return query.Rows{}, fmt.Errorf("commit read-only tx: %w", err)
	}
	return result, nil
}

func collect(rows *sql.Rows, err error) (query.Rows, error) {
	if err != nil {
		return query.Rows{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Rows{}, fmt.Errorf("query columns: %w", err)
	}

	values := make([][]any, 0)
	for rows.Next() {
		row := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range row {
			scanTargets[i] = &row[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Rows{}, fmt.Errorf("scan row: %w", err)
		}
		values = append(values, normalizeValues(row))
	}
	if err := rows.Err(); err != nil {
		return query.Rows{}, fmt.Errorf("iterate rows: %w", err)
	}
	return query.Rows{Columns: columns, Values: values}, nil
}

// PrepareSQL strips trailing semicolons and, for SELECT and WITH statements,
// caps the result at rowLimit rows.
func PrepareSQL(sqlText string, rowLimit int) string {
	sqlText = query.TrimStatement(sqlText)
	if sqlText == "" || rowLimit <= 0 {
		return sqlText
	}
	fields := strings.Fields(sqlText)
	switch strings.ToLower(fields[0]) {
	case "select", "with":
		return fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, rowLimit)
	default:
		return sqlText
	}
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
