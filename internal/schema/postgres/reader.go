package postgres

import (
	"context"
	"fmt"

	"github.com/askdb/askdb/internal/schema"
)

// Reader lists tables and columns through information_schema.
type Reader struct{}

func NewReader() Reader {
	return Reader{}
}

func (Reader) ReadCatalog(ctx context.Context, q schema.Queryer, schemaName string) ([]schema.Table, error) {
	tableRows, err := q.QueryContext(ctx, `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`, schemaName)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = tableRows.Close() }()

	tables := make([]schema.Table, 0)
	index := map[string]int{}
	for tableRows.Next() {
		var name string
		if err := tableRows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		index[name] = len(tables)
		tables = append(tables, schema.Table{Name: name, Columns: []schema.Column{}})
	}
	if err := tableRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table rows: %w", err)
	}
	if len(tables) == 0 {
		return tables, nil
	}

	columnRows, err := q.QueryContext(ctx, `
SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`, schemaName)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = columnRows.Close() }()

	for columnRows.Next() {
		var tableName string
		var column schema.Column
		if err := columnRows.Scan(&tableName, &column.Name, &column.DataType); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		// Views also appear in information_schema.columns.
		pos, ok := index[tableName]
		if !ok {
			continue
		}
		tables[pos].Columns = append(tables[pos].Columns, column)
	}
	if err := columnRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}
	return tables, nil
}
