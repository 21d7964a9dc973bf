package query

import (
	"context"
	"time"

	"github.com/askdb/askdb/internal/registry"
)

type Request struct {
	Connection registry.DatabaseConnection
	SQL        string
	RowLimit   int
}

// Rows is a raw result set as returned by an Engine.
type Rows struct {
	Columns []string
	Values  [][]any
}

// Engine runs one SQL statement against a registered database.
type Engine interface {
	Run(ctx context.Context, request Request) (Rows, error)
}

// Result is an executed query. DuplicateCount is the number of rows that
// repeat an earlier row across every selected column.
type Result struct {
	SQL            string
	Columns        []string
	Rows           [][]any
	DuplicateCount int
	Success        bool
	Duration       time.Duration
}
