package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/registry"
)

type ExecutorConfig struct {
	Engine   Engine
	RowLimit int
	Timeout  time.Duration
	Logger   *slog.Logger
}

type Executor struct {
	engine   Engine
	rowLimit int
	timeout  time.Duration
	logger   *slog.Logger
}

func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Engine == nil {
		return nil, errors.New("query engine is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Executor{
		engine:   cfg.Engine,
		rowLimit: cfg.RowLimit,
		timeout:  cfg.Timeout,
		logger:   observability.LoggerOrDiscard(cfg.Logger),
	}, nil
}

// Execute runs sqlText on conn and counts duplicate rows in the result.
// Duplicates are reported, not treated as a failure.
func (e *Executor) Execute(ctx context.Context, conn registry.DatabaseConnection, sqlText string) (Result, error) {
	sqlText = TrimStatement(sqlText)
	if sqlText == "" {
		return Result{}, &EmptyQueryError{DatabaseID: conn.ID}
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	started := time.Now()
	rows, err := e.engine.Run(runCtx, Request{Connection: conn, SQL: sqlText, RowLimit: e.rowLimit})
	elapsed := time.Since(started)
	if err != nil {
		execErr := &ExecutionError{DatabaseID: conn.ID, SQL: sqlText, Err: err}
		observability.ObserveExecution(elapsed, 0, execErr)
		e.logger.WarnContext(ctx, "query execution failed",
			slog.String("database_id", conn.ID),
			slog.String("error", err.Error()),
		)
		return Result{SQL: sqlText, Duration: elapsed}, execErr
	}

	duplicates := CountDuplicates(rows.Values)
	observability.ObserveExecution(elapsed, duplicates, nil)
	e.logger.InfoContext(ctx, "query executed",
		slog.String("database_id", conn.ID),
		slog.Int("rows", len(rows.Values)),
		slog.Int("duplicates", duplicates),
		slog.Duration("elapsed", elapsed),
	)
	return Result{
		SQL:            sqlText,
		Columns:        rows.Columns,
		Rows:           rows.Values,
		DuplicateCount: duplicates,
		Success:        true,
		Duration:       elapsed,
	}, nil
}

// TrimStatement drops surrounding whitespace and any trailing semicolons, so
// a statement made only of separators is empty.
func TrimStatement(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

// CountDuplicates returns how many rows equal an earlier row in every column.
func CountDuplicates(rows [][]any) int {
	if len(rows) < 2 {
		return 0
	}
	seen := make(map[string]struct{}, len(rows))
	duplicates := 0
	for _, row := range rows {
		key := rowKey(row)
		if _, ok := seen[key]; ok {
			duplicates++
			continue
		}
		seen[key] = struct{}{}
	}
	return duplicates
}

func rowKey(row []any) string {
	if encoded, err := json.Marshal(row); err == nil {
		return string(encoded)
	}
	return fmt.Sprintf("%#v", row)
}
