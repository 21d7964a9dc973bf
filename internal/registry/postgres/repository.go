package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/askdb/askdb/internal/registry"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping registry db: %w", err)
	}
	return nil
}

// GetDatabase returns the registration only when it belongs to userID.
func (r *Repository) GetDatabase(ctx context.Context, userID, databaseID string) (registry.DatabaseConnection, error) {
	query := `
SELECT id, user_id, database_name, connection_uri, role, created_at
FROM databases
WHERE id = $1 AND user_id = $2`

	var (
		conn registry.DatabaseConnection
		role string
	)
	if err := r.db.QueryRowContext(ctx, query, databaseID, userID).Scan(
		&conn.ID,
		&conn.UserID,
		&conn.Name,
		&conn.ConnectionURI,
		&role,
		&conn.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.DatabaseConnection{}, registry.ErrNotFound
		}
		return registry.DatabaseConnection{}, fmt.Errorf("get database: %w", err)
	}
	conn.Role = registry.Role(role)
	return conn, nil
}

func (r *Repository) RecordQueryLog(ctx context.Context, in registry.RecordQueryLogInput) error {
	executedAt := in.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}
	if _, err := r.db.ExecContext(ctx, `
INSERT INTO query_logs (database_id, user_id, success, response_time_ms, executed_at)
VALUES ($1, $2, $3, $4, $5)`,
		in.DatabaseID,
		in.UserID,
		in.Success,
		in.ResponseTime.Milliseconds(),
		executedAt,
	); err != nil {
		return fmt.Errorf("record query log: %w", err)
	}
	return nil
}

func (r *Repository) QueryStats(ctx context.Context, databaseID string, now time.Time) (registry.QueryStats, error) {
	stats := registry.QueryStats{DatabaseID: databaseID}

	var (
		successful int64
		avgMs      float64
		lastAt     sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, `
SELECT
    COUNT(*) AS total_queries,
    COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS successful_queries,
    COALESCE(AVG(response_time_ms), 0) AS avg_response_time_ms,
    MAX(executed_at) AS last_queried_at
FROM query_logs
WHERE database_id = $1`, databaseID).Scan(
		&stats.TotalQueries,
		&successful,
		&avgMs,
		&lastAt,
	); err != nil {
		return registry.QueryStats{}, fmt.Errorf("query log counters: %w", err)
	}
	if stats.TotalQueries > 0 {
		stats.SuccessRate = float64(successful) / float64(stats.TotalQueries) * 100
	}
	stats.AvgResponseTime = time.Duration(avgMs * float64(time.Millisecond))
	if lastAt.Valid {
		ts := lastAt.Time
		stats.LastQueriedAt = &ts
	}

	since := now.Add(-registry.FrequencyDays * 24 * time.Hour)
	rows, err := r.db.QueryContext(ctx, `
SELECT executed_at
FROM query_logs
WHERE database_id = $1 AND executed_at >= $2`, databaseID, since)
	if err != nil {
		return registry.QueryStats{}, fmt.Errorf("query log frequency: %w", err)
	}
	defer func() { _ = rows.Close() }()

	executedAt := make([]time.Time, 0)
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return registry.QueryStats{}, fmt.Errorf("scan query log row: %w", err)
		}
		executedAt = append(executedAt, ts)
	}
	if err := rows.Err(); err != nil {
		return registry.QueryStats{}, fmt.Errorf("iterate query log rows: %w", err)
	}
	stats.Frequency = registry.BucketFrequency(now, executedAt)
	return stats, nil
}
