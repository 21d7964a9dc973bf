package registry

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("registry: not found")

// Role is the access level a user holds on a registered database.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleReadOnly Role = "read-only"
)

// FrequencyDays is the width of the query frequency histogram.
const FrequencyDays = 7

type Repository interface {
	HealthCheck(ctx context.Context) error
	GetDatabase(ctx context.Context, userID, databaseID string) (DatabaseConnection, error)
	RecordQueryLog(ctx context.Context, in RecordQueryLogInput) error
	QueryStats(ctx context.Context, databaseID string, now time.Time) (QueryStats, error)
}

// DatabaseConnection is a database registered by a user. The pipeline only
// reads it.
type DatabaseConnection struct {
	ID            string
	UserID        string
	Name          string
	ConnectionURI string
	Role          Role
	CreatedAt     time.Time
}

func (c DatabaseConnection) ReadOnly() bool {
	return c.Role != RoleOwner
}

type RecordQueryLogInput struct {
	DatabaseID   string
	UserID       string
	Success      bool
	ResponseTime time.Duration
	ExecutedAt   time.Time
}

type QueryStats struct {
	DatabaseID      string
	TotalQueries    int64
	SuccessRate     float64
	AvgResponseTime time.Duration
	LastQueriedAt   *time.Time
	// Frequency counts queries per day, oldest first; the last bucket is today.
	Frequency [FrequencyDays]int64
}

// BucketFrequency places each execution time into a day bucket relative to now.
// Executions older than FrequencyDays days or in the future are ignored.
func BucketFrequency(now time.Time, executedAt []time.Time) [FrequencyDays]int64 {
	var buckets [FrequencyDays]int64
	for _, ts := range executedAt {
		if ts.After(now) {
			continue
		}
		days := int(now.Sub(ts) / (24 * time.Hour))
		if days >= FrequencyDays {
			continue
		}
		buckets[FrequencyDays-1-days]++
	}
	return buckets
}
