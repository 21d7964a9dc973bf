package api

import (
	"context"
	"time"

	"github.com/askdb/askdb/internal/archive"
	"github.com/askdb/askdb/internal/dialogue"
	"github.com/askdb/askdb/internal/registry"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/storage"
)

type fakePipeline struct {
	response dialogue.Response
	err      error
	view     dialogue.View
	requests []dialogue.Request
}

func (f *fakePipeline) ProcessQuery(_ context.Context, req dialogue.Request) (dialogue.Response, error) {
	f.requests = append(f.requests, req)
	return f.response, f.err
}

func (f *fakePipeline) Conversation(_ context.Context, userID, _, databaseID string) (dialogue.View, error) {
	if userID != "user-1" || databaseID != "db-1" {
		return dialogue.View{}, registry.ErrNotFound
	}
	return f.view, f.err
}

type fakeDatabases struct {
	conns map[string]registry.DatabaseConnection
	stats registry.QueryStats
}

func newFakeDatabases() *fakeDatabases {
	return &fakeDatabases{conns: map[string]registry.DatabaseConnection{
		"db-1": {ID: "db-1", UserID: "user-1", Name: "shop", Role: registry.RoleOwner},
	}}
}

func (f *fakeDatabases) GetDatabase(_ context.Context, userID, databaseID string) (registry.DatabaseConnection, error) {
	conn, ok := f.conns[databaseID]
	if !ok || conn.UserID != userID {
		return registry.DatabaseConnection{}, registry.ErrNotFound
	}
	return conn, nil
}

func (f *fakeDatabases) QueryStats(_ context.Context, databaseID string, _ time.Time) (registry.QueryStats, error) {
	stats := f.stats
	stats.DatabaseID = databaseID
	return stats, nil
}

func (f *fakeDatabases) HealthCheck(context.Context) error { return nil }

type fakeSchemas struct {
	snapshot schema.Snapshot
	err      error
	evicted  []string
}

func (f *fakeSchemas) GetSchema(context.Context, registry.DatabaseConnection) (schema.Snapshot, error) {
	return f.snapshot, f.err
}

func (f *fakeSchemas) Evict(databaseID string) {
	f.evicted = append(f.evicted, databaseID)
}

type fakePools struct {
	forgotten []string
}

func (f *fakePools) Forget(databaseID string) {
	f.forgotten = append(f.forgotten, databaseID)
}

type fakeResults struct {
	records map[string]archive.Record
}

func (f *fakeResults) Load(_ context.Context, _ registry.DatabaseConnection, resultID string) (archive.Record, error) {
	record, ok := f.records[resultID]
	if !ok {
		return archive.Record{}, storage.ErrObjectNotFound
	}
	return record, nil
}
