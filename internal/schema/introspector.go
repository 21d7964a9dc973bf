package schema

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/registry"
)

const (
	DefaultSchemaName = "public"
	DefaultTimeout    = 30 * time.Second
)

type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Connector hands out a live pool for a registered database.
type Connector interface {
	DB(ctx context.Context, conn registry.DatabaseConnection) (*sql.DB, error)
}

// CatalogReader lists tables and columns of one schema.
type CatalogReader interface {
	ReadCatalog(ctx context.Context, q Queryer, schemaName string) ([]Table, error)
}

type Config struct {
	Connector  Connector
	Reader     CatalogReader
	Cache      Cache
	SchemaName string
	Timeout    time.Duration
	Logger     *slog.Logger
}

type Introspector struct {
	connector  Connector
	reader     CatalogReader
	cache      Cache
	schemaName string
	timeout    time.Duration
	logger     *slog.Logger
	group      singleflight.Group
}

func NewIntrospector(cfg Config) (*Introspector, error) {
	if cfg.Connector == nil {
		return nil, errors.New("schema connector is required")
	}
	if cfg.Reader == nil {
		return nil, errors.New("schema catalog reader is required")
	}
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryCache()
	}
	if cfg.SchemaName == "" {
		cfg.SchemaName = DefaultSchemaName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Introspector{
		connector:  cfg.Connector,
		reader:     cfg.Reader,
		cache:      cfg.Cache,
		schemaName: cfg.SchemaName,
		timeout:    cfg.Timeout,
		logger:     observability.LoggerOrDiscard(cfg.Logger),
	}, nil
}

// GetSchema returns the cached snapshot for conn.ID or introspects the
// database. Concurrent callers for the same uncached id share one
// introspection; failures are never cached.
func (i *Introspector) GetSchema(ctx context.Context, conn registry.DatabaseConnection) (Snapshot, error) {
	if snapshot, ok := i.cache.Get(conn.ID); ok {
		observability.ObserveSchemaCacheLookup(true)
		return snapshot, nil
	}
	observability.ObserveSchemaCacheLookup(false)

	result := i.group.DoChan(conn.ID, func() (any, error) {
		// Another flight may have installed the snapshot while we waited.
		if snapshot, ok := i.cache.Get(conn.ID); ok {
			return snapshot, nil
		}
		// The flight is shared, so one caller going away must not fail the rest.
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.timeout)
		defer cancel()
		return i.introspect(flightCtx, conn)
	})

	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return Snapshot{}, res.Err
		}
		return res.Val.(Snapshot), nil
	}
}

func (i *Introspector) introspect(ctx context.Context, conn registry.DatabaseConnection) (Snapshot, error) {
	started := time.Now()

	db, err := i.connector.DB(ctx, conn)
	if err != nil {
		connErr := &ConnectionError{DatabaseID: conn.ID, Err: err}
		observability.ObserveIntrospection(time.Since(started), connErr)
		i.logger.WarnContext(ctx, "schema introspection connect failed",
			slog.String("database_id", conn.ID),
			slog.String("error", err.Error()),
		)
		return Snapshot{}, connErr
	}

	tables, err := i.reader.ReadCatalog(ctx, db, i.schemaName)
	if err != nil {
		introErr := &IntrospectionError{DatabaseID: conn.ID, Err: err}
		observability.ObserveIntrospection(time.Since(started), introErr)
		i.logger.WarnContext(ctx, "schema introspection failed",
			slog.String("database_id", conn.ID),
			slog.String("error", err.Error()),
		)
		return Snapshot{}, introErr
	}

	snapshot := Snapshot{DatabaseID: conn.ID, Tables: tables}
	i.cache.Put(conn.ID, snapshot)
	observability.ObserveIntrospection(time.Since(started), nil)
	i.logger.InfoContext(ctx, "schema snapshot cached",
		slog.String("database_id", conn.ID),
		slog.Int("tables", len(tables)),
		slog.Duration("elapsed", time.Since(started)),
	)
	return snapshot, nil
}

// Evict drops the cached snapshot so the next GetSchema introspects again.
func (i *Introspector) Evict(databaseID string) {
	i.cache.Evict(databaseID)
}
