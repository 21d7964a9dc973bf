package targetdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/askdb/askdb/internal/registry"
)

var ErrMissingConnectionURI = errors.New("targetdb: connection descriptor is required")

// OpenFunc matches sql.Open.
type OpenFunc func(driverName, dataSourceName string) (*sql.DB, error)

type Config struct {
	DriverName      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
	Open            OpenFunc
}

// Manager keeps one pool per registered database and reopens it when the
// registration's connection descriptor changes.
type Manager struct {
	cfg Config

	mu    sync.Mutex
	pools map[string]pool
}

type pool struct {
	uri string
	db  *sql.DB
}

func NewManager(cfg Config) *Manager {
	if cfg.DriverName == "" {
		cfg.DriverName = "pgx"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.Open == nil {
		cfg.Open = sql.Open
	}
	return &Manager{cfg: cfg, pools: map[string]pool{}}
}

func (m *Manager) DB(ctx context.Context, conn registry.DatabaseConnection) (*sql.DB, error) {
	if conn.ConnectionURI == "" {
		return nil, ErrMissingConnectionURI
	}

	m.mu.Lock()
	existing, ok := m.pools[conn.ID]
	m.mu.Unlock()
	if ok && existing.uri == conn.ConnectionURI {
		return existing.db, nil
	}

	db, err := m.open(ctx, conn.ConnectionURI)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.pools[conn.ID]
	if ok && current.uri == conn.ConnectionURI {
		// Another caller installed the same pool first.
		_ = db.Close()
		return current.db, nil
	}
	if ok {
		_ = current.db.Close()
	}
	m.pools[conn.ID] = pool{uri: conn.ConnectionURI, db: db}
	return db, nil
}

func (m *Manager) open(ctx context.Context, uri string) (*sql.DB, error) {
	db, err := m.cfg.Open(m.cfg.DriverName, uri)
	if err != nil {
		return nil, fmt.Errorf("open target db: %w", err)
	}
	if m.cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(m.cfg.MaxOpenConns)
	}
	if m.cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(m.cfg.MaxIdleConns)
	}
	if m.cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(m.cfg.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping target db: %w", err)
	}
	return db, nil
}

// Forget closes and drops the pool for databaseID, if any.
func (m *Manager) Forget(databaseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.pools[databaseID]; ok {
		_ = current.db.Close()
		delete(m.pools, databaseID)
	}
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for id, current := range m.pools {
		if err := current.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close target db %s: %w", id, err))
		}
		delete(m.pools, id)
	}
	return errors.Join(errs...)
}
