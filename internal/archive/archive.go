package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/registry"
	"github.com/askdb/askdb/internal/storage"
)

const contentType = "application/json"

// Record is the stored form of a terminal query result, read back by the
// results endpoint for charting.
type Record struct {
	ResultID       string    `json:"result_id"`
	DatabaseID     string    `json:"database_id"`
	SQL            string    `json:"sql"`
	Columns        []string  `json:"columns"`
	Rows           [][]any   `json:"rows"`
	RowCount       int       `json:"row_count"`
	DuplicateCount int       `json:"duplicate_count"`
	CreatedAt      time.Time `json:"created_at"`
}

type Config struct {
	Store  storage.ObjectStore
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

type Archive struct {
	store  storage.ObjectStore
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func New(cfg Config) (*Archive, error) {
	if cfg.Store == nil {
		return nil, errors.New("object store is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Archive{
		store:  cfg.Store,
		logger: observability.LoggerOrDiscard(cfg.Logger),
		now:    cfg.Now,
		newID:  cfg.NewID,
	}, nil
}

// Archive writes result under the owner's prefix and returns its result id.
func (a *Archive) Archive(ctx context.Context, conn registry.DatabaseConnection, result query.Result) (string, error) {
	record := Record{
		ResultID:       a.newID(),
		DatabaseID:     conn.ID,
		SQL:            result.SQL,
		Columns:        result.Columns,
		Rows:           result.Rows,
		RowCount:       len(result.Rows),
		DuplicateCount: result.DuplicateCount,
		CreatedAt:      a.now().UTC(),
	}
	if record.Columns == nil {
		record.Columns = []string{}
	}
	if record.Rows == nil {
		record.Rows = [][]any{}
	}
	resultKey := storage.ResultKey{UserID: conn.UserID, DatabaseID: conn.ID, ResultID: record.ResultID}
	key, err := resultKey.Path()
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	if _, err := a.store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{ContentType: contentType, Metadata: resultKey.Metadata()}); err != nil {
		return "", fmt.Errorf("archive result %s: %w", record.ResultID, err)
	}
	a.logger.DebugContext(ctx, "result archived",
		slog.String("database_id", conn.ID),
		slog.String("result_id", record.ResultID),
		slog.Int("bytes", len(payload)),
	)
	return record.ResultID, nil
}

// Load reads an archived result. Unknown ids return storage.ErrObjectNotFound.
func (a *Archive) Load(ctx context.Context, conn registry.DatabaseConnection, resultID string) (Record, error) {
	key, err := storage.ResultKey{UserID: conn.UserID, DatabaseID: conn.ID, ResultID: resultID}.Path()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", storage.ErrObjectNotFound, err)
	}
	reader, err := a.store.Get(ctx, key)
	if err != nil {
		return Record{}, err
	}
	defer reader.Close()

	var record Record
	if err := json.NewDecoder(reader).Decode(&record); err != nil {
		return Record{}, fmt.Errorf("decode result %s: %w", resultID, err)
	}
	return record, nil
}

func (a *Archive) Ping(ctx context.Context) error {
	return a.store.Ping(ctx)
}
