package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by Get when no object exists under a key.
var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key  string
	Size int64
	ETag string
}

// PutOptions describe an upload. Metadata is attached as user metadata so an
// archived result can be attributed without decoding its body.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectStore holds archived query results.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Ping reports whether the backing bucket is reachable.
	Ping(ctx context.Context) error
}
