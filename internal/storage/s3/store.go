package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/askdb/askdb/internal/storage"
)

type Config struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

func (c Config) validate() error {
	var missing []string
	if strings.TrimSpace(c.Endpoint) == "" {
		missing = append(missing, "endpoint")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		missing = append(missing, "bucket")
	}
	if len(missing) > 0 {
		return fmt.Errorf("result archive: %s required", strings.Join(missing, " and "))
	}
	return nil
}

// backend is the slice of the S3 API the archive needs.
type backend interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket, region string) error
}

// Store archives results in a bucket on any S3-compatible service.
type Store struct {
	backend backend
	bucket  string
	region  string
	prefix  string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	mb, err := dialMinio(cfg)
	if err != nil {
		return nil, err
	}
	store := newStore(mb, cfg.Bucket, cfg.Prefix)
	store.region = strings.TrimSpace(cfg.Region)
	if cfg.AutoCreateBucket {
		if err := store.checkBucket(ctx, true); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func newStore(b backend, bucket, prefix string) *Store {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix != "" {
		prefix = path.Clean(prefix)
	}
	if prefix == "." {
		prefix = ""
	}
	return &Store{backend: b, bucket: strings.TrimSpace(bucket), prefix: prefix}
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.backend.PutObject(ctx, s.bucket, objectKey, body, size, opts)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("upload %s/%s: %w", s.bucket, objectKey, err)
	}
	return info, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	body, err := s.backend.GetObject(ctx, s.bucket, objectKey)
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		return nil, storage.ErrObjectNotFound
	case err != nil:
		return nil, fmt.Errorf("download %s/%s: %w", s.bucket, objectKey, err)
	}
	return body, nil
}

// Ping fails when the bucket is unreachable or missing.
func (s *Store) Ping(ctx context.Context) error {
	return s.checkBucket(ctx, false)
}

// checkBucket verifies the bucket exists, creating it when create is set.
func (s *Store) checkBucket(ctx context.Context, create bool) error {
	exists, err := s.backend.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if !create {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	if err := s.backend.MakeBucket(ctx, s.bucket, s.region); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.bucket, err)
	}
	return nil
}

// objectKey places key under the store prefix. Keys that escape the prefix
// are rejected.
func (s *Store) objectKey(key string) (string, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", errors.New("object key is required")
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("object key %q escapes the archive prefix", key)
	}
	return path.Join(s.prefix, cleaned), nil
}

func dialMinio(cfg Config) (*minioBackend, error) {
	host, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client for %s: %w", host, err)
	}
	return &minioBackend{client: client}, nil
}

// parseEndpoint accepts either host:port or a URL. An https scheme forces TLS.
func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		if raw == "" {
			return "", false, errors.New("endpoint is required")
		}
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("endpoint %q: %w", raw, err)
	}
	switch {
	case parsed.Host == "":
		return "", false, fmt.Errorf("endpoint %q has no host", raw)
	case parsed.Scheme == "https":
		return parsed.Host, true, nil
	case parsed.Scheme == "http":
		return parsed.Host, useSSL, nil
	default:
		return "", false, fmt.Errorf("endpoint %q: unsupported scheme %q", raw, parsed.Scheme)
	}
}

type minioBackend struct {
	client *minio.Client
}

func (m *minioBackend) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	upload, err := m.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return storage.ObjectInfo{}, translateErr(err)
	}
	return storage.ObjectInfo{Key: upload.Key, Size: upload.Size, ETag: upload.ETag}, nil
}

// GetObject stats the object before returning it so a missing key surfaces
// here rather than on the first Read.
func (m *minioBackend) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	object, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateErr(err)
	}
	if _, err := object.Stat(); err != nil {
		_ = object.Close()
		return nil, translateErr(err)
	}
	return object, nil
}

func (m *minioBackend) BucketExists(ctx context.Context, bucket string) (bool, error) {
	ok, err := m.client.BucketExists(ctx, bucket)
	return ok, translateErr(err)
}

func (m *minioBackend) MakeBucket(ctx context.Context, bucket, region string) error {
	return translateErr(m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}))
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return storage.ErrObjectNotFound
	}
	return err
}
