// Package storage persists version payloads by key.
package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrNotExist is returned by Open when no object is stored under the key.
var ErrNotExist = errors.New("object does not exist")

// FileStorage stores and retrieves payloads by a caller-supplied key.
type FileStorage interface {
	// Write stores r under key, replacing any existing object, and returns
	// the number of bytes written.
	Write(ctx context.Context, key string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Backend names.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Backend   string
	LocalRoot string

	S3Bucket    string
	S3Prefix    string
	S3Region    string
	S3Endpoint  string // Custom endpoint for S3-compatible stores (MinIO, LocalStack).
	S3PathStyle bool
	S3AccessKey string
	S3SecretKey string
}

// DefaultStorageConfig returns a local backend rooted at ./data/files.
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		Backend:   BackendLocal,
		LocalRoot: "data/files",
		S3Region:  "us-east-1",
	}
}

// StorageConfigFromEnv loads config from environment variables.
// DOCFLOW_STORAGE_BACKEND, DOCFLOW_STORAGE_ROOT, DOCFLOW_S3_BUCKET, DOCFLOW_S3_PREFIX,
// DOCFLOW_S3_REGION, DOCFLOW_S3_ENDPOINT, DOCFLOW_S3_PATH_STYLE,
// DOCFLOW_S3_ACCESS_KEY, DOCFLOW_S3_SECRET_KEY
func StorageConfigFromEnv() *StorageConfig {
	cfg := DefaultStorageConfig()

	if v := os.Getenv("DOCFLOW_STORAGE_BACKEND"); v != "" {
		cfg.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("DOCFLOW_STORAGE_ROOT"); v != "" {
		cfg.LocalRoot = v
	}
	cfg.S3Bucket = os.Getenv("DOCFLOW_S3_BUCKET")
	cfg.S3Prefix = os.Getenv("DOCFLOW_S3_PREFIX")
	if v := os.Getenv("DOCFLOW_S3_REGION"); v != "" {
		cfg.S3Region = v
	}
	cfg.S3Endpoint = os.Getenv("DOCFLOW_S3_ENDPOINT")
	if v := os.Getenv("DOCFLOW_S3_PATH_STYLE"); v != "" {
		cfg.S3PathStyle, _ = strconv.ParseBool(v)
	}
	cfg.S3AccessKey = os.Getenv("DOCFLOW_S3_ACCESS_KEY")
	cfg.S3SecretKey = os.Getenv("DOCFLOW_S3_SECRET_KEY")

	return cfg
}

// New builds the backend selected by cfg.
func New(ctx context.Context, cfg *StorageConfig) (FileStorage, error) {
	switch cfg.Backend {
	case BackendS3:
		return NewS3Storage(ctx, cfg)
	case BackendLocal, "":
		return NewLocalStorage(cfg.LocalRoot)
	default:
		return nil, errors.New("unsupported storage backend: " + cfg.Backend)
	}
}
