// Package storage holds uploaded file contents, on local disk or in S3.
// Paths are the relative paths recorded on domain.File rows.
package storage

import (
	"context"
	"fmt"

	"github.com/gojob/email-sender/internal/config"
)

// BlobStore reads and writes file contents by relative path. Read of a
// missing path returns an error wrapping fs.ErrNotExist.
type BlobStore interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte, contentType string) error
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
}

// New creates the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (BlobStore, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.UploadPath)
	case "s3":
		s, err := NewS3Store(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.AWSRegion, cfg.AWSProfile)
		if err != nil {
			return nil, fmt.Errorf("initializing S3 storage: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
