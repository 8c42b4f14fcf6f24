package storage

import (
	"context"
	"fmt"

	"github.com/Valleeh/podcleaner/internal/config"
)

// NewStore selects the blob store backend from configuration. MinIO is the
// S3 backend pointed at a custom endpoint.
func NewStore(ctx context.Context, cfg config.ObjectStorage) (Store, error) {
	switch cfg.Provider {
	case "local":
		return NewLocalStore(cfg.LocalStoragePath)
	case "s3", "minio":
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown object storage provider %q", cfg.Provider)
	}
}
