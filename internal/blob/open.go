// Package blob selects the configured blob backend for audit exports.
package blob

import (
	"context"
	"fmt"

	"stockcore/internal/blob/core"
	"stockcore/internal/config"
	"stockcore/internal/infra/blob/fs"
	"stockcore/internal/infra/blob/memory"
	"stockcore/internal/infra/blob/s3"
)

// Open returns the store named by cfg.BlobDriver.
func Open(ctx context.Context, cfg *config.Config) (core.Store, error) {
	switch core.Driver(cfg.BlobDriver) {
	case core.DriverMemory, "":
		return memory.New(), nil
	case core.DriverFilesystem:
		return fs.New(cfg.BlobRoot)
	case core.DriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:   cfg.BlobBucket,
			Region:   cfg.BlobRegion,
			Endpoint: cfg.BlobEndpoint,
		})
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.BlobDriver)
	}
}
