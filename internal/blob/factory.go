// Package blob opens the shared upload store selected by configuration.
package blob

import (
	"context"
	"fmt"

	"mlsync/internal/blob/core"
	"mlsync/internal/infra/blob/fs"
	"mlsync/internal/infra/blob/memory"
	"mlsync/internal/infra/blob/s3"
)

// Options selects and parameterizes a driver.
type Options struct {
	Driver  core.Driver
	FSRoot  string
	BaseURL string
	S3      s3.Config
}

// Open constructs the configured blob store. An empty driver selects fs.
func Open(ctx context.Context, opts Options) (core.Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = core.DriverFilesystem
	}
	switch driver {
	case core.DriverFilesystem:
		store, err := fs.New(opts.FSRoot)
		if err != nil {
			return nil, err
		}
		if opts.BaseURL == "" {
			return store, nil
		}
		return store.WithBaseURL(opts.BaseURL)
	case core.DriverS3:
		return s3.New(ctx, opts.S3)
	case core.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
