package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment variables overriding file values.
const (
	EnvStorageDriver = "MLSYNC_STORAGE_DRIVER"
	EnvSQLiteDir     = "MLSYNC_SQLITE_DIR"
	EnvPostgresDSN   = "MLSYNC_POSTGRES_DSN"
	EnvBlobDriver    = "MLSYNC_BLOB_DRIVER"
	EnvBlobFSRoot    = "MLSYNC_BLOB_FS_ROOT"
	EnvS3Bucket      = "MLSYNC_BLOB_S3_BUCKET"
	EnvS3Region      = "MLSYNC_BLOB_S3_REGION"
	EnvS3Endpoint    = "MLSYNC_BLOB_S3_ENDPOINT"
	EnvS3PathStyle   = "MLSYNC_BLOB_S3_PATH_STYLE"
	EnvLogLevel      = "MLSYNC_LOG_LEVEL"
	EnvLogFormat     = "MLSYNC_LOG_FORMAT"
	EnvMetrics       = "MLSYNC_METRICS"
	EnvSites         = "MLSYNC_SITES"
	EnvParallelism   = "MLSYNC_PARALLELISM"
	EnvTrace         = "MLSYNC_TRACE"
)

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvStorageDriver, &c.Storage.Driver)
	str(EnvSQLiteDir, &c.Storage.SQLiteDir)
	str(EnvPostgresDSN, &c.Storage.PostgresDSN)
	str(EnvBlobDriver, &c.Blob.Driver)
	str(EnvBlobFSRoot, &c.Blob.FSRoot)
	str(EnvS3Bucket, &c.Blob.S3.Bucket)
	str(EnvS3Region, &c.Blob.S3.Region)
	str(EnvS3Endpoint, &c.Blob.S3.Endpoint)
	str(EnvLogLevel, &c.Log.Level)
	str(EnvLogFormat, &c.Log.Format)
	str(EnvMetrics, &c.Metrics)
	str(EnvTrace, &c.Trace)

	if v, ok := lookup(EnvS3PathStyle); ok && v != "" {
		c.Blob.S3.PathStyle = strings.EqualFold(v, "true") || v == "1"
	}
	if v, ok := lookup(EnvParallelism); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvParallelism, err)
		}
		c.Parallelism = n
	}
	if v, ok := lookup(EnvSites); ok && v != "" {
		sites, err := parseSites(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSites, err)
		}
		c.Sites = sites
	}
	return nil
}

func parseSites(raw string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("site id %q: %w", part, err)
		}
		out = append(out, id)
	}
	return out, nil
}
