// Package config loads the replication daemon configuration from YAML with
// MLSYNC_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	blobcore "mlsync/internal/blob/core"
	"mlsync/internal/infra/blob/s3"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Metrics exporters.
const (
	MetricsNone       = "none"
	MetricsExpvar     = "expvar"
	MetricsPrometheus = "prometheus"
)

// Config is the full daemon configuration.
type Config struct {
	Sites       []int64 `yaml:"sites"`
	Parallelism int     `yaml:"parallelism"`
	Metrics     string  `yaml:"metrics"`
	// Trace appends one JSON line per engine operation to this file when set.
	Trace       string            `yaml:"trace"`
	Storage     StorageConfig     `yaml:"storage"`
	Blob        BlobConfig        `yaml:"blob"`
	Log         LogConfig         `yaml:"log"`
	Replication ReplicationConfig `yaml:"replication"`
}

// StorageConfig selects where site records live.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLiteDir   string `yaml:"sqlite_dir"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// BlobConfig selects the shared upload store.
type BlobConfig struct {
	Driver  string    `yaml:"driver"`
	FSRoot  string    `yaml:"fs_root"`
	BaseURL string    `yaml:"base_url"`
	S3      s3.Config `yaml:"s3"`
}

// LogConfig controls the logrus logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ReplicationConfig tunes the engine.
type ReplicationConfig struct {
	Kind            string   `yaml:"kind"`
	AttachedFileKey string   `yaml:"attached_file_key"`
	ExcludedKeys    []string `yaml:"excluded_keys"`
}

// Default returns a single-process configuration with two in-memory sites.
func Default() Config {
	return Config{
		Sites:       []int64{1, 2},
		Parallelism: 1,
		Metrics:     MetricsNone,
		Storage:     StorageConfig{Driver: StorageMemory, SQLiteDir: "."},
		Blob:        BlobConfig{Driver: string(blobcore.DriverFilesystem), FSRoot: "./uploads"},
		Log:         LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports the first configuration error found.
func (c Config) Validate() error {
	if len(c.Sites) == 0 {
		return errors.New("config: at least one site required")
	}
	seen := make(map[int64]struct{}, len(c.Sites))
	for _, id := range c.Sites {
		if id <= 0 {
			return fmt.Errorf("config: site id must be positive, got %d", id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("config: duplicate site id %d", id)
		}
		seen[id] = struct{}{}
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("config: parallelism must be >= 1, got %d", c.Parallelism)
	}
	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("config: postgres storage requires a dsn")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	switch blobcore.Driver(c.Blob.Driver) {
	case blobcore.DriverFilesystem, blobcore.DriverMemory:
	case blobcore.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return errors.New("config: s3 blob driver requires a bucket")
		}
	default:
		return fmt.Errorf("config: unknown blob driver %q", c.Blob.Driver)
	}
	switch c.Metrics {
	case MetricsNone, MetricsExpvar, MetricsPrometheus:
	default:
		return fmt.Errorf("config: unknown metrics exporter %q", c.Metrics)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}
