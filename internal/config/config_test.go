package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mlsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Equal(t, StorageMemory, cfg.Storage.Driver)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
sites: [1, 4, 9]
parallelism: 2
metrics: expvar
trace: /var/log/mlsync/file-trace.jsonl
storage:
  driver: sqlite
  sqlite_dir: /var/lib/mlsync
blob:
  driver: s3
  base_url: https://cdn.example.test/uploads
  s3:
    bucket: media
    region: eu-west-1
log:
  level: debug
  format: json
replication:
  excluded_keys: [_wp_old_slug]
`)
	t.Setenv(EnvParallelism, "4")
	t.Setenv(EnvS3PathStyle, "true")
	t.Setenv(EnvS3Endpoint, "http://minio:9000")
	t.Setenv(EnvTrace, "/var/log/mlsync/trace.jsonl")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 4, 9}, cfg.Sites)
	require.Equal(t, 4, cfg.Parallelism)
	require.Equal(t, MetricsExpvar, cfg.Metrics)
	require.Equal(t, "/var/lib/mlsync", cfg.Storage.SQLiteDir)
	require.Equal(t, "media", cfg.Blob.S3.Bucket)
	require.Equal(t, "http://minio:9000", cfg.Blob.S3.Endpoint)
	require.True(t, cfg.Blob.S3.PathStyle)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, []string{"_wp_old_slug"}, cfg.Replication.ExcludedKeys)
	require.Equal(t, "/var/log/mlsync/trace.jsonl", cfg.Trace)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, "sitez: [1]\n"))
	require.ErrorContains(t, err, "sitez")
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestEnvSitesAndBadValues(t *testing.T) {
	cfg := Default()
	env := map[string]string{EnvSites: " 3, 5 ,,7", EnvStorageDriver: "postgres", EnvPostgresDSN: "postgres://db/mlsync"}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }
	require.NoError(t, cfg.applyEnv(lookup))
	require.Equal(t, []int64{3, 5, 7}, cfg.Sites)
	require.NoError(t, cfg.Validate())

	env[EnvSites] = "3,x"
	require.ErrorContains(t, cfg.applyEnv(lookup), EnvSites)
	env[EnvSites] = "3"
	env[EnvParallelism] = "many"
	require.ErrorContains(t, cfg.applyEnv(lookup), EnvParallelism)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"no sites":        func(c *Config) { c.Sites = nil },
		"duplicate site":  func(c *Config) { c.Sites = []int64{1, 2, 1} },
		"negative site":   func(c *Config) { c.Sites = []int64{-1} },
		"parallelism":     func(c *Config) { c.Parallelism = 0 },
		"storage driver":  func(c *Config) { c.Storage.Driver = "bolt" },
		"postgres no dsn": func(c *Config) { c.Storage.Driver = StoragePostgres },
		"blob driver":     func(c *Config) { c.Blob.Driver = "gcs" },
		"s3 no bucket":    func(c *Config) { c.Blob.Driver = "s3" },
		"metrics":         func(c *Config) { c.Metrics = "statsd" },
		"log format":      func(c *Config) { c.Log.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
	require.NoError(t, Default().Validate())
}
