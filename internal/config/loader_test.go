package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molident/pkg/errors"
)

const validConfigYAML = `
log:
  level: debug
  format: console
store:
  backend: minio
  database: organics
  include: all
minio:
  endpoint: localhost:9000
  bucket: chem
  compress: true
redis:
  addr: localhost:6379
  key_prefix: lab
publish:
  lock_ttl: 45s
  publisher: ci
database:
  host: localhost
  username: molident
metrics:
  enabled: true
  namespace: lab
  addr: ":9100"
canon:
  exact: false
import:
  workers: 4
  allow_autofix: true
`

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FromFile(t *testing.T) {
	cfg, err := Load(createTempConfigFile(t, validConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, BackendMinIO, cfg.Store.Backend)
	assert.Equal(t, "organics", cfg.Store.Database)
	assert.Equal(t, IncludeAll, cfg.Store.Include)
	assert.Equal(t, "chem", cfg.MinIO.Bucket)
	assert.True(t, cfg.MinIO.Compress)
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, "lab", cfg.Redis.KeyPrefix)
	assert.Equal(t, 45*time.Second, cfg.Publish.LockTTL)
	assert.Equal(t, "ci", cfg.Publish.Publisher)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "lab", cfg.Metrics.Collector.Namespace)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.False(t, cfg.Canon.Exact)
	assert.Equal(t, 4, cfg.Import.Workers)
	assert.True(t, cfg.Import.AllowAutofix)
	assert.True(t, cfg.Import.CheckValence)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(createTempConfigFile(t, "store: ["))
	assert.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	_, err := Load(createTempConfigFile(t, "store:\n  backend: tape\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MOLIDENT_STORE_DATABASE", "inorganics")
	t.Setenv("MOLIDENT_IMPORT_WORKERS", "2")

	cfg, err := Load(createTempConfigFile(t, validConfigYAML))
	require.NoError(t, err)
	assert.Equal(t, "inorganics", cfg.Store.Database)
	assert.Equal(t, 2, cfg.Import.Workers)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MOLIDENT_STORE_DIR", "/var/lib/molident")
	t.Setenv("MOLIDENT_LOG_LEVEL", "warn")
	t.Setenv("MOLIDENT_CANON_EXACT", "false")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/molident", cfg.Store.Dir)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, DefaultStoreDatabase, cfg.Store.Database)
	assert.False(t, cfg.Canon.Exact)
	assert.False(t, cfg.DatabaseEnabled())
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.Canon.Exact)
	assert.True(t, cfg.Import.CheckValence)
	assert.Equal(t, DefaultStoreDir, cfg.Store.Dir)
}

func TestMustLoad(t *testing.T) {
	path := createTempConfigFile(t, validConfigYAML)
	assert.NotPanics(t, func() { MustLoad(path) })
	assert.Panics(t, func() { MustLoad(filepath.Join(t.TempDir(), "missing.yaml")) })
}

func TestWatch(t *testing.T) {
	path := createTempConfigFile(t, "store:\n  database: first\n")

	var latest atomic.Value
	var failures atomic.Int32
	require.NoError(t, Watch(path, func(c *Config) { latest.Store(c.Store.Database) }, func(error) { failures.Add(1) }))

	require.NoError(t, os.WriteFile(path, []byte("store:\n  database: second\n"), 0o644))
	require.Eventually(t, func() bool { return latest.Load() == "second" }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: tape\n"), 0o644))
	require.Eventually(t, func() bool { return failures.Load() > 0 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "second", latest.Load())
}

func TestWatch_MissingFile(t *testing.T) {
	assert.Error(t, Watch(filepath.Join(t.TempDir(), "missing.yaml"), func(*Config) {}, nil))
}
