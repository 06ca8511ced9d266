// Package config defines the configuration of the molident tools. No I/O
// lives here, only data types and validation.
package config

import (
	"time"

	"github.com/turtacn/molident/internal/infrastructure/database/postgres"
	"github.com/turtacn/molident/internal/infrastructure/database/redis"
	"github.com/turtacn/molident/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molident/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/molident/internal/infrastructure/storage/minio"
	"github.com/turtacn/molident/pkg/errors"
)

// Store backends.
const (
	BackendDir   = "dir"
	BackendMinIO = "minio"
)

// Include policies for builds.
const (
	IncludeDefault = "default"
	IncludeAll     = "all"
)

// StoreConfig selects where binary databases are read and written.
type StoreConfig struct {
	Backend  string `mapstructure:"backend"` // "dir" | "minio"
	Dir      string `mapstructure:"dir"`
	Database string `mapstructure:"database"`
	Include  string `mapstructure:"include"` // "default" | "all"
	Lazy     bool   `mapstructure:"lazy"`
}

// PublishConfig controls publishing of built databases.
type PublishConfig struct {
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
	LockWait  time.Duration `mapstructure:"lock_wait"`
	Publisher string        `mapstructure:"publisher"`
}

// MetricsConfig holds the prometheus exporter settings.
type MetricsConfig struct {
	Enabled   bool                       `mapstructure:"enabled"`
	Addr      string                     `mapstructure:"addr"`
	Collector prometheus.CollectorConfig `mapstructure:",squash"`
}

// CanonConfig holds canonicalization defaults.
type CanonConfig struct {
	Exact bool `mapstructure:"exact"`
}

// ImportConfig tunes the import batch.
type ImportConfig struct {
	Workers      int  `mapstructure:"workers"`
	Checkpoint   int  `mapstructure:"checkpoint"`
	AllowAutofix bool `mapstructure:"allow_autofix"`
	CheckValence bool `mapstructure:"check_valence"`
}

// Config is the root configuration.
type Config struct {
	Log      logging.LogConfig       `mapstructure:"log"`
	Store    StoreConfig             `mapstructure:"store"`
	MinIO    minio.MinIOConfig       `mapstructure:"minio"`
	Redis    redis.RedisConfig       `mapstructure:"redis"`
	Publish  PublishConfig           `mapstructure:"publish"`
	Database postgres.PostgresConfig `mapstructure:"database"`
	Metrics  MetricsConfig           `mapstructure:"metrics"`
	Canon    CanonConfig             `mapstructure:"canon"`
	Import   ImportConfig            `mapstructure:"import"`
}

// RedisEnabled reports whether publishes are coordinated through redis.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != "" || len(c.Redis.ClusterAddrs) > 0 || len(c.Redis.SentinelAddrs) > 0
}

// DatabaseEnabled reports whether an authoring database is configured.
func (c *Config) DatabaseEnabled() bool {
	return c.Database.Host != ""
}

func invalid(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrCodeValidation, "config: "+format, args...)
}

// Validate performs semantic validation of the populated Config and returns
// the first problem found.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return invalid("log.format %q is invalid; expected json|console", c.Log.Format)
	}

	switch c.Store.Backend {
	case BackendDir:
		if c.Store.Dir == "" {
			return invalid("store.dir is required for the dir backend")
		}
	case BackendMinIO:
		if c.MinIO.Endpoint == "" {
			return invalid("minio.endpoint is required for the minio backend")
		}
	default:
		return invalid("store.backend %q is invalid; expected dir|minio", c.Store.Backend)
	}
	if c.Store.Database == "" {
		return invalid("store.database is required")
	}
	switch c.Store.Include {
	case IncludeDefault, IncludeAll:
	default:
		return invalid("store.include %q is invalid; expected default|all", c.Store.Include)
	}

	if c.Redis.DB < 0 {
		return invalid("redis.db must be >= 0, got %d", c.Redis.DB)
	}
	if c.Publish.LockTTL <= 0 {
		return invalid("publish.lock_ttl must be positive, got %s", c.Publish.LockTTL)
	}

	if c.DatabaseEnabled() {
		switch c.Database.Driver {
		case postgres.DriverPgx, postgres.DriverPq:
		default:
			return invalid("database.driver %q is invalid; expected %s|%s", c.Database.Driver, postgres.DriverPgx, postgres.DriverPq)
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return invalid("database.port %d is out of range [1, 65535]", c.Database.Port)
		}
		if c.Database.Database == "" {
			return invalid("database.database is required")
		}
	}

	if c.Metrics.Enabled && c.Metrics.Collector.Namespace == "" {
		return invalid("metrics.namespace is required when metrics are enabled")
	}

	if c.Import.Workers < 1 {
		return invalid("import.workers must be >= 1, got %d", c.Import.Workers)
	}
	if c.Import.Checkpoint < 1 {
		return invalid("import.checkpoint must be >= 1, got %d", c.Import.Checkpoint)
	}
	return nil
}
