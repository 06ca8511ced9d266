package config

import (
	"runtime"
	"time"

	"github.com/turtacn/molident/internal/infrastructure/database/postgres"
)

const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultStoreBackend  = BackendDir
	DefaultStoreDir      = "./db"
	DefaultStoreDatabase = "main"

	DefaultLockTTL  = 30 * time.Second
	DefaultLockWait = 10 * time.Second

	DefaultDBPort = 5432
	DefaultDBName = "molident"

	DefaultMetricsAddr      = ":9090"
	DefaultMetricsNamespace = "molident"

	DefaultImportCheckpoint = 1000
)

// ApplyDefaults fills every zero-value field in cfg. Values already set are
// left unchanged. Boolean defaults are registered with viper instead, since
// false cannot be told apart from unset here.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = DefaultStoreBackend
	}
	if cfg.Store.Backend == BackendDir && cfg.Store.Dir == "" {
		cfg.Store.Dir = DefaultStoreDir
	}
	if cfg.Store.Database == "" {
		cfg.Store.Database = DefaultStoreDatabase
	}
	if cfg.Store.Include == "" {
		cfg.Store.Include = IncludeDefault
	}

	if cfg.Publish.LockTTL == 0 {
		cfg.Publish.LockTTL = DefaultLockTTL
	}
	if cfg.Publish.LockWait == 0 {
		cfg.Publish.LockWait = DefaultLockWait
	}

	if cfg.DatabaseEnabled() {
		if cfg.Database.Driver == "" {
			cfg.Database.Driver = postgres.DriverPgx
		}
		if cfg.Database.Port == 0 {
			cfg.Database.Port = DefaultDBPort
		}
		if cfg.Database.Database == "" {
			cfg.Database.Database = DefaultDBName
		}
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = DefaultMetricsAddr
	}
	if cfg.Metrics.Collector.Namespace == "" {
		cfg.Metrics.Collector.Namespace = DefaultMetricsNamespace
	}

	if cfg.Import.Workers == 0 {
		cfg.Import.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Import.Checkpoint == 0 {
		cfg.Import.Checkpoint = DefaultImportCheckpoint
	}
}
