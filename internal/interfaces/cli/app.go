package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/turtacn/molident/internal/application/registry"
	"github.com/turtacn/molident/internal/config"
	"github.com/turtacn/molident/internal/domain/canon"
	"github.com/turtacn/molident/internal/infrastructure/database/postgres"
	"github.com/turtacn/molident/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/molident/internal/infrastructure/database/redis"
	"github.com/turtacn/molident/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molident/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/molident/internal/infrastructure/storage/binstore"
	"github.com/turtacn/molident/internal/infrastructure/storage/minio"
	ops "github.com/turtacn/molident/internal/interfaces/http"
	"github.com/turtacn/molident/internal/interfaces/http/handlers"
	"github.com/turtacn/molident/internal/interfaces/http/middleware"
	"github.com/turtacn/molident/pkg/errors"
)

// App wires the configured backends into a registry service. Close releases
// every connection it opened.
type App struct {
	Config  *config.Config
	Logger  logging.Logger
	Service *registry.Service
	Metrics *prometheus.EngineMetrics

	collector prometheus.MetricsCollector
	checkers  []handlers.HealthChecker
	server    *ops.Server
	closers   []func() error
}

// NewApp connects to the store backend and to the optional redis and
// postgres endpoints named by cfg. With metrics enabled it serves the
// operations endpoint until Close. extra options are applied after the
// ones derived from cfg. On error everything opened so far is closed again.
func NewApp(cfg *config.Config, log logging.Logger, extra ...registry.Option) (_ *App, err error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	app := &App{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	var svcOpts []registry.Option
	var storeOpts []binstore.Option

	if cfg.Metrics.Enabled {
		if err := app.registerMetrics(); err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, binstore.WithObserver(app.Metrics))
		svcOpts = append(svcOpts, registry.WithMetrics(app.Metrics))
	}

	backend, location, err := app.openBackend()
	if err != nil {
		return nil, err
	}
	include := binstore.DefaultInclude
	if cfg.Store.Include == config.IncludeAll {
		include = binstore.IncludeAll
	}
	storeOpts = append(storeOpts, binstore.WithInclude(include), binstore.WithLazyPayloads(cfg.Store.Lazy))
	store := binstore.NewStore(backend, log, storeOpts...)
	app.checkers = append(app.checkers, handlers.CheckerFunc("store", func(ctx context.Context) error {
		_, err := backend.Get(ctx, binstore.IndexBlob)
		return err
	}))

	if cfg.RedisEnabled() {
		client, err := redis.NewClient(&cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, client.Close)
		app.checkers = append(app.checkers, handlers.CheckerFunc("redis", client.Ping))
		svcOpts = append(svcOpts, registry.WithPublishCoordination(
			redis.NewLockFactory(client, log),
			redis.NewManifestRegistry(client, log)))
	}

	if cfg.DatabaseEnabled() {
		if err := postgres.RunMigrations(postgres.BuildDSN(cfg.Database), cfg.Database.MigrationsPath); err != nil {
			return nil, err
		}
		conn, err := postgres.NewConnection(cfg.Database, log)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, conn.Close)
		app.checkers = append(app.checkers, handlers.CheckerFunc("postgres", conn.HealthCheck))
		svcOpts = append(svcOpts, registry.WithRepository(repositories.NewPostgresRecordRepo(conn, log)))
	}

	svcOpts = append(svcOpts,
		registry.WithDatabase(cfg.Store.Database, location),
		registry.WithPublisher(publisherName(cfg)),
		registry.WithLockTiming(cfg.Publish.LockTTL, cfg.Publish.LockWait),
		registry.WithImportOptions(importOptions(cfg)),
	)
	svcOpts = append(svcOpts, extra...)
	app.Service = registry.NewService(store, log, svcOpts...)

	if cfg.Metrics.Enabled {
		if err := app.startServer(); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// openBackend returns the blob backend of the configured database and a
// human readable location for manifests.
func (a *App) openBackend() (binstore.Backend, string, error) {
	cfg := a.Config
	switch cfg.Store.Backend {
	case config.BackendMinIO:
		client, err := minio.NewMinIOClient(&cfg.MinIO, a.Logger)
		if err != nil {
			return nil, "", err
		}
		a.closers = append(a.closers, client.Close)
		a.checkers = append(a.checkers, handlers.CheckerFunc("minio", func(ctx context.Context) error {
			status, err := client.HealthCheck(ctx)
			if err == nil && !status.Healthy {
				err = errors.New(errors.ErrCodeServiceUnavailable, status.Error)
			}
			return err
		}))
		mc := client.Config()
		return client.Database(cfg.Store.Database), "s3://" + mc.Bucket + "/" + mc.Prefix + "/" + cfg.Store.Database, nil
	default:
		dir := filepath.Join(cfg.Store.Dir, cfg.Store.Database)
		return binstore.NewDirBackend(dir), dir, nil
	}
}

// registerMetrics registers the engine metrics and routes pooled
// canonicalizations to them.
func (a *App) registerMetrics() error {
	collector, err := prometheus.NewMetricsCollector(a.Config.Metrics.Collector, a.Logger)
	if err != nil {
		return err
	}
	a.collector = collector
	a.Metrics = prometheus.NewEngineMetrics(collector)
	canon.SetDefaultObserver(a.Metrics)
	a.closers = append(a.closers, func() error {
		canon.SetDefaultObserver(nil)
		return nil
	})
	return nil
}

// startServer serves /metrics and the health probes on the configured
// address.
func (a *App) startServer() error {
	router := ops.NewRouter(ops.RouterConfig{
		HealthHandler: handlers.NewHealthHandler(Version, a.Config.Store.Database, a.checkers...),
		Metrics:       a.collector.Handler(),
		Logger:        a.Logger.Named("ops"),
		Logging:       middleware.DefaultLoggingConfig(),
	})
	srv := ops.NewServer(a.Config.Metrics.Addr, router, a.Logger)
	if err := srv.Start(); err != nil {
		return err
	}
	a.server = srv
	a.closers = append(a.closers, func() error {
		return srv.Stop(context.Background())
	})
	return nil
}

// MetricsAddr returns the address of the operations endpoint, or "" when
// metrics are disabled.
func (a *App) MetricsAddr() string {
	if a.server == nil {
		return ""
	}
	return a.server.Addr()
}

// Close releases resources in reverse order of acquisition and returns the
// first error.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// runWithApp opens the App described by the command's configuration, runs
// fn and closes the App again.
func runWithApp(cmd *cobra.Command, fn func(ctx context.Context, app *App) error, extra ...registry.Option) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	app, err := NewApp(cliCtx.Config, cliCtx.Logger, extra...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil {
			cliCtx.Logger.Warn("failed to release resources", logging.Err(cerr))
		}
	}()
	return fn(cmd.Context(), app)
}

func importOptions(cfg *config.Config) registry.ImportOptions {
	return registry.ImportOptions{
		Exact:        cfg.Canon.Exact,
		AllowAutofix: cfg.Import.AllowAutofix,
		CheckValence: cfg.Import.CheckValence,
		Workers:      cfg.Import.Workers,
		Checkpoint:   cfg.Import.Checkpoint,
	}
}

func publisherName(cfg *config.Config) string {
	if cfg.Publish.Publisher != "" {
		return cfg.Publish.Publisher
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "molident"
}
