// Package bootstrap assembles the long-lived catalog services from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/ledgercat/internal/api"
	"github.com/charlesng35/ledgercat/internal/app"
	"github.com/charlesng35/ledgercat/internal/app/maintenance"
	"github.com/charlesng35/ledgercat/internal/cache"
	"github.com/charlesng35/ledgercat/internal/catalog"
	"github.com/charlesng35/ledgercat/internal/database"
	"github.com/charlesng35/ledgercat/internal/migration"
	"github.com/charlesng35/ledgercat/internal/monitoring"
	"github.com/charlesng35/ledgercat/internal/monitoring/checks"
	"github.com/charlesng35/ledgercat/internal/registry"
	"github.com/charlesng35/ledgercat/internal/resubmit"
	"github.com/charlesng35/ledgercat/internal/storage"
	"github.com/charlesng35/ledgercat/pkg/logger"
)

const healthCheckTimeout = 3 * time.Second

// Runtime bundles the services shared by the HTTP server and the operator CLI.
type Runtime struct {
	Config       *app.Config
	DB           *gorm.DB
	Store        *cache.DatabaseStore
	Registry     registry.Registry
	Stores       *storage.Selector
	Cache        *catalog.Cache
	Synchronizer *catalog.Synchronizer
	// Scheduler is nil when no ephemeral backend is configured.
	Scheduler  *resubmit.Scheduler
	Engine     *migration.Engine
	Migrations *migration.Runner
	Monitoring *monitoring.Module

	log         *zap.Logger
	ownsDB      bool
	jobsStarted bool
}

// Option customises runtime construction.
type Option func(*options)

type options struct {
	db         *gorm.DB
	registry   registry.Registry
	durable    storage.ContentStore
	ephemeral  storage.ContentStore
	httpClient *http.Client
}

// WithDatabase reuses an open database instead of opening one from config.
func WithDatabase(db *gorm.DB) Option {
	return func(o *options) { o.db = db }
}

// WithRegistry replaces the HTTP registry client.
func WithRegistry(reg registry.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithContentStores replaces the configured storage backends. Either may be nil.
func WithContentStores(durable, ephemeral storage.ContentStore) Option {
	return func(o *options) {
		o.durable = durable
		o.ephemeral = ephemeral
	}
}

// WithHTTPClient sets the client used for storage and registry calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// New opens the database and builds every service. Background loops are not
// started; call StartJobs for that.
func New(cfg *app.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	o := options{httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(&o)
	}

	rt := &Runtime{Config: cfg, log: logger.WithModule("bootstrap")}
	success := false
	defer func() {
		if !success {
			_ = rt.Shutdown(context.Background())
		}
	}()

	var err error
	rt.Monitoring, err = monitoring.NewModule(monitoring.Options{})
	if err != nil {
		return nil, fmt.Errorf("initialise monitoring: %w", err)
	}
	monitoring.SetModule(rt.Monitoring)

	rt.DB = o.db
	if rt.DB == nil {
		if rt.DB, err = initialiseDatabase(cfg); err != nil {
			return nil, err
		}
		rt.ownsDB = true
	} else if err := database.Prepare(rt.DB); err != nil {
		return nil, err
	}
	rt.Store = cache.NewDatabaseStore(rt.DB)

	rt.Registry = o.registry
	if rt.Registry == nil {
		client, err := registry.NewHTTPClient(cfg.Registry.ClientConfig(), logger.WithModule("registry"), registry.WithHTTPClient(o.httpClient))
		if err != nil {
			return nil, fmt.Errorf("initialise registry client: %w", err)
		}
		rt.Registry = client
	}

	durable, ephemeral := o.durable, o.ephemeral
	if durable == nil && ephemeral == nil {
		if durable, ephemeral, err = buildContentStores(cfg.Storage, o.httpClient); err != nil {
			return nil, err
		}
	}
	rt.Stores, err = storage.NewSelector(durable, ephemeral, cfg.Storage.SelectorConfig(), logger.WithModule("storage"))
	if err != nil {
		return nil, fmt.Errorf("initialise storage selector: %w", err)
	}

	rt.Cache, err = catalog.NewCache(rt.Store, rt.Registry, rt.Stores,
		catalog.WithTTL(cfg.Catalog.CacheTTL),
		catalog.WithLogger(logger.WithModule("catalog")),
	)
	if err != nil {
		return nil, err
	}
	rt.Synchronizer = catalog.NewSynchronizer(rt.Cache,
		catalog.WithConcurrency(cfg.Catalog.SyncConcurrency),
		catalog.WithPageSize(cfg.Catalog.SyncPageSize),
		catalog.WithLoopOptions(maintenance.WithLogger(logger.WithModule("catalog_sync"))),
	)

	if _, ok := storage.AsExpiring(rt.Stores.Ephemeral()); ok {
		rt.Scheduler, err = resubmit.NewScheduler(rt.Store, rt.Stores.Durable(), rt.Stores.Ephemeral(),
			resubmit.WithExpiringSoonWindow(cfg.Resubmission.ExpiringSoonWindow),
			resubmit.WithLoopOptions(maintenance.WithLogger(logger.WithModule("resubmission"))),
		)
		if err != nil {
			return nil, fmt.Errorf("initialise resubmission scheduler: %w", err)
		}
	}

	rt.Engine = migration.NewEngine(rt.Store)
	rt.Migrations = migration.NewRunner(rt.Engine, rt.Stores)

	rt.registerHealthChecks()

	success = true
	return rt, nil
}

func buildContentStores(cfg app.StorageConfig, client *http.Client) (storage.ContentStore, storage.ContentStore, error) {
	var durable, ephemeral storage.ContentStore

	if cfg.Durable.Enabled {
		store, err := storage.NewDurableStore(cfg.DurableStoreConfig(), client, logger.WithModule("storage_durable"))
		if err != nil {
			return nil, nil, fmt.Errorf("initialise durable store: %w", err)
		}
		if durable, err = storage.NewCachingStore(store, cfg.ContentCacheSize); err != nil {
			return nil, nil, err
		}
	}

	if cfg.Ephemeral.Enabled {
		// Not cached: the backend purges content after its TTL.
		store, err := storage.NewEphemeralStore(cfg.EphemeralStoreConfig(), client, logger.WithModule("storage_ephemeral"))
		if err != nil {
			return nil, nil, fmt.Errorf("initialise ephemeral store: %w", err)
		}
		ephemeral = store
	}

	return durable, ephemeral, nil
}

func (rt *Runtime) registerHealthChecks() {
	health := rt.Monitoring.Health()
	health.RegisterLiveness(monitoring.NewCheck("process", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Component: "process", Status: monitoring.StatusUp}
	}))

	health.RegisterReadiness(checks.Database(rt.DB, healthCheckTimeout))
	health.RegisterReadiness(checks.Registry(rt.Registry, healthCheckTimeout))
	for _, store := range []storage.ContentStore{rt.Stores.Durable(), rt.Stores.Ephemeral()} {
		if !storage.IsImplemented(store) {
			continue
		}
		var prober checks.LivenessProber
		if p, ok := storage.AsLivenessProber(store); ok {
			prober = p
		}
		health.RegisterReadiness(checks.Storage(store.Provider(), prober, healthCheckTimeout))
	}
	health.RegisterReadiness(checks.Jobs(rt.Config.Monitoring.Health.JobMaxAge))
}

// StartJobs schedules the catalog sync and, when enabled, resubmission.
func (rt *Runtime) StartJobs() error {
	cfg := rt.Config
	if cfg.Catalog.SyncEnabled {
		if err := rt.Synchronizer.Start(cfg.Catalog.SyncInterval); err != nil {
			return fmt.Errorf("start catalog sync: %w", err)
		}
		rt.log.Info("catalog sync scheduled", zap.Duration("interval", cfg.Catalog.SyncInterval))
	}
	if cfg.Resubmission.Enabled && rt.Scheduler != nil {
		if err := rt.Scheduler.Start(cfg.Resubmission.CheckInterval); err != nil {
			return fmt.Errorf("start resubmission: %w", err)
		}
		rt.log.Info("resubmission scheduled", zap.Duration("interval", cfg.Resubmission.CheckInterval))
	}
	rt.jobsStarted = true
	return nil
}

// Router builds the HTTP surface over the runtime services.
func (rt *Runtime) Router() (*gin.Engine, error) {
	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}
	return api.NewRouter(api.Dependencies{
		Config:       rt.Config,
		Monitoring:   rt.Monitoring,
		Cache:        rt.Cache,
		Synchronizer: rt.Synchronizer,
		Scheduler:    rt.Scheduler,
		Migrations:   rt.Migrations,
	})
}

// Shutdown stops background jobs, waits for passes in flight and closes a
// database the runtime opened. A running migration is waited for until ctx is done.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	if rt == nil {
		return nil
	}
	var errs error

	if rt.jobsStarted {
		waits := []context.Context{rt.Synchronizer.Stop()}
		if rt.Scheduler != nil {
			waits = append(waits, rt.Scheduler.Stop())
		}
		for _, done := range waits {
			select {
			case <-done.Done():
			case <-ctx.Done():
				errs = multierr.Append(errs, fmt.Errorf("background jobs: %w", ctx.Err()))
			}
		}
	}

	if rt.Migrations != nil {
		finished := make(chan struct{})
		go func() {
			rt.Migrations.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-ctx.Done():
			errs = multierr.Append(errs, fmt.Errorf("migration: %w", ctx.Err()))
		}
	}

	if rt.DB != nil && rt.ownsDB {
		errs = multierr.Append(errs, closeDatabase(rt.DB))
	}
	return errs
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Prepare(db); err != nil {
		_ = closeDatabase(db)
		return nil, err
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("obtain sql db: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
