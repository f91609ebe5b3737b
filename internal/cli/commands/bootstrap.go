package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/conduit-lang/namedquery/internal/cli/config"
	"github.com/conduit-lang/namedquery/internal/logging"
	"github.com/conduit-lang/namedquery/internal/query/driver"
	"github.com/conduit-lang/namedquery/internal/query/engine"
	"github.com/conduit-lang/namedquery/internal/query/mapping"
	"github.com/conduit-lang/namedquery/internal/query/registry"
	"github.com/conduit-lang/namedquery/internal/query/resultcache"
	"github.com/conduit-lang/namedquery/internal/query/template"
)

// errNoBackend is returned by the placeholder driver of offline commands
var errNoBackend = errors.New("no query backend configured for this command")

// app holds everything a command needs, built from configuration
type app struct {
	config   *config.Config
	logger   *zap.Logger
	registry *registry.Registry
	engine   *engine.Engine
	cache    *resultcache.Cache
	metrics  *prometheus.Registry
	closers  []func() error
}

// appOptions selects which parts of the app a command needs
type appOptions struct {
	backend bool // connect the database or search driver
	cache   bool // open the configured result cache
	metrics bool // register Prometheus collectors
}

func loadConfig(opts *globalOptions) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// loadRegistry reads and validates every query source named in cfg
func loadRegistry(cfg *config.Config, logger *zap.Logger) (*registry.Registry, error) {
	loader, err := mapping.NewLoader(afero.NewOsFs(), cfg.Mapping.NamePattern, logger.Named("loader"))
	if err != nil {
		return nil, err
	}
	defs, err := loader.Load(cfg.Mapping.Paths...)
	if err != nil {
		return nil, err
	}
	return registry.New(defs)
}

func newApp(ctx context.Context, opts *globalOptions, ao appOptions) (*app, error) {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	a := &app{config: cfg, logger: logger}

	reg, err := loadRegistry(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.registry = reg

	mode, err := template.ParseMode(cfg.Engine.Kind)
	if err != nil {
		a.Close()
		return nil, err
	}

	var drv driver.Executor = driver.ExecutorFunc(func(context.Context, driver.Request) (*driver.Result, error) {
		return nil, errNoBackend
	})
	if ao.backend {
		drv, err = a.openDriver(mode)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	engineOpts := []engine.Option{
		engine.WithMode(mode),
		engine.WithLogger(logger.Named("engine")),
		engine.WithPageSize(cfg.Engine.DefaultPageSize),
		engine.WithMaxFetchSize(cfg.Engine.MaxFetchSize),
	}

	if ao.cache {
		store, err := resultcache.Open(ctx, cfg.Cache.Backend, resultcache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Config:   resultcache.Config{DefaultTTL: cfg.Cache.TTL, Prefix: cfg.Cache.Prefix},
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		if store != nil {
			a.cache = resultcache.New(store, logger.Named("cache"))
			a.closers = append(a.closers, a.cache.Close)
			engineOpts = append(engineOpts, engine.WithCache(a.cache))
		}
	}

	if ao.metrics {
		a.metrics = prometheus.NewRegistry()
		a.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m, err := engine.NewMetrics(a.metrics)
		if err != nil {
			a.Close()
			return nil, err
		}
		engineOpts = append(engineOpts, engine.WithMetrics(m))
	}

	a.engine = engine.New(reg, drv, engineOpts...)
	return a, nil
}

func (a *app) openDriver(mode template.Mode) (driver.Executor, error) {
	if mode == template.Document {
		a.logger.Info("using search backend", zap.String("url", a.config.Search.URL))
		return driver.NewSearchExecutor(a.config.Search.URL, a.config.Search.Timeout).
			WithSelectSize(a.config.Engine.MaxFetchSize), nil
	}

	if a.config.Database.URL == "" {
		return nil, fmt.Errorf("database.url is required for the sql engine")
	}
	db, err := driver.Open(a.config.Database.Driver, a.config.Database.URL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	a.logger.Info("using database backend", zap.String("driver", a.config.Database.Driver))
	return driver.NewSQLExecutor(db, a.config.Database.Driver), nil
}

// Close releases connections in reverse order of creation and flushes the logger
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
