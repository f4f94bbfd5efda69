package di

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-application-cache/cache"
	"github.com/goliatone/go-application-cache/internal/cacheinfra"
	"github.com/goliatone/go-application-cache/maintenance"
	"github.com/goliatone/go-application-cache/repositorycache"
)

// Config describes the database behind the cache and the cache itself.
type Config struct {
	Driver      string       `mapstructure:"driver"`
	DSN         string       `mapstructure:"dsn"`
	AutoMigrate bool         `mapstructure:"auto_migrate"`
	Cache       cache.Config `mapstructure:"cache"`
}

// DefaultConfig returns a Config backed by a local sqlite file.
func DefaultConfig() Config {
	return Config{
		Driver:      "sqlite3",
		DSN:         "file:application_cache.db?cache=shared",
		AutoMigrate: true,
		Cache:       cache.DefaultConfig(),
	}
}

// Container wires the database, the store and the cache service, and
// provides factory methods for invalidating repositories.
type Container struct {
	db      *bun.DB
	ownsDB  bool
	store   *cacheinfra.BunStore
	service *cache.Service
	config  Config
	logger  cache.Logger
	svcOpts []cache.Option
}

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the logger shared by the service and the sweeper.
func WithLogger(l cache.Logger) Option {
	return func(c *Container) {
		c.logger = l
		c.svcOpts = append(c.svcOpts, cache.WithLogger(l))
	}
}

// WithServiceOptions forwards options to cache.NewService.
func WithServiceOptions(opts ...cache.Option) Option {
	return func(c *Container) {
		c.svcOpts = append(c.svcOpts, opts...)
	}
}

// NewContainer opens the configured database, optionally migrates it, and
// builds the cache service on top of it. Close releases the database.
func NewContainer(ctx context.Context, cfg Config, opts ...Option) (*Container, error) {
	if cfg.Driver == "" {
		return nil, errors.New("di: database driver is required")
	}
	db, err := cacheinfra.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	c, err := newContainer(ctx, db, cfg, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	c.ownsDB = true
	return c, nil
}

// NewContainerWithDB builds the container on a database the caller owns.
// Close leaves db open.
func NewContainerWithDB(ctx context.Context, db *bun.DB, cfg cache.Config, opts ...Option) (*Container, error) {
	if db == nil {
		return nil, errors.New("di: db is required")
	}
	return newContainer(ctx, db, Config{Driver: db.Dialect().Name().String(), AutoMigrate: true, Cache: cfg}, opts...)
}

// NewContainerWithDefaults creates a container using DefaultConfig.
func NewContainerWithDefaults(ctx context.Context) (*Container, error) {
	return NewContainer(ctx, DefaultConfig())
}

func newContainer(ctx context.Context, db *bun.DB, cfg Config, opts ...Option) (*Container, error) {
	c := &Container{db: db, config: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default().With("component", "application_cache")
	}

	if cfg.AutoMigrate {
		if err := cacheinfra.Migrate(ctx, db); err != nil {
			return nil, fmt.Errorf("migrate cache table: %w", err)
		}
	}

	c.store = cacheinfra.NewBunStore(db)
	svc, err := cache.NewService(c.store, cfg.Cache, c.svcOpts...)
	if err != nil {
		return nil, err
	}
	c.service = svc
	return c, nil
}

// Service returns the cache service.
func (c *Container) Service() *cache.Service {
	return c.service
}

// Store returns the relational store, which also serves inspection queries.
func (c *Container) Store() *cacheinfra.BunStore {
	return c.store
}

// DB returns the underlying database handle.
func (c *Container) DB() *bun.DB {
	return c.db
}

// Config returns a copy of the configuration used by this container.
func (c *Container) Config() Config {
	return c.config
}

// Sweeper returns a sweeper running at the configured interval. ok is false
// when the interval is zero and sweeping is disabled.
func (c *Container) Sweeper() (sweeper *maintenance.Sweeper, ok bool, err error) {
	if c.config.Cache.SweepInterval <= 0 {
		return nil, false, nil
	}
	sweeper, err = maintenance.NewSweeper(c.service, c.config.Cache.SweepInterval, c.logger)
	if err != nil {
		return nil, false, err
	}
	return sweeper, true, nil
}

// StartSweeper runs the sweeper in the background until ctx is done.
// It is a no-op when sweeping is disabled.
func (c *Container) StartSweeper(ctx context.Context) error {
	sweeper, ok, err := c.Sweeper()
	if err != nil || !ok {
		return err
	}
	go sweeper.Run(ctx)
	return nil
}

// Close releases the database when the container opened it.
func (c *Container) Close() error {
	if !c.ownsDB {
		return nil
	}
	return c.db.Close()
}

// NewInvalidatingRepository wraps base so its writes expire cache entries.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: NewInvalidatingRepository[Collection](container, baseCollectionRepository, rules...)
func NewInvalidatingRepository[T any](c *Container, base repository.Repository[T], opts ...repositorycache.Option[T]) *repositorycache.InvalidatingRepository[T] {
	opts = append([]repositorycache.Option[T]{repositorycache.WithLogger[T](c.logger)}, opts...)
	return repositorycache.New(base, c.service, opts...)
}
