// Package app wires the storage, geocoding and service layers shared by the
// server and worker binaries.
package app

import (
	"context"
	"fmt"

	"github.com/listing-scanner/internal/config"
	"github.com/listing-scanner/internal/geo"
	"github.com/listing-scanner/internal/logging"
	"github.com/listing-scanner/internal/provider"
	"github.com/listing-scanner/internal/reconcile"
	"github.com/listing-scanner/internal/service"
	"github.com/listing-scanner/internal/storage"
	"github.com/listing-scanner/internal/types"
	"github.com/listing-scanner/migrations"
)

// App holds the open connections and the services built on them
type App struct {
	Config     *config.Config
	Postgres   *storage.PostgresDB
	Store      *storage.PostgresStore
	Redis      *storage.RedisCache
	ClickHouse *storage.ClickHouseDB // nil unless CLICKHOUSE_ENABLED
	Queue      *storage.BatchQueue

	Cycles *service.CycleService
	Jobs   *service.JobService
	Users  *service.UserService
	Resets *service.ResetService

	closers []func()
}

// Open connects to every backend, applies migrations and builds the
// services. Migration failures are returned and must stop the process.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.FromContext(ctx)
	a := &App{Config: cfg}

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	a.Postgres = postgres
	a.closers = append(a.closers, postgres.Close)

	if err := storage.RunMigrationsFrom(cfg.Database.Postgres.URL(), cfg.Database.MigrationsPath); err != nil {
		a.Close()
		return nil, err
	}
	a.Store = storage.NewPostgresStore(postgres)

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	a.Redis = redis
	a.closers = append(a.closers, func() { _ = redis.Close() })
	a.Queue = redis.Queue(cfg.Worker.Queue, cfg.Worker.DeadLetter)

	sinks := []service.ChangeSink{redis.Publisher(cfg.Reconcile.ChangeChannelKey)}
	if cfg.Database.ClickHouse.Enabled {
		clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		a.ClickHouse = clickhouse
		a.closers = append(a.closers, func() { _ = clickhouse.Close() })
		if err := storage.RunClickHouseMigrations(ctx, clickhouse, migrations.ClickHouse, "clickhouse"); err != nil {
			a.Close()
			return nil, err
		}
		sinks = append(sinks, storage.NewListingEventRepository(clickhouse))
	}

	locker := reconcile.Locker(reconcile.NewLockRegistry())
	if cfg.Reconcile.DistributedLock {
		locker = reconcile.Chain(locker, redis.Locker(cfg.Reconcile.LockTTL))
	}

	policy := types.ParseSpatialPolicy(cfg.Reconcile.SpatialPolicy, types.SpatialPassThrough)
	a.Cycles = service.NewCycleService(
		a.Store,
		reconcile.NewEngine(a.Store, locker),
		geo.NewEnricher(NewGeocoder(cfg.Geocoder, redis)),
		provider.Defaults(),
		policy,
		sinks...,
	)
	a.Jobs = service.NewJobService(a.Store)
	a.Users = service.NewUserService(a.Store)
	a.Resets = service.NewResetService(a.Store)

	sinkNames := make([]string, 0, len(sinks))
	for _, s := range sinks {
		sinkNames = append(sinkNames, s.Name())
	}
	logger.WithFields(map[string]interface{}{
		"geocoder":         cfg.Geocoder.Backend,
		"distributed_lock": cfg.Reconcile.DistributedLock,
		"spatial_policy":   string(policy),
		"sinks":            sinkNames,
	}).Info("Services initialized")

	return a, nil
}

// NewGeocoder builds the geocoder chain: Redis cache, then rate limit, then
// circuit breaker in front of the backend. It returns nil for backend
// "none", which leaves listings without coordinates unresolved.
func NewGeocoder(cfg config.GeocoderConfig, redis *storage.RedisCache) geo.Geocoder {
	if cfg.Backend != "nominatim" {
		return nil
	}
	var g geo.Geocoder = geo.NewNominatimGeocoder(cfg.URL, cfg.UserAgent, cfg.CountryCode)
	g = geo.NewBreakerGeocoder(g, "geocoder-"+cfg.Backend)
	g = geo.NewThrottledGeocoder(g, cfg.RequestsPerSecond)
	if redis != nil {
		g = geo.NewCachedGeocoder(g, redis.Client(), cfg.CacheTTL, cfg.MissTTL)
	}
	return g
}

// Close releases connections in reverse order of opening
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
