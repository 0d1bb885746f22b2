package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"devicehub/internal/bootstrap/config"
	"devicehub/internal/bootstrap/database"
	"devicehub/internal/bootstrap/logging"
	"devicehub/internal/cache"
	"devicehub/internal/infrastructure/bus"
	"devicehub/internal/infrastructure/metrics"
	sqliterepo "devicehub/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "devicehub/internal/infrastructure/persistence/sqlite/uow"
	"devicehub/internal/ports"
	"devicehub/internal/transport/httpapi"
	"devicehub/internal/usecase/usermgmt"
)

const metricsNamespace = "devicehub"

// Module wires everything below the commands. The caller supplies the loaded
// config.Config and the root context.Context.
var Module = fx.Options(
	fx.Provide(provideDatabase),
	fx.Provide(provideBus),
	fx.Provide(provideRegistry),
	fx.Provide(provideCacheDeps),
	fx.Provide(provideUserCache),
	fx.Provide(provideGrantedAuthoritiesCache),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewUserRepository,
			fx.As(new(ports.UserRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(usermgmt.NewService),
	fx.Provide(provideHandler),
	fx.Provide(provideApp),
)

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.Component(ctx, "bootstrap.fx")

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			if err := sqlDB.Close(); err != nil {
				return err
			}
			logging.Info(logCtx, "database connection closed")
			return nil
		},
	})

	return db, nil
}

type closableBus interface {
	ports.InvalidationBus
	Close() error
}

// provideBus builds the invalidation transport. It is appended to the lifecycle
// before the caches, so it closes only after every cache has unsubscribed.
func provideBus(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (ports.InvalidationBus, error) {
	logCtx := logging.Component(ctx, "bootstrap.fx")

	var b closableBus
	switch driver := strings.ToLower(cfg.Bus.Driver); driver {
	case "memory":
		b = bus.NewMemory(ctx, cfg.Bus.Buffer)
	case "nats":
		n, err := bus.DialNATS(ctx, bus.NATSConfig{
			URL:           cfg.Bus.URL,
			Name:          cfg.App.Name,
			SubjectPrefix: cfg.Bus.SubjectPrefix,
			ReconnectWait: cfg.Bus.ReconnectWait,
			MaxReconnects: cfg.Bus.MaxReconnects,
		})
		if err != nil {
			return nil, err
		}
		b = n
	default:
		return nil, fmt.Errorf("unsupported bus driver %q", cfg.Bus.Driver)
	}

	logging.Info(logCtx, "invalidation bus ready", slog.String("driver", cfg.Bus.Driver))

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return b.Close()
		},
	})
	return b, nil
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideCacheDeps(ctx context.Context, cfg config.Config, b ports.InvalidationBus, reg *prometheus.Registry) cache.Deps {
	return cache.Deps{
		Bus:          b,
		Observer:     metrics.NewCacheMetrics(reg, metricsNamespace),
		LogContext:   ctx,
		RetryInitial: cfg.Bus.BackoffInitial,
		RetryMax:     cfg.Bus.BackoffMax,
	}
}

func provideUserCache(lc fx.Lifecycle, cfg config.Config, deps cache.Deps) usermgmt.UserCache {
	return usermgmt.NewUserCache(lc, cfg.Cache(usermgmt.UserCacheID).ToCache(), deps)
}

func provideGrantedAuthoritiesCache(lc fx.Lifecycle, cfg config.Config, deps cache.Deps) usermgmt.GrantedAuthoritiesCache {
	return usermgmt.NewGrantedAuthoritiesCache(lc, cfg.Cache(usermgmt.GrantedAuthoritiesCacheID).ToCache(), deps)
}

func provideHandler(ctx context.Context, svc *usermgmt.Service, reg *prometheus.Registry) http.Handler {
	return httpapi.NewRouter(ctx, svc, reg)
}

func provideApp(cfg config.Config, db *gorm.DB, svc *usermgmt.Service, handler http.Handler) *App {
	return &App{
		Config:  cfg,
		DB:      db,
		Users:   svc,
		Handler: handler,
	}
}
