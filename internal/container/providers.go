package container

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/ratecache"
	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/domain/event"
	"github.com/garyjia/expense-approval/internal/infrastructure/external/ratesapi"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/expense-approval/internal/infrastructure/worker"
	"github.com/garyjia/expense-approval/pkg/clock"
	"github.com/garyjia/expense-approval/pkg/database"
	"go.uber.org/zap"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// ProvideDatabase opens the database and applies pending migrations when enabled.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if _, err := database.NewMigrator(db, logger).Run(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Claims:        repository.NewClaimRepository(sqlDB, logger),
		Policies:      repository.NewPolicyRepository(sqlDB, logger),
		Directory:     repository.NewDirectoryRepository(sqlDB, logger),
		Notifications: repository.NewNotificationRepository(sqlDB, logger),
	}, nil
}

// ProvideRateProvider creates the upstream exchange rate client.
func ProvideRateProvider(cfg *RatesConfig, logger *zap.Logger) (port.RateProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rates config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return ratesapi.NewProvider(ratesapi.Config{
		BaseURL:           cfg.ProviderURL,
		APIKey:            cfg.APIKey,
		Timeout:           cfg.FetchTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}, logger.Named("ratesapi"))
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(newLoggerAdapter(logger.Named("dispatcher"))),
	), nil
}

// ProvideRateCache creates the exchange rate cache in front of provider.
func ProvideRateCache(cfg *RatesConfig, provider port.RateProvider, publisher ratecache.Publisher, clk clock.Clock, logger *zap.Logger) (*ratecache.Cache, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rates config is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("rate provider is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return ratecache.New(provider, ratecache.Options{
		TTL:          cfg.TTL,
		FetchTimeout: cfg.FetchTimeout,
		Clock:        clk,
		Logger:       newLoggerAdapter(logger.Named("ratecache")),
		Publisher:    publisher,
	}), nil
}

// ServiceDeps holds dependencies required for creating application services.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Rates      service.RateSource
	Clock      clock.Clock
	Logger     *zap.Logger
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Rates == nil {
		return nil, fmt.Errorf("rate source is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	serviceLogger := newLoggerAdapter(deps.Logger.Named("service"))
	currency := service.NewCurrencyService(deps.Rates, serviceLogger)

	return &ServiceBundle{
		Claims: service.NewClaimService(
			deps.Repos.Claims,
			deps.Repos.Policies,
			deps.Repos.Directory,
			deps.TxManager,
			deps.Dispatcher,
			deps.Clock,
			serviceLogger,
		),
		Currency: currency,
		Stats: service.NewStatsService(
			deps.Repos.Claims,
			deps.Repos.Directory,
			currency,
			deps.Clock,
		),
		Notifier: service.NewNotifier(
			deps.Repos.Notifications,
			deps.Repos.Directory,
			deps.Clock,
			serviceLogger,
		),
	}, nil
}

// RegisterEventHandlers subscribes the application's handlers to the dispatcher.
func RegisterEventHandlers(d dispatcher.Dispatcher, services *ServiceBundle, logger *zap.Logger) error {
	if d == nil || services == nil || logger == nil {
		return fmt.Errorf("dispatcher, services and logger are required")
	}

	services.Notifier.Register(d)

	audit := logger.Named("events")
	d.Subscribe(event.TypeRatesDegraded, "degraded-rates-log", func(ctx context.Context, evt *event.Event) error {
		audit.Warn("Exchange rates degraded",
			zap.String("event_id", evt.ID),
			zap.String("base", evt.GetPayloadString(event.KeyBase)),
			zap.String("source", evt.GetPayloadString(event.KeySource)),
			zap.String("cause", evt.GetPayloadString(event.KeyError)))
		return nil
	})
	d.Subscribe(event.TypeClaimPolicyStuck, "policy-stuck-log", func(ctx context.Context, evt *event.Event) error {
		audit.Warn("Claim stuck under its approval policy",
			zap.String("claim_id", evt.ClaimID),
			zap.String("company_id", evt.GetPayloadString(event.KeyCompanyID)),
			zap.String("reason", evt.GetPayloadString(event.KeyReason)))
		return nil
	})
	return nil
}

// WorkerDeps holds dependencies required for creating workers.
type WorkerDeps struct {
	Rates     worker.RateSource
	WorkerCfg *WorkerConfig
	Logger    *zap.Logger
}

// ProvideWorkers creates the worker manager and registers all workers.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.WorkerCfg == nil {
		return nil, fmt.Errorf("worker config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(deps.Logger.Named("workers"))

	if len(deps.WorkerCfg.WarmBases) > 0 {
		if deps.Rates == nil {
			return nil, fmt.Errorf("rate source is required for the rate warmer")
		}
		cfg := worker.DefaultRateWarmerConfig()
		cfg.Bases = deps.WorkerCfg.WarmBases
		cfg.Interval = deps.WorkerCfg.WarmInterval
		manager.Register(worker.NewRateWarmer(cfg, deps.Rates, deps.Logger.Named("rate_warmer")))
	}

	return manager, nil
}

// zapLoggerAdapter adapts zap.Logger to the key/value Logger interfaces of the
// application packages.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func newLoggerAdapter(logger *zap.Logger) *zapLoggerAdapter {
	// skip the adapter frame so callers show up in the log
	return &zapLoggerAdapter{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Warn(msg string, keysAndValues ...interface{}) {
	a.logger.Warn(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}

// NewLoggerAdapter exposes the key/value adapter for packages wired outside the container.
func NewLoggerAdapter(logger *zap.Logger) service.Logger {
	return newLoggerAdapter(logger)
}
