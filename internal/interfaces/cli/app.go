package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appingestion "github.com/erp/ingestor/internal/application/ingestion"
	"github.com/erp/ingestor/internal/application/report"
	"github.com/erp/ingestor/internal/domain/ingestion"
	"github.com/erp/ingestor/internal/infrastructure/cache"
	"github.com/erp/ingestor/internal/infrastructure/config"
	"github.com/erp/ingestor/internal/infrastructure/logger"
	"github.com/erp/ingestor/internal/infrastructure/notify"
	"github.com/erp/ingestor/internal/infrastructure/persistence"
	"github.com/erp/ingestor/internal/infrastructure/provider"
	"github.com/erp/ingestor/internal/infrastructure/ratelimit"
	"github.com/erp/ingestor/internal/infrastructure/retry"
	"github.com/erp/ingestor/internal/infrastructure/storage"
	"github.com/erp/ingestor/internal/infrastructure/telemetry"
)

// app holds the process-wide dependencies shared by the commands. It is built
// once per invocation and closed when the command returns.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Providers
	db        *persistence.Database
	registry  *ingestion.Registry

	entities *persistence.GormEntityRepository
	facts    *persistence.GormMetricFactRepository
	runs     *persistence.GormRunRepository

	closers []io.Closer
}

// newApp sets up logging, telemetry and the database.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logCfg := &logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output}

	bootLogger, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	telemetry.ServiceVersion = Version
	providers, err := telemetry.Setup(ctx, cfg.Telemetry, bootLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	log, err := logger.New(logCfg, telemetry.NewZapOTELCore(telemetry.ZapBridgeConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		LoggerProvider: providers.Logs,
		Level:          level,
	}))
	if err != nil {
		_ = providers.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log = log.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))

	a := &app{cfg: cfg, logger: log, telemetry: providers}

	registry, err := ingestion.NewRegistry(cfg.BuildWorkflows()...)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("invalid workflows: %w", err)
	}
	a.registry = registry

	return a, nil
}

// openDatabase connects the metric store. sqlite stores are auto-migrated;
// postgres is expected to be migrated with `ingest migrate up`.
func (a *app) openDatabase() error {
	db, err := persistence.NewDatabase(&a.cfg.Database, a.logger)
	if err != nil {
		return err
	}
	a.db = db

	if a.cfg.Database.Driver == config.DriverSQLite {
		if err := db.AutoMigrate(); err != nil {
			return fmt.Errorf("failed to migrate sqlite store: %w", err)
		}
	}

	tracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:          a.cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:       a.cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh:  a.cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:         telemetry.DBSystemFor(a.cfg.Database.Driver),
		WithoutVariables: !a.cfg.Telemetry.DBLogFullSQL,
	}, a.logger)
	if err := tracing.RegisterOtelGorm(db.DB); err != nil {
		return fmt.Errorf("failed to register database tracing: %w", err)
	}

	a.entities = persistence.NewGormEntityRepository(db.DB)
	a.facts = persistence.NewGormMetricFactRepository(db.DB)
	a.runs = persistence.NewGormRunRepository(db.DB)
	return nil
}

// runnerSettings are the per-invocation knobs of the run command.
type runnerSettings struct {
	targets report.Targets
}

// newRunner builds the engine and the batch runner with every observer.
func (a *app) newRunner(ctx context.Context, s runnerSettings) (*appingestion.BatchRunner, error) {
	responseCache, cacheCloser, err := cache.NewResponseCacheFactory(a.cfg.Redis, a.cfg.Cache,
		cache.WithLogger(a.logger),
	).CreateCache()
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, cacheCloser)

	client, err := provider.NewClient(&a.cfg.Provider, a.logger)
	if err != nil {
		return nil, err
	}

	limiter, err := ratelimit.New(ratelimit.Config{
		Calls:    a.cfg.RateLimit.Calls,
		Window:   a.cfg.RateLimit.Window,
		Strategy: ratelimit.Strategy(a.cfg.RateLimit.Strategy),
		Burst:    a.cfg.RateLimit.Burst,
	}, ratelimit.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}

	var pool telemetry.PoolStatsSource
	if a.db != nil {
		pool = a.db
	}
	resources, err := telemetry.RegisterResourceMetrics(a.telemetry.Meter(), limiter, pool, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, resources)

	policy := retry.NewPolicy(retry.Config{
		MaxAttempts: a.cfg.Retry.MaxAttempts,
		BaseDelay:   a.cfg.Retry.BaseDelay,
		MaxDelay:    a.cfg.Retry.MaxDelay,
	}, retry.WithLogger(a.logger))

	engineOpts := []appingestion.Option{
		appingestion.WithLogger(a.logger),
		appingestion.WithTracer(a.telemetry.Tracer()),
	}
	if responseCache != nil {
		engineOpts = append(engineOpts, appingestion.WithCache(responseCache))
	}
	engine, err := appingestion.NewEngine(appingestion.Dependencies{
		Entities: a.entities,
		Store:    a.facts,
		Provider: client,
		Limiter:  limiter,
		Retrier:  policy,
	}, engineOpts...)
	if err != nil {
		return nil, err
	}

	observers, err := a.observers(ctx, s)
	if err != nil {
		return nil, err
	}

	return appingestion.NewBatchRunner(engine, a.registry, a.entities,
		appingestion.WithObservers(observers...),
		appingestion.WithRunnerLogger(a.logger),
	), nil
}

func (a *app) observers(_ context.Context, s runnerSettings) ([]appingestion.Observer, error) {
	metrics, err := telemetry.NewIngestionMetrics(a.telemetry.Meter(), a.logger)
	if err != nil {
		return nil, err
	}

	sink := storage.NewSink(func(ctx context.Context) (storage.Uploader, error) {
		s3, err := storage.NewS3ObjectStorage(ctx, &a.cfg.Storage, storage.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
		return s3, nil
	}, a.logger)

	observers := []appingestion.Observer{
		appingestion.NewLoggingObserver(a.logger),
		metrics,
		appingestion.NewRunRecorder(a.runs, a.logger),
		report.NewExporter(sink, s.targets, a.logger),
	}

	if a.cfg.Webhook.URL != "" {
		webhook, err := notify.NewWebhookObserver(&a.cfg.Webhook, a.logger)
		if err != nil {
			return nil, err
		}
		observers = append(observers, webhook)
	}
	return observers, nil
}

// close releases everything newApp and the builders opened, in reverse order.
func (a *app) close(ctx context.Context) {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("Failed to release resources", zap.Error(err))
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("Failed to shut down telemetry", zap.Error(err))
	}
	logger.Sync(a.logger)
}
