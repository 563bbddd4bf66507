package ingestion

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/erp/ingestor/internal/domain/ingestion"
	"github.com/erp/ingestor/internal/infrastructure/logger"
)

// unit is the state machine ingesting a single entity. It lives for exactly
// one call to run and emits exactly one result.
type unit struct {
	engine   *Engine
	workflow *ingestion.Workflow
	key      string
	store    ingestion.MetricStore
	dryRun   bool

	result ingestion.IngestionResult
	logger *zap.Logger
	span   trace.Span
}

func (u *unit) run(ctx context.Context) (res ingestion.IngestionResult) {
	e := u.engine
	started := e.now()
	u.result = ingestion.IngestionResult{
		ExternalKey: u.key,
		State:       ingestion.StateStart,
		StartedAt:   started,
	}

	ctx, u.span = e.tracer.Start(ctx, "ingestion.entity",
		trace.WithAttributes(
			attribute.String("ingestion.workflow", u.workflow.Name),
			attribute.String("ingestion.entity", u.key),
		),
	)
	defer u.span.End()
	ctx = logger.WithEntityKey(ctx, u.key)

	base := e.logger
	if runID := logger.GetRunID(ctx); runID != "" {
		base = base.With(zap.String("run_id", runID))
	}
	u.logger = logger.WithTraceContext(ctx, base).With(
		zap.String("workflow", u.workflow.Name),
		zap.String("entity", u.key),
	)

	defer func() {
		if r := recover(); r != nil {
			u.logger.Error("Ingestion unit panicked", zap.Any("panic", r), zap.Stack("stack"))
			u.result.MetricsStored = 0
			u.fail(ingestion.CategoryUnexpected, fmt.Errorf("panic: %v", r))
		}
		u.result.Duration = e.now().Sub(started)
		u.span.SetAttributes(
			attribute.Bool("ingestion.success", u.result.Success),
			attribute.Int("ingestion.metrics_stored", u.result.MetricsStored),
			attribute.Int("ingestion.retry_count", u.result.RetryCount),
		)
		res = u.result
	}()

	u.execute(ctx)
	return u.result
}

func (u *unit) execute(ctx context.Context) {
	u.enter(ingestion.StateResolvingEntity)
	entity, created, err := u.engine.resolver.GetOrCreate(ctx, u.key, ingestion.EntityDefaults{Tags: u.workflow.EntityTags})
	if err != nil {
		u.fail(ingestion.CategoryDatabase, err)
		return
	}
	u.result.EntityID = entity.ID
	u.result.EntityCreated = created

	u.enter(ingestion.StateFetching)
	resp, err := u.fetch(ctx)
	if err != nil {
		if ingestion.CategoryOf(err) == ingestion.CategoryAPIFormat {
			u.enter(ingestion.StateValidating)
		}
		u.fail(ingestion.CategoryOf(err), err)
		return
	}

	u.enter(ingestion.StateValidating)
	if err := u.validate(resp, entity); err != nil {
		u.fail(ingestion.CategoryOf(err), err)
		return
	}
	u.cacheResponse(ctx, resp)

	u.enter(ingestion.StateStoring)
	stored, err := u.storeFacts(ctx, resp, entity)
	if err != nil {
		u.fail(ingestion.CategoryOf(err), err)
		return
	}
	u.result.MetricsStored = stored

	u.enter(ingestion.StateSucceeded)
	u.result.Success = true
	u.logger.Info("Entity ingested",
		zap.Int("fields_fetched", u.result.FieldsFetched),
		zap.Int("metrics_stored", stored),
		zap.Int("retry_count", u.result.RetryCount),
		zap.Bool("cache_hit", u.result.CacheHit),
	)
}

// fetch returns a cached response when one exists, otherwise calls the
// provider under the rate limiter and retry policy.
func (u *unit) fetch(ctx context.Context) (*ingestion.ProviderResponse, error) {
	e := u.engine
	cacheKey := u.workflow.CacheKey(u.key)

	if e.cache != nil {
		cached, hit, err := e.cache.Get(ctx, cacheKey)
		if err != nil {
			u.logger.Warn("Response cache read failed, calling provider", zap.Error(err))
		} else if hit {
			u.result.CacheHit = true
			u.logger.Debug("Response cache hit")
			return cached, nil
		}
	}

	var resp *ingestion.ProviderResponse
	retries, err := e.retrier.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := e.limiter.Acquire(ctx); err != nil {
			return fmt.Errorf("acquire rate limit: %w", err)
		}
		u.result.APICalls++

		callCtx, span := e.tracer.Start(ctx, "provider.fetch",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("provider.function", u.workflow.Function),
				attribute.Int("provider.attempt", attempt),
			),
		)
		defer span.End()

		r, err := e.provider.Fetch(callCtx, u.workflow, u.key)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		resp = r
		return nil
	})
	u.result.RetryCount = retries
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// validate checks shape and identity. An empty response carries no identity
// and is left for the storing step to reject as no data.
func (u *unit) validate(resp *ingestion.ProviderResponse, entity *ingestion.Entity) error {
	if resp == nil || resp.Fields == nil {
		return fmt.Errorf("%w: provider returned no field mapping", ingestion.ErrAPIFormat)
	}
	if resp.Empty() {
		return nil
	}

	if identity := ingestion.NormalizeKey(resp.Identity); identity != entity.ExternalKey {
		return fmt.Errorf("%w: requested %s, provider answered for %q", ingestion.ErrIdentityMismatch, entity.ExternalKey, resp.Identity)
	}

	for _, m := range u.workflow.Fields {
		if _, ok := resp.Field(m.Field); ok {
			u.result.FieldsFetched++
		}
	}
	return nil
}

func (u *unit) cacheResponse(ctx context.Context, resp *ingestion.ProviderResponse) {
	e := u.engine
	if e.cache == nil || u.dryRun || u.result.CacheHit || resp.Empty() {
		return
	}
	if err := e.cache.Set(ctx, u.workflow.CacheKey(u.key), resp); err != nil {
		u.logger.Warn("Response cache write failed", zap.Error(err))
	}
}

// storeFacts writes every usable field in one transaction. Any failure rolls
// back the whole entity, so the returned count is zero on error.
func (u *unit) storeFacts(ctx context.Context, resp *ingestion.ProviderResponse, entity *ingestion.Entity) (int, error) {
	if resp.Empty() {
		return 0, fmt.Errorf("%w: provider returned an empty response", ingestion.ErrNoData)
	}

	metricDate := u.engine.now()
	if u.workflow.DateField != "" {
		raw, _ := resp.Field(u.workflow.DateField)
		d, err := ingestion.ParseMetricDate(raw, metricDate)
		if err != nil {
			return 0, err
		}
		metricDate = d
	} else {
		metricDate = ingestion.TruncateToDate(metricDate)
	}

	stored := 0
	err := u.store.WithinTransaction(ctx, func(ctx context.Context, w ingestion.MetricWriter) error {
		for _, m := range u.workflow.Fields {
			raw, present := resp.Field(m.Field)
			fact, err := u.workflow.BuildFact(entity.ID, m, raw, present, metricDate)
			if errors.Is(err, ingestion.ErrMissingValue) {
				continue
			}
			if err != nil {
				return err
			}
			if err := w.Upsert(ctx, fact); err != nil {
				if !errors.Is(err, ingestion.ErrStorage) {
					err = fmt.Errorf("%w: %w", ingestion.ErrStorage, err)
				}
				return err
			}
			stored++
		}
		if stored == 0 {
			return fmt.Errorf("%w: none of %d mapped fields had a value", ingestion.ErrNoData, len(u.workflow.Fields))
		}
		return nil
	})
	if err != nil {
		if ingestion.CategoryOf(err) == ingestion.CategoryUnexpected {
			err = fmt.Errorf("%w: %w", ingestion.ErrStorage, err)
		}
		return 0, err
	}
	return stored, nil
}

func (u *unit) enter(state ingestion.UnitState) {
	u.result.State = state
}

func (u *unit) fail(category ingestion.ErrorCategory, err error) {
	if category == "" {
		category = ingestion.CategoryUnexpected
	}
	u.result.FailedIn = u.result.State
	u.result.State = ingestion.StateFailed
	u.result.Success = false
	u.result.ErrorCategory = &category
	u.result.ErrorMessage = err.Error()

	u.span.RecordError(err)
	u.span.SetStatus(codes.Error, string(category))
	u.logger.Warn("Entity ingestion failed",
		zap.String("failed_in", string(u.result.FailedIn)),
		zap.String("category", category.String()),
		zap.Int("retry_count", u.result.RetryCount),
		zap.Error(err),
	)
}
