// Package ingestion runs ingestion workflows: it resolves entities, fetches
// provider data under the shared rate limit and retry policy, validates the
// response and stores the resulting metric facts, one entity at a time.
package ingestion

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/erp/ingestor/internal/domain/ingestion"
)

// Limiter gates provider calls. Acquire blocks until a call is permitted.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Retrier runs op until it succeeds or gives up, returning the number of
// failed transient attempts.
type Retrier interface {
	Do(ctx context.Context, op func(ctx context.Context, attempt int) error) (int, error)
}

// Dependencies are the collaborators every engine needs.
type Dependencies struct {
	Entities ingestion.EntityRepository
	Store    ingestion.MetricStore
	Provider ingestion.ProviderClient
	Limiter  Limiter
	Retrier  Retrier
}

// Engine executes ingestion units. It holds no per-run state and is built
// once at startup.
type Engine struct {
	resolver *EntityResolver
	store    ingestion.MetricStore
	provider ingestion.ProviderClient
	limiter  Limiter
	retrier  Retrier
	cache    ingestion.ResponseCache
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithCache enables the provider response cache.
func WithCache(c ingestion.ResponseCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the tracer used for entity and provider spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine validates deps and applies options.
func NewEngine(deps Dependencies, opts ...Option) (*Engine, error) {
	switch {
	case deps.Entities == nil:
		return nil, errors.New("ingestion engine: entity repository is required")
	case deps.Store == nil:
		return nil, errors.New("ingestion engine: metric store is required")
	case deps.Provider == nil:
		return nil, errors.New("ingestion engine: provider client is required")
	case deps.Limiter == nil:
		return nil, errors.New("ingestion engine: rate limiter is required")
	case deps.Retrier == nil:
		return nil, errors.New("ingestion engine: retry policy is required")
	}

	e := &Engine{
		store:    deps.Store,
		provider: deps.Provider,
		limiter:  deps.Limiter,
		retrier:  deps.Retrier,
		logger:   zap.NewNop(),
		tracer:   noop.NewTracerProvider().Tracer(""),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resolver = NewEntityResolver(deps.Entities, e.logger)
	return e, nil
}

// Resolver returns the entity resolver the engine uses.
func (e *Engine) Resolver() *EntityResolver {
	return e.resolver
}

// Ingest runs one ingestion unit for key against the engine's metric store.
func (e *Engine) Ingest(ctx context.Context, wf *ingestion.Workflow, key string) ingestion.IngestionResult {
	return e.ingest(ctx, wf, key, e.store, false)
}

func (e *Engine) ingest(ctx context.Context, wf *ingestion.Workflow, key string, store ingestion.MetricStore, dryRun bool) ingestion.IngestionResult {
	u := &unit{
		engine:   e,
		workflow: wf,
		key:      ingestion.NormalizeKey(key),
		store:    store,
		dryRun:   dryRun,
	}
	return u.run(ctx)
}
