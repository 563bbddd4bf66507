package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/erp/ingestor/internal/domain/ingestion"
	"github.com/erp/ingestor/internal/infrastructure/logger"
)

// AllEntities selects every known entity when passed as the only key.
const AllEntities = "all"

// ErrNoEntities is returned when a run resolves to an empty entity list.
var ErrNoEntities = errors.New("ingestion: no entities to process")

// RunOptions tunes a single run.
type RunOptions struct {
	DryRun bool
	// EntityDelay is waited before every entity after the first, on top of
	// the rate limiter.
	EntityDelay time.Duration
}

// BatchRunner processes the entities of a workflow strictly one after the
// other and aggregates the results into a RunSummary.
type BatchRunner struct {
	engine    *Engine
	registry  *ingestion.Registry
	entities  ingestion.EntityRepository
	notifier  *notifier
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration)
	observers []Observer
}

// RunnerOption configures a BatchRunner
type RunnerOption func(*BatchRunner)

// WithObservers registers run observers, notified in order.
func WithObservers(observers ...Observer) RunnerOption {
	return func(r *BatchRunner) { r.observers = append(r.observers, observers...) }
}

// WithRunnerLogger sets the logger
func WithRunnerLogger(l *zap.Logger) RunnerOption {
	return func(r *BatchRunner) { r.logger = l }
}

// WithDelaySleep replaces the inter-entity wait, mainly for tests.
func WithDelaySleep(sleep func(ctx context.Context, d time.Duration)) RunnerOption {
	return func(r *BatchRunner) { r.sleep = sleep }
}

// NewBatchRunner creates a runner. entities is used to expand AllEntities.
func NewBatchRunner(engine *Engine, registry *ingestion.Registry, entities ingestion.EntityRepository, opts ...RunnerOption) *BatchRunner {
	r := &BatchRunner{
		engine:   engine,
		registry: registry,
		entities: entities,
		logger:   zap.NewNop(),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.notifier = &notifier{observers: r.observers, logger: r.logger}
	return r
}

// Run ingests keys for the named workflow. It returns an error only when the
// run cannot start; entity failures are reported in the summary and never
// abort the run. Cancellation of ctx is observed before each entity, the
// remaining entities are then recorded as skipped.
func (r *BatchRunner) Run(ctx context.Context, workflowName string, keys []string, opts RunOptions) (*ingestion.RunSummary, error) {
	wf, err := r.registry.Get(workflowName)
	if err != nil {
		return nil, err
	}

	resolved, err := r.ResolveKeys(ctx, wf, keys)
	if err != nil {
		return nil, err
	}

	summary := ingestion.NewRunSummary(wf.Name, opts.DryRun, r.engine.now())
	ctx, log := logger.WithRunID(ctx, r.logger, summary.RunID.String())
	ctx, span := r.engine.tracer.Start(ctx, "ingestion.run",
		trace.WithAttributes(
			attribute.String("ingestion.workflow", wf.Name),
			attribute.String("ingestion.run_id", summary.RunID.String()),
			attribute.Int("ingestion.entities", len(resolved)),
			attribute.Bool("ingestion.dry_run", opts.DryRun),
		),
	)
	defer span.End()

	log.Info("Starting ingestion run",
		zap.String("workflow", wf.Name),
		zap.Int("entities", len(resolved)),
		zap.Bool("dry_run", opts.DryRun),
		zap.Duration("entity_delay", opts.EntityDelay),
	)

	var store ingestion.MetricStore = r.engine.store
	if opts.DryRun {
		store = NewDryRunStore()
	}

	for i, key := range resolved {
		if i > 0 && opts.EntityDelay > 0 {
			r.sleep(ctx, opts.EntityDelay)
		}
		if ctx.Err() != nil {
			log.Warn("Run cancelled, skipping remaining entities",
				zap.Int("skipped", len(resolved)-i),
				zap.Error(ctx.Err()),
			)
			summary.Skip(resolved[i:]...)
			break
		}

		result := r.engine.ingest(context.WithoutCancel(ctx), wf, key, store, opts.DryRun)
		summary.Record(result)
		r.notifier.entityComplete(ctx, summary, result)
	}

	summary.Finish(r.engine.now())
	span.SetAttributes(
		attribute.String("ingestion.status", string(summary.Status)),
		attribute.Int("ingestion.failed", summary.CompaniesFailed),
	)
	r.notifier.runComplete(context.WithoutCancel(ctx), summary)
	return summary, nil
}

// ResolveKeys normalizes and de-duplicates keys, keeping first-seen order.
// A single AllEntities key expands to every stored entity, or to the
// workflow's configured entities when the store is empty.
func (r *BatchRunner) ResolveKeys(ctx context.Context, wf *ingestion.Workflow, keys []string) ([]string, error) {
	if len(keys) == 1 && strings.EqualFold(strings.TrimSpace(keys[0]), AllEntities) {
		stored, err := r.entities.ListExternalKeys(ctx)
		if err != nil {
			return nil, fmt.Errorf("list entities: %w", err)
		}
		keys = stored
		if len(keys) == 0 {
			keys = wf.Entities
		}
	}

	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = ingestion.NormalizeKey(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	if len(out) == 0 {
		return nil, ErrNoEntities
	}
	return out, nil
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
