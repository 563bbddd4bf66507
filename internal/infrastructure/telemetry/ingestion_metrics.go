package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/erp/ingestor/internal/domain/ingestion"
)

// InstrumentationScope names the tracer and meter used across the ingestor.
const InstrumentationScope = "github.com/erp/ingestor"

// Instrument names recorded by IngestionMetrics.
const (
	InstrumentEntitiesTotal  = "ingestion.entities"
	InstrumentAPICallsTotal  = "ingestion.api_calls"
	InstrumentRetriesTotal   = "ingestion.retries"
	InstrumentCacheHitsTotal = "ingestion.cache_hits"
	InstrumentMetricsStored  = "ingestion.metrics_stored"
	InstrumentEntityDuration = "ingestion.entity.duration"
	InstrumentRunSuccessRate = "ingestion.run.success_rate"
	InstrumentRunDuration    = "ingestion.run.duration"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// ErrMeterNil is returned when no meter is supplied.
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// IngestionMetrics records per-entity and per-run instruments. It is a run
// observer: attach it to the batch runner and every completed unit is counted.
type IngestionMetrics struct {
	logger *zap.Logger

	entities       *Counter
	apiCalls       *Counter
	retries        *Counter
	cacheHits      *Counter
	metricsStored  *Counter
	entityDuration *Histogram
	runSuccessRate *FloatGauge
	runDuration    *FloatGauge
}

// NewIngestionMetrics creates the instruments on meter.
func NewIngestionMetrics(meter metric.Meter, logger *zap.Logger) (*IngestionMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &IngestionMetrics{logger: logger}
	var err error

	if m.entities, err = NewCounter(meter, InstrumentEntitiesTotal, "Entities ingested, by outcome", "{entities}"); err != nil {
		return nil, err
	}
	if m.apiCalls, err = NewCounter(meter, InstrumentAPICallsTotal, "Provider calls including retried attempts", "{calls}"); err != nil {
		return nil, err
	}
	if m.retries, err = NewCounter(meter, InstrumentRetriesTotal, "Failed transient provider attempts", "{attempts}"); err != nil {
		return nil, err
	}
	if m.cacheHits, err = NewCounter(meter, InstrumentCacheHitsTotal, "Entities served from the response cache", "{entities}"); err != nil {
		return nil, err
	}
	if m.metricsStored, err = NewCounter(meter, InstrumentMetricsStored, "Metric facts written", "{facts}"); err != nil {
		return nil, err
	}
	m.entityDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        InstrumentEntityDuration,
		Description: "Wall time of one entity unit",
		Unit:        "s",
		Boundaries:  EntityDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	if m.runSuccessRate, err = NewFloatGauge(meter, InstrumentRunSuccessRate, "Share of entities that succeeded in the last run", "1"); err != nil {
		return nil, err
	}
	if m.runDuration, err = NewFloatGauge(meter, InstrumentRunDuration, "Wall time of the last run", "s"); err != nil {
		return nil, err
	}

	return m, nil
}

// OnEntityComplete records one unit.
func (m *IngestionMetrics) OnEntityComplete(ctx context.Context, run *ingestion.RunSummary, result ingestion.IngestionResult) error {
	workflow := AttrWorkflow.String(run.Workflow)
	outcome := outcomeSuccess
	if !result.Success {
		outcome = outcomeFailure
	}

	m.entities.Inc(ctx, workflow,
		AttrOutcome.String(outcome),
		AttrCategory.String(result.Category().String()),
		AttrCacheHit.Bool(result.CacheHit),
		AttrDryRun.Bool(run.DryRun),
	)
	m.entityDuration.RecordDuration(ctx, result.Duration, workflow, AttrOutcome.String(outcome))

	if result.APICalls > 0 {
		m.apiCalls.Add(ctx, int64(result.APICalls), workflow)
	}
	if result.RetryCount > 0 {
		m.retries.Add(ctx, int64(result.RetryCount), workflow)
	}
	if result.CacheHit {
		m.cacheHits.Inc(ctx, workflow)
	}
	if result.MetricsStored > 0 && !run.DryRun {
		m.metricsStored.Add(ctx, int64(result.MetricsStored), workflow)
	}
	return nil
}

// OnRunComplete records the run gauges.
func (m *IngestionMetrics) OnRunComplete(ctx context.Context, run *ingestion.RunSummary) error {
	attrs := []attribute.KeyValue{AttrWorkflow.String(run.Workflow), AttrDryRun.Bool(run.DryRun)}
	m.runSuccessRate.Record(ctx, run.SuccessRate, attrs...)
	m.runDuration.Record(ctx, run.Duration().Seconds(), attrs...)

	m.logger.Debug("Run metrics recorded",
		zap.String("workflow", run.Workflow),
		zap.Float64("success_rate", run.SuccessRate),
	)
	return nil
}
