package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/erp/ingestor/internal/infrastructure/persistence"
	"github.com/erp/ingestor/internal/infrastructure/ratelimit"
)

// Instrument names observed by ResourceMetrics.
const (
	InstrumentLimiterAcquired = "ingestion.ratelimit.acquired"
	InstrumentLimiterWaits    = "ingestion.ratelimit.waits"
	InstrumentLimiterWaitTime = "ingestion.ratelimit.wait_time"
	InstrumentPoolConnections = "db.pool.connections"
	InstrumentPoolMax         = "db.pool.connections.max"
	InstrumentPoolWaits       = "db.pool.wait_count"
)

// AttrPoolState labels db.pool.connections as in_use or idle.
var AttrPoolState = attribute.Key("state")

// LimiterStatsSource is implemented by ratelimit.Limiter.
type LimiterStatsSource interface {
	Stats() ratelimit.Stats
}

// PoolStatsSource is implemented by persistence.Database.
type PoolStatsSource interface {
	Stats() (persistence.ConnectionStats, error)
}

// ResourceMetrics reports rate limiter and connection pool usage through
// observable instruments read at collection time.
type ResourceMetrics struct {
	registration metric.Registration
}

// RegisterResourceMetrics creates the observable instruments on meter. A nil
// source is not observed.
func RegisterResourceMetrics(meter metric.Meter, limiter LimiterStatsSource, pool PoolStatsSource, logger *zap.Logger) (*ResourceMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	acquired, err := meter.Int64ObservableCounter(InstrumentLimiterAcquired,
		metric.WithDescription("Rate limiter slots granted"), metric.WithUnit("{calls}"))
	if err != nil {
		return nil, err
	}
	waits, err := meter.Int64ObservableCounter(InstrumentLimiterWaits,
		metric.WithDescription("Acquisitions that had to wait for a slot"), metric.WithUnit("{calls}"))
	if err != nil {
		return nil, err
	}
	waitTime, err := meter.Float64ObservableCounter(InstrumentLimiterWaitTime,
		metric.WithDescription("Time spent waiting for rate limiter slots"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	connections, err := meter.Int64ObservableGauge(InstrumentPoolConnections,
		metric.WithDescription("Connections in the pool by state"), metric.WithUnit("{connection}"))
	if err != nil {
		return nil, err
	}
	maxConnections, err := meter.Int64ObservableGauge(InstrumentPoolMax,
		metric.WithDescription("Maximum number of open connections"), metric.WithUnit("{connection}"))
	if err != nil {
		return nil, err
	}
	poolWaits, err := meter.Int64ObservableCounter(InstrumentPoolWaits,
		metric.WithDescription("Connections waited for"), metric.WithUnit("{connection}"))
	if err != nil {
		return nil, err
	}

	registration, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		if limiter != nil {
			s := limiter.Stats()
			o.ObserveInt64(acquired, s.TotalAcquired)
			o.ObserveInt64(waits, s.TotalWaited)
			o.ObserveFloat64(waitTime, s.TotalWaitTime.Seconds())
		}
		if pool != nil {
			s, err := pool.Stats()
			if err != nil {
				logger.Debug("Skipping pool stats", zap.Error(err))
				return nil
			}
			o.ObserveInt64(connections, int64(s.InUse), metric.WithAttributes(AttrPoolState.String("in_use")))
			o.ObserveInt64(connections, int64(s.Idle), metric.WithAttributes(AttrPoolState.String("idle")))
			o.ObserveInt64(maxConnections, int64(s.MaxOpenConnections))
			o.ObserveInt64(poolWaits, s.WaitCount)
		}
		return nil
	}, acquired, waits, waitTime, connections, maxConnections, poolWaits)
	if err != nil {
		return nil, err
	}

	return &ResourceMetrics{registration: registration}, nil
}

// Close stops observing the sources.
func (m *ResourceMetrics) Close() error {
	return m.registration.Unregister()
}
