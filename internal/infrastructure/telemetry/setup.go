package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/erp/ingestor/internal/infrastructure/config"
)

// Providers bundles the trace, metric and log providers built from one
// telemetry configuration.
type Providers struct {
	Traces  *TracerProvider
	Metrics *MeterProvider
	Logs    *LoggerProvider
}

// Setup builds every provider. Disabled signals get inert providers, so the
// caller can always use Tracer and Meter.
func Setup(ctx context.Context, cfg config.TelemetryConfig, logger *zap.Logger) (*Providers, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = DefaultServiceName
	}

	traces, err := NewTracerProvider(ctx, Config{
		Enabled:           cfg.Enabled,
		CollectorEndpoint: cfg.CollectorEndpoint,
		SamplingRatio:     cfg.SamplingRatio,
		ServiceName:       serviceName,
		Insecure:          cfg.Insecure,
	}, logger)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMeterProvider(ctx, MetricsConfig{
		Enabled:           cfg.MetricsEnabled,
		CollectorEndpoint: cfg.CollectorEndpoint,
		ExportInterval:    cfg.MetricsExportInterval,
		ServiceName:       serviceName,
		Insecure:          cfg.Insecure,
	}, logger)
	if err != nil {
		_ = traces.Shutdown(ctx)
		return nil, err
	}

	logs, err := NewLoggerProvider(ctx, LogsConfig{
		Enabled:           cfg.LogsEnabled,
		CollectorEndpoint: cfg.CollectorEndpoint,
		ServiceName:       serviceName,
		Insecure:          cfg.Insecure,
	}, logger)
	if err != nil {
		_ = traces.Shutdown(ctx)
		_ = metrics.Shutdown(ctx)
		return nil, err
	}

	return &Providers{Traces: traces, Metrics: metrics, Logs: logs}, nil
}

// Tracer returns the ingestor tracer.
func (p *Providers) Tracer() trace.Tracer {
	return p.Traces.Tracer(InstrumentationScope)
}

// Meter returns the ingestor meter.
func (p *Providers) Meter() metric.Meter {
	return p.Metrics.Meter(InstrumentationScope)
}

// Shutdown flushes and stops every provider, logs last so shutdown errors
// from the others can still be exported.
func (p *Providers) Shutdown(ctx context.Context) error {
	return errors.Join(
		p.Traces.Shutdown(ctx),
		p.Metrics.Shutdown(ctx),
		p.Logs.Shutdown(ctx),
	)
}
