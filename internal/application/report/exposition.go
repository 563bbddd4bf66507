package report

import (
	"bytes"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/erp/ingestor/internal/domain/ingestion"
)

// Exposition metric names. They are part of the operator contract and must not change.
const (
	Namespace = "ingestion"

	MetricAPICallsTotal          = "ingestion_api_calls_total"
	MetricErrorsTotal            = "ingestion_errors_total"
	MetricCacheHitsTotal         = "ingestion_cache_hits_total"
	MetricEntitiesProcessedTotal = "ingestion_entities_processed_total"
	MetricEntitiesSucceededTotal = "ingestion_entities_succeeded_total"
	MetricEntitiesFailedTotal    = "ingestion_entities_failed_total"
	MetricMetricsFetchedTotal    = "ingestion_metrics_fetched_total"
	MetricMetricsStoredTotal     = "ingestion_metrics_stored_total"
	MetricRetriesTotal           = "ingestion_retries_total"
	MetricRunDurationSeconds     = "ingestion_run_duration_seconds"
	MetricSuccessRate            = "ingestion_success_rate"
	MetricCacheHitRate           = "ingestion_cache_hit_rate"
	MetricLastRunTimestamp       = "ingestion_last_run_timestamp_seconds"
)

// Exposition holds the metrics of one run in a private registry.
type Exposition struct {
	registry *prometheus.Registry
}

// NewExposition builds the exposition for summary.
func NewExposition(summary *ingestion.RunSummary) (*Exposition, error) {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"workflow": summary.Workflow}

	counters := []struct {
		name  string
		help  string
		value int
	}{
		{"api_calls_total", "Provider calls made, including retried attempts.", summary.APICalls},
		{"cache_hits_total", "Entities served from the response cache.", summary.CacheHits},
		{"entities_processed_total", "Entities processed.", summary.CompaniesProcessed},
		{"entities_succeeded_total", "Entities ingested successfully.", summary.CompaniesSucceeded},
		{"entities_failed_total", "Entities that failed.", summary.CompaniesFailed},
		{"metrics_fetched_total", "Mapped provider fields received.", summary.MetricsFetched},
		{"metrics_stored_total", "Metric facts written.", summary.MetricsStored},
		{"retries_total", "Failed transient provider attempts.", summary.Retries},
	}
	for _, c := range counters {
		counter := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        c.name,
			Help:        c.help,
			ConstLabels: labels,
		})
		counter.Add(float64(c.value))
		if err := registry.Register(counter); err != nil {
			return nil, fmt.Errorf("register %s: %w", c.name, err)
		}
	}

	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   Namespace,
		Name:        "errors_total",
		Help:        "Failed entities by error category.",
		ConstLabels: labels,
	}, []string{"category"})
	for _, category := range ingestion.AllCategories() {
		errorsTotal.WithLabelValues(category.String()).Add(float64(summary.ErrorsByCategory[category]))
	}
	if err := registry.Register(errorsTotal); err != nil {
		return nil, fmt.Errorf("register errors_total: %w", err)
	}

	gauges := []struct {
		name  string
		help  string
		value float64
	}{
		{"run_duration_seconds", "Wall-clock duration of the run.", summary.DurationSeconds},
		{"success_rate", "Succeeded over processed entities.", summary.SuccessRate},
		{"cache_hit_rate", "Cache hits over processed entities.", summary.CacheHitRate},
		{"last_run_timestamp_seconds", "Unix time the run finished.", float64(summary.FinishedAt.UnixNano()) / 1e9},
	}
	for _, g := range gauges {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        g.name,
			Help:        g.help,
			ConstLabels: labels,
		})
		gauge.Set(g.value)
		if err := registry.Register(gauge); err != nil {
			return nil, fmt.Errorf("register %s: %w", g.name, err)
		}
	}

	return &Exposition{registry: registry}, nil
}

// Registry returns the private registry
func (e *Exposition) Registry() *prometheus.Registry {
	return e.registry
}

// Encode renders the text exposition format, suitable for the node_exporter
// textfile collector.
func (e *Exposition) Encode() ([]byte, error) {
	families, err := e.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return nil, fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.Bytes(), nil
}
