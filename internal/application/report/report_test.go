package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erp/ingestor/internal/domain/ingestion"
)

var started = time.Date(2024, 5, 17, 14, 30, 0, 0, time.UTC)

func sampleSummary() *ingestion.RunSummary {
	s := ingestion.NewRunSummary("company_overview", false, started)
	timeout := ingestion.CategoryTimeout
	s.Record(ingestion.IngestionResult{ExternalKey: "AAA", Success: true, FieldsFetched: 2, MetricsStored: 1, APICalls: 1, Duration: 120 * time.Millisecond})
	s.Record(ingestion.IngestionResult{ExternalKey: "BBB", Success: true, FieldsFetched: 1, MetricsStored: 1, RetryCount: 2, APICalls: 3})
	s.Record(ingestion.IngestionResult{ExternalKey: "CCC", CacheHit: true, ErrorCategory: &timeout, ErrorMessage: "deadline exceeded", RetryCount: 3, APICalls: 3})
	s.Finish(started.Add(4 * time.Second))
	return s
}

func TestExposition_Values(t *testing.T) {
	exposition, err := NewExposition(sampleSummary())
	require.NoError(t, err)

	expected := `
# HELP ingestion_api_calls_total Provider calls made, including retried attempts.
# TYPE ingestion_api_calls_total counter
ingestion_api_calls_total{workflow="company_overview"} 7
# HELP ingestion_retries_total Failed transient provider attempts.
# TYPE ingestion_retries_total counter
ingestion_retries_total{workflow="company_overview"} 5
# HELP ingestion_entities_failed_total Entities that failed.
# TYPE ingestion_entities_failed_total counter
ingestion_entities_failed_total{workflow="company_overview"} 1
`
	err = testutil.GatherAndCompare(exposition.Registry(), strings.NewReader(expected),
		MetricAPICallsTotal, MetricRetriesTotal, MetricEntitiesFailedTotal)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(exposition.Registry(), MetricErrorsTotal)
	require.NoError(t, err)
	assert.Equal(t, len(ingestion.AllCategories()), count, "every category is exported")
}

func TestExposition_Encode(t *testing.T) {
	exposition, err := NewExposition(sampleSummary())
	require.NoError(t, err)

	data, err := exposition.Encode()
	require.NoError(t, err)

	out := string(data)
	for _, name := range []string{
		MetricAPICallsTotal, MetricErrorsTotal, MetricCacheHitsTotal,
		MetricEntitiesProcessedTotal, MetricEntitiesSucceededTotal, MetricEntitiesFailedTotal,
		MetricMetricsFetchedTotal, MetricMetricsStoredTotal, MetricRetriesTotal,
		MetricRunDurationSeconds, MetricSuccessRate, MetricCacheHitRate, MetricLastRunTimestamp,
	} {
		assert.Contains(t, out, "# TYPE "+name+" ", name)
	}
	assert.Contains(t, out, `ingestion_errors_total{category="timeout_error",workflow="company_overview"} 1`)
	assert.Contains(t, out, `ingestion_run_duration_seconds{workflow="company_overview"} 4`)
	assert.Contains(t, out, `ingestion_cache_hit_rate{workflow="company_overview"} 0.3333333333333333`)
}

func TestEncodeSummary(t *testing.T) {
	data, err := EncodeSummary(sampleSummary())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "company_overview", decoded["workflow"])
	assert.Equal(t, float64(3), decoded["companies_processed"])
	assert.Equal(t, float64(5), decoded["retries"])
	assert.Equal(t, []any{"BBB", "CCC"}, decoded["companies_with_retries"])
	assert.Equal(t, map[string]any{"timeout_error": float64(1)}, decoded["errors_by_category"])
	assert.Equal(t, "partial", decoded["status"])
}

func TestRenderTable(t *testing.T) {
	summary := sampleSummary()
	summary.Skip("DDD")

	var buf bytes.Buffer
	RenderTable(&buf, summary)

	out := buf.String()
	assert.Contains(t, out, "AAA")
	assert.Contains(t, out, "timeout_error")
	assert.Contains(t, out, "deadline exceeded")
	assert.Contains(t, out, "skipped")
	assert.Contains(t, out, "2/3 ok")
	assert.Contains(t, out, "4s", "footer keeps duration units")
	assert.NotContains(t, out, "2/3 OK")
}

func TestRenderTable_DryRunCaption(t *testing.T) {
	summary := ingestion.NewRunSummary("company_overview", true, started)
	summary.Record(ingestion.IngestionResult{ExternalKey: "AAA", Success: true, MetricsStored: 3, EntityCreated: true})
	summary.Finish(started.Add(time.Second))

	var buf bytes.Buffer
	RenderTable(&buf, summary)

	assert.Contains(t, buf.String(), "dry run: no facts or run history were written")
}

type memoryWriter struct {
	files map[string][]byte
	fail  string
}

func (w *memoryWriter) Write(_ context.Context, target string, data []byte, _ string) error {
	if target == w.fail {
		return errors.New("permission denied")
	}
	w.files[target] = data
	return nil
}

func TestExporter_WritesTargets(t *testing.T) {
	w := &memoryWriter{files: map[string][]byte{}}
	exporter := NewExporter(w, Targets{SummaryPath: "out/summary.json", MetricsPath: "s3://reports/metrics.prom"}, zap.NewNop())

	require.NoError(t, exporter.OnRunComplete(context.Background(), sampleSummary()))

	assert.Contains(t, string(w.files["out/summary.json"]), `"workflow": "company_overview"`)
	assert.Contains(t, string(w.files["s3://reports/metrics.prom"]), MetricSuccessRate)
}

func TestExporter_SkipsEmptyTargetsAndJoinsErrors(t *testing.T) {
	w := &memoryWriter{files: map[string][]byte{}, fail: "out/summary.json"}
	exporter := NewExporter(w, Targets{SummaryPath: "out/summary.json"}, nil)

	err := exporter.Export(context.Background(), sampleSummary())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Empty(t, w.files)
}
