package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/erp/ingestor/internal/domain/ingestion"
)

// Writer stores an artifact at a local path or object storage URL.
type Writer interface {
	Write(ctx context.Context, target string, data []byte, contentType string) error
}

// Targets are the export destinations. Empty targets are skipped.
type Targets struct {
	SummaryPath string
	MetricsPath string
}

// Exporter writes the summary JSON and the metrics exposition when a run
// completes. It is a run observer.
type Exporter struct {
	writer  Writer
	targets Targets
	logger  *zap.Logger
}

// NewExporter creates an Exporter
func NewExporter(writer Writer, targets Targets, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{writer: writer, targets: targets, logger: logger}
}

// EncodeSummary renders the machine-readable run summary.
func EncodeSummary(summary *ingestion.RunSummary) ([]byte, error) {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	return append(data, '\n'), nil
}

// Export writes every configured target. A failing target does not stop the others.
func (e *Exporter) Export(ctx context.Context, summary *ingestion.RunSummary) error {
	var errs []error

	if e.targets.SummaryPath != "" {
		if err := e.exportSummary(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	if e.targets.MetricsPath != "" {
		if err := e.exportMetrics(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Exporter) exportSummary(ctx context.Context, summary *ingestion.RunSummary) error {
	data, err := EncodeSummary(summary)
	if err != nil {
		return err
	}
	if err := e.writer.Write(ctx, e.targets.SummaryPath, data, "application/json"); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	e.logger.Info("Run summary written", zap.String("target", e.targets.SummaryPath))
	return nil
}

func (e *Exporter) exportMetrics(ctx context.Context, summary *ingestion.RunSummary) error {
	exposition, err := NewExposition(summary)
	if err != nil {
		return err
	}
	data, err := exposition.Encode()
	if err != nil {
		return err
	}
	if err := e.writer.Write(ctx, e.targets.MetricsPath, data, "text/plain; version=0.0.4"); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	e.logger.Info("Run metrics written", zap.String("target", e.targets.MetricsPath))
	return nil
}

// OnEntityComplete is a no-op.
func (e *Exporter) OnEntityComplete(context.Context, *ingestion.RunSummary, ingestion.IngestionResult) error {
	return nil
}

// OnRunComplete exports the finished run.
func (e *Exporter) OnRunComplete(ctx context.Context, summary *ingestion.RunSummary) error {
	return e.Export(ctx, summary)
}
