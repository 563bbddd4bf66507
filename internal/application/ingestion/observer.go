package ingestion

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/erp/ingestor/internal/domain/ingestion"
)

// Observer is notified as a run progresses. Errors returned by observers are
// logged and never change the outcome of the run.
type Observer interface {
	OnEntityComplete(ctx context.Context, run *ingestion.RunSummary, result ingestion.IngestionResult) error
	OnRunComplete(ctx context.Context, run *ingestion.RunSummary) error
}

// notifier fans events out to observers, isolating the run from their
// failures and panics.
type notifier struct {
	observers []Observer
	logger    *zap.Logger
}

func (n *notifier) entityComplete(ctx context.Context, run *ingestion.RunSummary, result ingestion.IngestionResult) {
	for _, o := range n.observers {
		n.call(o, "entity_complete", func() error { return o.OnEntityComplete(ctx, run, result) })
	}
}

func (n *notifier) runComplete(ctx context.Context, run *ingestion.RunSummary) {
	for _, o := range n.observers {
		n.call(o, "run_complete", func() error { return o.OnRunComplete(ctx, run) })
	}
}

func (n *notifier) call(o Observer, event string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Observer panicked",
				zap.String("observer", fmt.Sprintf("%T", o)),
				zap.String("event", event),
				zap.Any("panic", r),
			)
		}
	}()
	if err := fn(); err != nil {
		n.logger.Warn("Observer failed",
			zap.String("observer", fmt.Sprintf("%T", o)),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

// LoggingObserver writes one log line per entity and a run summary line.
type LoggingObserver struct {
	logger *zap.Logger
}

// NewLoggingObserver creates a LoggingObserver
func NewLoggingObserver(logger *zap.Logger) *LoggingObserver {
	return &LoggingObserver{logger: logger}
}

// OnEntityComplete logs the entity outcome.
func (o *LoggingObserver) OnEntityComplete(_ context.Context, run *ingestion.RunSummary, r ingestion.IngestionResult) error {
	fields := []zap.Field{
		zap.String("run_id", run.RunID.String()),
		zap.String("entity", r.ExternalKey),
		zap.Bool("success", r.Success),
		zap.Int("metrics_stored", r.MetricsStored),
		zap.Int("retry_count", r.RetryCount),
		zap.Duration("duration", r.Duration),
	}
	if !r.Success {
		fields = append(fields, zap.String("category", r.Category().String()))
	}
	o.logger.Info("Entity complete", fields...)
	return nil
}

// OnRunComplete logs the run totals.
func (o *LoggingObserver) OnRunComplete(_ context.Context, run *ingestion.RunSummary) error {
	o.logger.Info("Run complete",
		zap.String("run_id", run.RunID.String()),
		zap.String("workflow", run.Workflow),
		zap.String("status", string(run.Status)),
		zap.Int("processed", run.CompaniesProcessed),
		zap.Int("succeeded", run.CompaniesSucceeded),
		zap.Int("failed", run.CompaniesFailed),
		zap.Int("metrics_stored", run.MetricsStored),
		zap.Int("api_calls", run.APICalls),
		zap.Int("retries", run.Retries),
		zap.Float64("duration_seconds", run.DurationSeconds),
	)
	return nil
}

// RunRecorder persists the summary of every non-dry run.
type RunRecorder struct {
	repo   ingestion.RunRepository
	logger *zap.Logger
}

// NewRunRecorder creates a RunRecorder
func NewRunRecorder(repo ingestion.RunRepository, logger *zap.Logger) *RunRecorder {
	return &RunRecorder{repo: repo, logger: logger}
}

// OnEntityComplete is a no-op; the run is saved as a whole.
func (r *RunRecorder) OnEntityComplete(context.Context, *ingestion.RunSummary, ingestion.IngestionResult) error {
	return nil
}

// OnRunComplete saves the run and its results.
func (r *RunRecorder) OnRunComplete(ctx context.Context, run *ingestion.RunSummary) error {
	if run.DryRun {
		return nil
	}
	if err := r.repo.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("save run %s: %w", run.RunID, err)
	}
	r.logger.Debug("Run history saved", zap.String("run_id", run.RunID.String()))
	return nil
}
