// Package notify delivers run notifications to external endpoints.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/erp/ingestor/internal/domain/ingestion"
	"github.com/erp/ingestor/internal/infrastructure/config"
)

// EventRunCompleted is the event name carried in every webhook payload.
const EventRunCompleted = "ingestion.run.completed"

const maxErrorBodySize = 4 << 10

// ErrWebhookRejected is returned when the endpoint answers with a non-2xx status.
var ErrWebhookRejected = errors.New("notify: webhook rejected")

// Payload is the JSON document POSTed on run completion.
type Payload struct {
	Event    string                `json:"event"`
	SentAt   time.Time             `json:"sent_at"`
	Failures bool                  `json:"has_failures"`
	Summary  *ingestion.RunSummary `json:"summary"`
}

// WebhookObserver POSTs the run summary to a URL when a run completes.
type WebhookObserver struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// NewWebhookObserver creates a WebhookObserver. A zero timeout defaults to 10s.
func NewWebhookObserver(cfg *config.WebhookConfig, logger *zap.Logger) (*WebhookObserver, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("notify: webhook url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookObserver{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		now:        time.Now,
	}, nil
}

// OnEntityComplete is a no-op.
func (w *WebhookObserver) OnEntityComplete(context.Context, *ingestion.RunSummary, ingestion.IngestionResult) error {
	return nil
}

// OnRunComplete sends the summary.
func (w *WebhookObserver) OnRunComplete(ctx context.Context, summary *ingestion.RunSummary) error {
	body, err := json.Marshal(Payload{
		Event:    EventRunCompleted,
		SentAt:   w.now().UTC(),
		Failures: summary.HasFailures(),
		Summary:  summary,
	})
	if err != nil {
		return fmt.Errorf("notify: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Ingestion-Event", EventRunCompleted)
	req.Header.Set("X-Ingestion-Run", summary.RunID.String())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return fmt.Errorf("%w: HTTP %d: %s", ErrWebhookRejected, resp.StatusCode, bytes.TrimSpace(detail))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	w.logger.Info("Run notification delivered",
		zap.String("run_id", summary.RunID.String()),
		zap.Int("status", resp.StatusCode),
	)
	return nil
}
