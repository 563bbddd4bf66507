package ingestion

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the overall status of a run
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// FailedEntity is one entry of the failed-entity list of a run
type FailedEntity struct {
	Key      string        `json:"key"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`
}

// RunSummary aggregates the results of one run. It is only mutated by the
// single worker executing the run.
type RunSummary struct {
	RunID              uuid.UUID             `json:"run_id"`
	Workflow           string                `json:"workflow"`
	DryRun             bool                  `json:"dry_run"`
	StartedAt          time.Time             `json:"started_at"`
	FinishedAt         time.Time             `json:"finished_at"`
	DurationSeconds    float64               `json:"duration_seconds"`
	CompaniesProcessed int                   `json:"companies_processed"`
	CompaniesSucceeded int                   `json:"companies_succeeded"`
	CompaniesFailed    int                   `json:"companies_failed"`
	MetricsFetched     int                   `json:"metrics_fetched"`
	MetricsStored      int                   `json:"metrics_stored"`
	Retries            int                   `json:"retries"`
	CompaniesWithRetry []string              `json:"companies_with_retries"`
	APICalls           int                   `json:"api_calls"`
	CacheHits          int                   `json:"cache_hits"`
	SuccessRate        float64               `json:"success_rate"`
	CacheHitRate       float64               `json:"cache_hit_rate"`
	ErrorsByCategory   map[ErrorCategory]int `json:"errors_by_category"`
	FailedCompanies    []FailedEntity        `json:"failed_companies"`
	Status             RunStatus             `json:"status"`
	Cancelled          bool                  `json:"cancelled"`
	Skipped            []string              `json:"skipped,omitempty"`
	Results            []IngestionResult     `json:"results"`
}

// NewRunSummary starts an empty summary.
func NewRunSummary(workflow string, dryRun bool, startedAt time.Time) *RunSummary {
	return &RunSummary{
		RunID:              uuid.New(),
		Workflow:           workflow,
		DryRun:             dryRun,
		StartedAt:          startedAt,
		CompaniesWithRetry: []string{},
		ErrorsByCategory:   map[ErrorCategory]int{},
		FailedCompanies:    []FailedEntity{},
		Results:            []IngestionResult{},
	}
}

// Record appends one entity result, preserving call order.
func (s *RunSummary) Record(r IngestionResult) {
	s.Results = append(s.Results, r)
	s.CompaniesProcessed++
	s.MetricsFetched += r.FieldsFetched
	s.MetricsStored += r.MetricsStored
	s.Retries += r.RetryCount
	s.APICalls += r.APICalls
	if r.CacheHit {
		s.CacheHits++
	}
	if r.RetryCount > 0 {
		s.CompaniesWithRetry = append(s.CompaniesWithRetry, r.ExternalKey)
	}

	if r.Success {
		s.CompaniesSucceeded++
		return
	}
	s.CompaniesFailed++
	category := r.Category()
	if category == "" {
		category = CategoryUnexpected
	}
	s.ErrorsByCategory[category]++
	s.FailedCompanies = append(s.FailedCompanies, FailedEntity{
		Key:      r.ExternalKey,
		Category: category,
		Message:  r.ErrorMessage,
	})
}

// Skip records entities that were never attempted because the run was cancelled.
func (s *RunSummary) Skip(keys ...string) {
	if len(keys) == 0 {
		return
	}
	s.Cancelled = true
	s.Skipped = append(s.Skipped, keys...)
}

// Finish stamps the end time and derives rates and status.
func (s *RunSummary) Finish(finishedAt time.Time) {
	s.FinishedAt = finishedAt
	s.DurationSeconds = finishedAt.Sub(s.StartedAt).Seconds()
	if s.CompaniesProcessed > 0 {
		s.SuccessRate = float64(s.CompaniesSucceeded) / float64(s.CompaniesProcessed)
		s.CacheHitRate = float64(s.CacheHits) / float64(s.CompaniesProcessed)
	}

	switch {
	case s.Cancelled:
		s.Status = RunStatusCancelled
	case s.CompaniesFailed == 0:
		s.Status = RunStatusSucceeded
	case s.CompaniesSucceeded == 0:
		s.Status = RunStatusFailed
	default:
		s.Status = RunStatusPartial
	}
}

// HasFailures reports whether any entity failed. It drives the process exit status.
func (s *RunSummary) HasFailures() bool {
	return s.CompaniesFailed > 0
}

// Duration returns the run duration.
func (s *RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
