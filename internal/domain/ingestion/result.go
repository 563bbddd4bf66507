package ingestion

import (
	"time"

	"github.com/google/uuid"
)

// UnitState is a state of the per-entity ingestion state machine
type UnitState string

const (
	StateStart           UnitState = "START"
	StateResolvingEntity UnitState = "RESOLVING_ENTITY"
	StateFetching        UnitState = "FETCHING"
	StateValidating      UnitState = "VALIDATING"
	StateStoring         UnitState = "STORING"
	StateSucceeded       UnitState = "SUCCEEDED"
	StateFailed          UnitState = "FAILED"
)

// IsTerminal returns true for SUCCEEDED and FAILED
func (s UnitState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// IngestionResult is the outcome of ingesting one entity in one run.
// It is a value: once returned by the unit it is never modified.
type IngestionResult struct {
	ExternalKey   string         `json:"key"`
	EntityID      uuid.UUID      `json:"entity_id,omitempty"`
	Success       bool           `json:"success"`
	State         UnitState      `json:"state"`
	FailedIn      UnitState      `json:"failed_in,omitempty"`
	FieldsFetched int            `json:"fields_fetched"`
	MetricsStored int            `json:"metrics_stored"`
	ErrorCategory *ErrorCategory `json:"error_category,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	RetryCount    int            `json:"retry_count"`
	APICalls      int            `json:"api_calls"`
	CacheHit      bool           `json:"cache_hit"`
	EntityCreated bool           `json:"entity_created"`
	StartedAt     time.Time      `json:"started_at"`
	Duration      time.Duration  `json:"-"`
}

// Category returns the error category, or "" for successes.
func (r IngestionResult) Category() ErrorCategory {
	if r.ErrorCategory == nil {
		return ""
	}
	return *r.ErrorCategory
}
