package models

import (
	"time"

	"github.com/erp/ingestor/internal/domain/ingestion"
	"github.com/google/uuid"
)

// IngestionRunModel is one row of run history.
type IngestionRunModel struct {
	ID                 uuid.UUID                       `gorm:"type:uuid;primaryKey"`
	Workflow           string                          `gorm:"type:varchar(64);not null;index:idx_ingestion_runs_workflow_started,priority:1"`
	Status             ingestion.RunStatus             `gorm:"type:varchar(20);not null"`
	Cancelled          bool                            `gorm:"not null;default:false"`
	StartedAt          time.Time                       `gorm:"not null;index:idx_ingestion_runs_workflow_started,priority:2"`
	FinishedAt         time.Time                       `gorm:"not null"`
	DurationSeconds    float64                         `gorm:"not null"`
	CompaniesProcessed int                             `gorm:"not null;default:0"`
	CompaniesSucceeded int                             `gorm:"not null;default:0"`
	CompaniesFailed    int                             `gorm:"not null;default:0"`
	MetricsFetched     int                             `gorm:"not null;default:0"`
	MetricsStored      int                             `gorm:"not null;default:0"`
	Retries            int                             `gorm:"not null;default:0"`
	APICalls           int                             `gorm:"column:api_calls;not null;default:0"`
	CacheHits          int                             `gorm:"not null;default:0"`
	SuccessRate        float64                         `gorm:"not null;default:0"`
	CacheHitRate       float64                         `gorm:"not null;default:0"`
	ErrorsByCategory   map[ingestion.ErrorCategory]int `gorm:"serializer:json"`
	CompaniesWithRetry []string                        `gorm:"column:companies_with_retries;serializer:json"`
	Skipped            []string                        `gorm:"serializer:json"`
	Results            []IngestionRunResultModel       `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
	CreatedAt          time.Time                       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (IngestionRunModel) TableName() string {
	return "ingestion_runs"
}

// IngestionRunResultModel is the stored IngestionResult of one entity in one run.
type IngestionRunResultModel struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	RunID         uuid.UUID  `gorm:"type:uuid;not null;index"`
	Position      int        `gorm:"not null"`
	ExternalKey   string     `gorm:"type:varchar(32);not null"`
	EntityID      *uuid.UUID `gorm:"type:uuid"`
	Success       bool       `gorm:"not null"`
	State         string     `gorm:"type:varchar(32);not null"`
	FailedIn      string     `gorm:"type:varchar(32)"`
	FieldsFetched int        `gorm:"not null;default:0"`
	MetricsStored int        `gorm:"not null;default:0"`
	ErrorCategory *string    `gorm:"type:varchar(32)"`
	ErrorMessage  string     `gorm:"type:text"`
	RetryCount    int        `gorm:"not null;default:0"`
	APICalls      int        `gorm:"column:api_calls;not null;default:0"`
	CacheHit      bool       `gorm:"not null;default:false"`
	EntityCreated bool       `gorm:"not null;default:false"`
	StartedAt     time.Time  `gorm:"not null"`
	DurationMs    int64      `gorm:"not null;default:0"`
}

// TableName returns the table name for GORM
func (IngestionRunResultModel) TableName() string {
	return "ingestion_run_results"
}

// IngestionRunModelFromDomain maps a finished summary and its results.
func IngestionRunModelFromDomain(s *ingestion.RunSummary) *IngestionRunModel {
	m := &IngestionRunModel{
		ID:                 s.RunID,
		Workflow:           s.Workflow,
		Status:             s.Status,
		Cancelled:          s.Cancelled,
		StartedAt:          s.StartedAt,
		FinishedAt:         s.FinishedAt,
		DurationSeconds:    s.DurationSeconds,
		CompaniesProcessed: s.CompaniesProcessed,
		CompaniesSucceeded: s.CompaniesSucceeded,
		CompaniesFailed:    s.CompaniesFailed,
		MetricsFetched:     s.MetricsFetched,
		MetricsStored:      s.MetricsStored,
		Retries:            s.Retries,
		APICalls:           s.APICalls,
		CacheHits:          s.CacheHits,
		SuccessRate:        s.SuccessRate,
		CacheHitRate:       s.CacheHitRate,
		ErrorsByCategory:   s.ErrorsByCategory,
		CompaniesWithRetry: s.CompaniesWithRetry,
		Skipped:            s.Skipped,
	}
	m.Results = make([]IngestionRunResultModel, 0, len(s.Results))
	for i, r := range s.Results {
		m.Results = append(m.Results, resultModelFromDomain(s.RunID, i, r))
	}
	return m
}

func resultModelFromDomain(runID uuid.UUID, position int, r ingestion.IngestionResult) IngestionRunResultModel {
	m := IngestionRunResultModel{
		ID:            uuid.New(),
		RunID:         runID,
		Position:      position,
		ExternalKey:   r.ExternalKey,
		Success:       r.Success,
		State:         string(r.State),
		FailedIn:      string(r.FailedIn),
		FieldsFetched: r.FieldsFetched,
		MetricsStored: r.MetricsStored,
		ErrorMessage:  r.ErrorMessage,
		RetryCount:    r.RetryCount,
		APICalls:      r.APICalls,
		CacheHit:      r.CacheHit,
		EntityCreated: r.EntityCreated,
		StartedAt:     r.StartedAt,
		DurationMs:    r.Duration.Milliseconds(),
	}
	if r.EntityID != uuid.Nil {
		id := r.EntityID
		m.EntityID = &id
	}
	if r.ErrorCategory != nil {
		c := string(*r.ErrorCategory)
		m.ErrorCategory = &c
	}
	return m
}

// ToDomain converts the stored run back into a summary, including its results
// when they were preloaded.
func (m *IngestionRunModel) ToDomain() ingestion.RunSummary {
	s := ingestion.RunSummary{
		RunID:              m.ID,
		Workflow:           m.Workflow,
		StartedAt:          m.StartedAt.UTC(),
		FinishedAt:         m.FinishedAt.UTC(),
		DurationSeconds:    m.DurationSeconds,
		CompaniesProcessed: m.CompaniesProcessed,
		CompaniesSucceeded: m.CompaniesSucceeded,
		CompaniesFailed:    m.CompaniesFailed,
		MetricsFetched:     m.MetricsFetched,
		MetricsStored:      m.MetricsStored,
		Retries:            m.Retries,
		CompaniesWithRetry: nonNil(m.CompaniesWithRetry),
		APICalls:           m.APICalls,
		CacheHits:          m.CacheHits,
		SuccessRate:        m.SuccessRate,
		CacheHitRate:       m.CacheHitRate,
		ErrorsByCategory:   m.ErrorsByCategory,
		FailedCompanies:    []ingestion.FailedEntity{},
		Status:             m.Status,
		Cancelled:          m.Cancelled,
		Skipped:            m.Skipped,
		Results:            make([]ingestion.IngestionResult, 0, len(m.Results)),
	}
	if s.ErrorsByCategory == nil {
		s.ErrorsByCategory = map[ingestion.ErrorCategory]int{}
	}
	for _, rm := range m.Results {
		r := rm.ToDomain()
		s.Results = append(s.Results, r)
		if !r.Success {
			s.FailedCompanies = append(s.FailedCompanies, ingestion.FailedEntity{
				Key:      r.ExternalKey,
				Category: r.Category(),
				Message:  r.ErrorMessage,
			})
		}
	}
	return s
}

// ToDomain converts a stored result row to an IngestionResult.
func (m *IngestionRunResultModel) ToDomain() ingestion.IngestionResult {
	r := ingestion.IngestionResult{
		ExternalKey:   m.ExternalKey,
		Success:       m.Success,
		State:         ingestion.UnitState(m.State),
		FailedIn:      ingestion.UnitState(m.FailedIn),
		FieldsFetched: m.FieldsFetched,
		MetricsStored: m.MetricsStored,
		ErrorMessage:  m.ErrorMessage,
		RetryCount:    m.RetryCount,
		APICalls:      m.APICalls,
		CacheHit:      m.CacheHit,
		EntityCreated: m.EntityCreated,
		StartedAt:     m.StartedAt.UTC(),
		Duration:      time.Duration(m.DurationMs) * time.Millisecond,
	}
	if m.EntityID != nil {
		r.EntityID = *m.EntityID
	}
	if m.ErrorCategory != nil {
		c := ingestion.ErrorCategory(*m.ErrorCategory)
		r.ErrorCategory = &c
	}
	return r
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
