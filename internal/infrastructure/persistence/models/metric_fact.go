package models

import (
	"time"

	"github.com/erp/ingestor/internal/domain/ingestion"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MetricFactModel is the persistence model for ingestion.MetricFact.
// (entity_id, metric_type, metric_date, period_type) is the natural key.
type MetricFactModel struct {
	BaseModel
	EntityID   uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex:idx_metric_facts_natural_key,priority:1"`
	MetricType string               `gorm:"type:varchar(64);not null;uniqueIndex:idx_metric_facts_natural_key,priority:2"`
	MetricDate time.Time            `gorm:"not null;uniqueIndex:idx_metric_facts_natural_key,priority:3"`
	PeriodType ingestion.PeriodType `gorm:"type:varchar(20);not null;uniqueIndex:idx_metric_facts_natural_key,priority:4"`
	Value      decimal.Decimal      `gorm:"type:numeric(24,6);not null"`
	Unit       ingestion.MetricUnit `gorm:"type:varchar(16);not null"`
	Category   string               `gorm:"type:varchar(64);not null"`
	Source     string               `gorm:"type:varchar(64);not null"`
	Confidence decimal.Decimal      `gorm:"type:numeric(5,4);not null"`
}

// TableName returns the table name for GORM
func (MetricFactModel) TableName() string {
	return "metric_facts"
}

// ToDomain converts the persistence model to a domain MetricFact.
func (m *MetricFactModel) ToDomain() ingestion.MetricFact {
	return ingestion.MetricFact{
		EntityID:   m.EntityID,
		MetricType: m.MetricType,
		MetricDate: m.MetricDate.UTC(),
		PeriodType: m.PeriodType,
		Value:      m.Value,
		Unit:       m.Unit,
		Category:   m.Category,
		Source:     m.Source,
		Confidence: m.Confidence,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

// MetricFactModelFromDomain creates a persistence model for an insert. The row
// id is generated here; on conflict the existing row keeps its own id.
func MetricFactModelFromDomain(f *ingestion.MetricFact) *MetricFactModel {
	return &MetricFactModel{
		BaseModel: BaseModel{
			ID:        uuid.New(),
			CreatedAt: f.CreatedAt,
			UpdatedAt: f.UpdatedAt,
		},
		EntityID:   f.EntityID,
		MetricType: f.MetricType,
		MetricDate: ingestion.TruncateToDate(f.MetricDate),
		PeriodType: f.PeriodType,
		Value:      f.Value,
		Unit:       f.Unit,
		Category:   f.Category,
		Source:     f.Source,
		Confidence: f.Confidence,
	}
}
