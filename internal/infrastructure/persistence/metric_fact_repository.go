package persistence

import (
	"context"
	"fmt"

	"github.com/erp/ingestor/internal/domain/ingestion"
	"github.com/erp/ingestor/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// metricFactConflictColumns is the natural key of metric_facts.
var metricFactConflictColumns = []clause.Column{
	{Name: "entity_id"},
	{Name: "metric_type"},
	{Name: "metric_date"},
	{Name: "period_type"},
}

// metricFactUpdateColumns are overwritten when the natural key already exists.
// created_at and id keep their original values.
var metricFactUpdateColumns = []string{"value", "unit", "category", "source", "confidence", "updated_at"}

// GormMetricFactRepository implements ingestion.MetricStore and
// ingestion.MetricReader using GORM
type GormMetricFactRepository struct {
	db *gorm.DB
}

// NewGormMetricFactRepository creates a new GormMetricFactRepository
func NewGormMetricFactRepository(db *gorm.DB) *GormMetricFactRepository {
	return &GormMetricFactRepository{db: db}
}

// Upsert inserts the fact or, on a natural key conflict, overwrites it in a
// single statement. The last write wins.
func (r *GormMetricFactRepository) Upsert(ctx context.Context, fact *ingestion.MetricFact) error {
	model := models.MetricFactModelFromDomain(fact)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   metricFactConflictColumns,
			DoUpdates: clause.AssignmentColumns(metricFactUpdateColumns),
		}).
		Create(model).Error
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %w", ingestion.ErrStorage, fact.MetricType, err)
	}
	return nil
}

// WithinTransaction runs fn with a writer bound to one database transaction.
// The transaction is rolled back if fn returns an error or panics.
func (r *GormMetricFactRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context, w ingestion.MetricWriter) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &GormMetricFactRepository{db: tx})
	})
}

// ListByEntity returns all facts of an entity ordered by metric and date
func (r *GormMetricFactRepository) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]ingestion.MetricFact, error) {
	var rows []models.MetricFactModel
	if err := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("metric_type, metric_date, period_type").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	facts := make([]ingestion.MetricFact, 0, len(rows))
	for i := range rows {
		facts = append(facts, rows[i].ToDomain())
	}
	return facts, nil
}

// Count returns the number of stored facts for an entity
func (r *GormMetricFactRepository) Count(ctx context.Context, entityID uuid.UUID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.MetricFactModel{}).
		Where("entity_id = ?", entityID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
