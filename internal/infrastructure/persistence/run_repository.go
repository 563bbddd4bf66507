package persistence

import (
	"context"
	"fmt"

	"github.com/erp/ingestor/internal/domain/ingestion"
	"github.com/erp/ingestor/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const resultBatchSize = 100

// GormRunRepository implements ingestion.RunRepository using GORM
type GormRunRepository struct {
	db *gorm.DB
}

// NewGormRunRepository creates a new GormRunRepository
func NewGormRunRepository(db *gorm.DB) *GormRunRepository {
	return &GormRunRepository{db: db}
}

// SaveRun stores the run row and its per-entity results in one transaction
func (r *GormRunRepository) SaveRun(ctx context.Context, summary *ingestion.RunSummary) error {
	model := models.IngestionRunModelFromDomain(summary)
	results := model.Results

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(model).Error; err != nil {
			return fmt.Errorf("failed to save run %s: %w", summary.RunID, err)
		}
		if len(results) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(&results, resultBatchSize).Error; err != nil {
			return fmt.Errorf("failed to save results of run %s: %w", summary.RunID, err)
		}
		return nil
	})
}

// RecentRuns returns the latest runs, newest first. An empty workflow matches
// every workflow.
func (r *GormRunRepository) RecentRuns(ctx context.Context, workflow string, limit int) ([]ingestion.RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}

	query := r.db.WithContext(ctx).Model(&models.IngestionRunModel{})
	if workflow != "" {
		query = query.Where("workflow = ?", workflow)
	}

	var rows []models.IngestionRunModel
	if err := query.
		Preload("Results", func(db *gorm.DB) *gorm.DB {
			return db.Order("position")
		}).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	runs := make([]ingestion.RunSummary, 0, len(rows))
	for i := range rows {
		runs = append(runs, rows[i].ToDomain())
	}
	return runs, nil
}
