package persistence

import (
	"context"
	"errors"

	"github.com/erp/ingestor/internal/domain/ingestion"
	"github.com/erp/ingestor/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormEntityRepository implements ingestion.EntityRepository using GORM
type GormEntityRepository struct {
	db *gorm.DB
}

// NewGormEntityRepository creates a new GormEntityRepository
func NewGormEntityRepository(db *gorm.DB) *GormEntityRepository {
	return &GormEntityRepository{db: db}
}

// FindByExternalKey finds an entity by its normalized external key
func (r *GormEntityRepository) FindByExternalKey(ctx context.Context, externalKey string) (*ingestion.Entity, error) {
	var model models.EntityModel
	if err := r.db.WithContext(ctx).
		Where("external_key = ?", ingestion.NormalizeKey(externalKey)).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ingestion.ErrEntityNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Create inserts a new entity. A concurrent insert of the same key surfaces as
// ErrEntityAlreadyExists via the unique index.
func (r *GormEntityRepository) Create(ctx context.Context, entity *ingestion.Entity) error {
	model := models.EntityModelFromDomain(entity)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ingestion.ErrEntityAlreadyExists
		}
		return err
	}
	return nil
}

// ListExternalKeys returns every known key in ascending order
func (r *GormEntityRepository) ListExternalKeys(ctx context.Context) ([]string, error) {
	keys := []string{}
	if err := r.db.WithContext(ctx).
		Model(&models.EntityModel{}).
		Order("external_key").
		Pluck("external_key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}
