package persistence

import (
	"github.com/erp/ingestor/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// AutoMigrate creates or updates the ingestion tables on db.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.EntityModel{},
		&models.MetricFactModel{},
		&models.IngestionRunModel{},
		&models.IngestionRunResultModel{},
	)
}
