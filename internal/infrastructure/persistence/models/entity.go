package models

import (
	"github.com/erp/ingestor/internal/domain/ingestion"
)

// EntityModel is the persistence model for ingestion.Entity.
type EntityModel struct {
	BaseModel
	ExternalKey string   `gorm:"type:varchar(32);not null;uniqueIndex:idx_entities_external_key"`
	DisplayName string   `gorm:"type:varchar(255);not null"`
	Tags        []string `gorm:"serializer:json"`
}

// TableName returns the table name for GORM
func (EntityModel) TableName() string {
	return "entities"
}

// ToDomain converts the persistence model to a domain Entity.
func (m *EntityModel) ToDomain() *ingestion.Entity {
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	return &ingestion.Entity{
		BaseEntity:  m.BaseModel.ToDomain(),
		ExternalKey: m.ExternalKey,
		DisplayName: m.DisplayName,
		Tags:        tags,
	}
}

// FromDomain populates the persistence model from a domain Entity.
func (m *EntityModel) FromDomain(e *ingestion.Entity) {
	m.FromDomainBaseEntity(e.BaseEntity)
	m.ExternalKey = e.ExternalKey
	m.DisplayName = e.DisplayName
	m.Tags = e.Tags
}

// EntityModelFromDomain creates a new persistence model from a domain Entity.
func EntityModelFromDomain(e *ingestion.Entity) *EntityModel {
	m := &EntityModel{}
	m.FromDomain(e)
	return m
}
