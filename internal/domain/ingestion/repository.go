package ingestion

import (
	"context"

	"github.com/google/uuid"
)

// EntityRepository is the durable key to entity table.
type EntityRepository interface {
	// FindByExternalKey returns ErrEntityNotFound when no entity has the key.
	FindByExternalKey(ctx context.Context, externalKey string) (*Entity, error)
	// Create returns ErrEntityAlreadyExists when the key is already taken.
	Create(ctx context.Context, entity *Entity) error
	ListExternalKeys(ctx context.Context) ([]string, error)
}

// MetricWriter performs the atomic insert-or-update of one metric fact.
type MetricWriter interface {
	Upsert(ctx context.Context, fact *MetricFact) error
}

// MetricStore is a MetricWriter that can group writes. Every write made through
// the writer handed to fn is rolled back when fn returns an error.
type MetricStore interface {
	MetricWriter
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, w MetricWriter) error) error
}

// MetricReader reads persisted facts back.
type MetricReader interface {
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]MetricFact, error)
}

// RunRepository persists run history.
type RunRepository interface {
	SaveRun(ctx context.Context, summary *RunSummary) error
	RecentRuns(ctx context.Context, workflow string, limit int) ([]RunSummary, error)
}
