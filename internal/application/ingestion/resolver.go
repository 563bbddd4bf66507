package ingestion

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/erp/ingestor/internal/domain/ingestion"
)

// EntityResolver maps external keys onto durable entities, creating them on
// first sight.
type EntityResolver struct {
	repo   ingestion.EntityRepository
	logger *zap.Logger
}

// NewEntityResolver creates a resolver over repo.
func NewEntityResolver(repo ingestion.EntityRepository, logger *zap.Logger) *EntityResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntityResolver{repo: repo, logger: logger}
}

// GetOrCreate returns the entity for key, creating it with defaults when no
// entity exists yet. created reports whether this call inserted it. A
// concurrent insert of the same key is resolved by re-reading the winner's row.
func (r *EntityResolver) GetOrCreate(ctx context.Context, key string, defaults ingestion.EntityDefaults) (*ingestion.Entity, bool, error) {
	normalized := ingestion.NormalizeKey(key)
	if normalized == "" {
		return nil, false, ingestion.ErrInvalidExternalKey
	}

	entity, err := r.repo.FindByExternalKey(ctx, normalized)
	if err == nil {
		return entity, false, nil
	}
	if !errors.Is(err, ingestion.ErrEntityNotFound) {
		return nil, false, r.storageError("find", normalized, err)
	}

	entity, err = ingestion.NewEntity(normalized, defaults)
	if err != nil {
		return nil, false, err
	}

	err = r.repo.Create(ctx, entity)
	switch {
	case err == nil:
		r.logger.Info("Created entity",
			zap.String("entity", normalized),
			zap.String("entity_id", entity.ID.String()),
		)
		return entity, true, nil
	case errors.Is(err, ingestion.ErrEntityAlreadyExists):
		existing, findErr := r.repo.FindByExternalKey(ctx, normalized)
		if findErr != nil {
			return nil, false, r.storageError("re-read", normalized, findErr)
		}
		r.logger.Debug("Entity created concurrently, using existing row",
			zap.String("entity", normalized),
		)
		return existing, false, nil
	default:
		return nil, false, r.storageError("create", normalized, err)
	}
}

func (r *EntityResolver) storageError(op, key string, err error) error {
	if errors.Is(err, ingestion.ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s entity %s: %w", ingestion.ErrStorage, op, key, err)
}
