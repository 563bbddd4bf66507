package ingestion

import (
	"context"

	"github.com/erp/ingestor/internal/domain/ingestion"
)

// DryRunStore is a MetricStore that discards writes and counts the rows that
// would have been written. Rows of a failed transaction are not counted.
type DryRunStore struct {
	rows int
}

// NewDryRunStore returns an empty discarding store.
func NewDryRunStore() *DryRunStore {
	return &DryRunStore{}
}

// Upsert counts one row.
func (s *DryRunStore) Upsert(_ context.Context, _ *ingestion.MetricFact) error {
	s.rows++
	return nil
}

// WithinTransaction hands fn a counting writer and keeps its count only when
// fn succeeds.
func (s *DryRunStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, w ingestion.MetricWriter) error) error {
	pending := &DryRunStore{}
	if err := fn(ctx, pending); err != nil {
		return err
	}
	s.rows += pending.rows
	return nil
}

// Rows returns the number of rows that would have been written.
func (s *DryRunStore) Rows() int {
	return s.rows
}
