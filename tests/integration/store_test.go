//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/ingestor/internal/domain/ingestion"
	"github.com/erp/ingestor/internal/infrastructure/persistence"
)

var quarterEnd = time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

func createEntity(t *testing.T, repo *persistence.GormEntityRepository, key string) *ingestion.Entity {
	t.Helper()
	entity, err := ingestion.NewEntity(key, ingestion.EntityDefaults{Tags: []string{"equity"}})
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), entity))
	return entity
}

func marginFact(entityID uuid.UUID, value string) *ingestion.MetricFact {
	return &ingestion.MetricFact{
		EntityID:   entityID,
		MetricType: "profit_margin",
		MetricDate: quarterEnd,
		PeriodType: ingestion.PeriodTTM,
		Value:      decimal.RequireFromString(value),
		Unit:       ingestion.UnitPercent,
		Category:   "profitability",
		Source:     "alpha_vantage",
		Confidence: decimal.NewFromInt(1),
	}
}

func TestEntityRepository_Postgres(t *testing.T) {
	tdb := NewSharedTestDB(t)
	repo := persistence.NewGormEntityRepository(tdb.DB)
	ctx := context.Background()

	created := createEntity(t, repo, "aaa")
	createEntity(t, repo, "BBB")

	found, err := repo.FindByExternalKey(ctx, " AAA ")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, []string{"equity"}, found.Tags)

	_, err = repo.FindByExternalKey(ctx, "ZZZ")
	assert.ErrorIs(t, err, ingestion.ErrEntityNotFound)

	dup, err := ingestion.NewEntity("AAA", ingestion.EntityDefaults{})
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Create(ctx, dup), ingestion.ErrEntityAlreadyExists)

	keys, err := repo.ListExternalKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "BBB"}, keys)
}

func TestMetricFactRepository_Postgres_UpsertLastWriteWins(t *testing.T) {
	tdb := NewSharedTestDB(t)
	entity := createEntity(t, persistence.NewGormEntityRepository(tdb.DB), "AAA")
	repo := persistence.NewGormMetricFactRepository(tdb.DB)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, marginFact(entity.ID, "15.3")))
	first, err := repo.ListByEntity(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, first, 1)

	require.NoError(t, repo.Upsert(ctx, marginFact(entity.ID, "16.1")))

	facts, err := repo.ListByEntity(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.True(t, decimal.RequireFromString("16.1").Equal(facts[0].Value), "got %s", facts[0].Value)
	assert.True(t, quarterEnd.Equal(facts[0].MetricDate))
	assert.Equal(t, first[0].CreatedAt.Unix(), facts[0].CreatedAt.Unix())
}

func TestMetricFactRepository_Postgres_ConcurrentUpserts(t *testing.T) {
	tdb := NewSharedTestDB(t)
	entity := createEntity(t, persistence.NewGormEntityRepository(tdb.DB), "AAA")
	repo := persistence.NewGormMetricFactRepository(tdb.DB)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.Upsert(ctx, marginFact(entity.ID, "15.3"))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	count, err := repo.Count(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMetricFactRepository_Postgres_TransactionRollback(t *testing.T) {
	tdb := NewSharedTestDB(t)
	entity := createEntity(t, persistence.NewGormEntityRepository(tdb.DB), "AAA")
	repo := persistence.NewGormMetricFactRepository(tdb.DB)
	ctx := context.Background()

	err := repo.WithinTransaction(ctx, func(ctx context.Context, w ingestion.MetricWriter) error {
		require.NoError(t, w.Upsert(ctx, marginFact(entity.ID, "15.3")))
		bad := marginFact(uuid.New(), "1")
		return w.Upsert(ctx, bad)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ingestion.ErrStorage)

	count, err := repo.Count(ctx, entity.ID)
	require.NoError(t, err)
	assert.Zero(t, count, "the first fact is rolled back with the failing one")
}

func TestRunRepository_Postgres(t *testing.T) {
	tdb := NewSharedTestDB(t)
	repo := persistence.NewGormRunRepository(tdb.DB)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	summary := ingestion.NewRunSummary("company_overview", false, start)
	noData := ingestion.CategoryNoData
	summary.Record(ingestion.IngestionResult{
		ExternalKey: "AAA", EntityID: uuid.New(), Success: true, State: ingestion.StateSucceeded,
		FieldsFetched: 3, MetricsStored: 3, APICalls: 1, StartedAt: start, Duration: 300 * time.Millisecond,
	})
	summary.Record(ingestion.IngestionResult{
		ExternalKey: "BBB", EntityID: uuid.New(), State: ingestion.StateFailed, FailedIn: ingestion.StateStoring,
		ErrorCategory: &noData, ErrorMessage: "no usable fields", APICalls: 1, StartedAt: start,
	})
	summary.Skip("CCC")
	summary.Finish(start.Add(2 * time.Second))

	require.NoError(t, repo.SaveRun(ctx, summary))

	runs, err := repo.RecentRuns(ctx, "company_overview", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	got := runs[0]
	assert.Equal(t, summary.RunID, got.RunID)
	assert.Equal(t, ingestion.RunStatusCancelled, got.Status)
	assert.True(t, got.Cancelled)
	assert.Equal(t, 3, got.MetricsStored)
	assert.Equal(t, map[ingestion.ErrorCategory]int{ingestion.CategoryNoData: 1}, got.ErrorsByCategory)
	assert.Equal(t, []string{"CCC"}, got.Skipped)
	require.Len(t, got.Results, 2)
	assert.Equal(t, "AAA", got.Results[0].ExternalKey)
	assert.Equal(t, ingestion.CategoryNoData, got.Results[1].Category())

	others, err := repo.RecentRuns(ctx, "earnings", 5)
	require.NoError(t, err)
	assert.Empty(t, others)
}
