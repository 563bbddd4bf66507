package ingestion

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/erp/ingestor/internal/domain/ingestion"
)

type engineFixture struct {
	entities *MockEntityRepository
	provider *MockProviderClient
	store    *recordingStore
	limiter  *countingLimiter
	engine   *Engine
	known    map[string]*ingestion.Entity
}

func newEngineFixture(t *testing.T, maxAttempts int, opts ...Option) *engineFixture {
	t.Helper()

	f := &engineFixture{
		entities: new(MockEntityRepository),
		provider: new(MockProviderClient),
		store:    newRecordingStore(),
		limiter:  &countingLimiter{},
		known:    map[string]*ingestion.Entity{},
	}
	engine, err := NewEngine(Dependencies{
		Entities: f.entities,
		Store:    f.store,
		Provider: f.provider,
		Limiter:  f.limiter,
		Retrier:  noSleepPolicy(maxAttempts),
	}, append([]Option{WithClock(testClock)}, opts...)...)
	require.NoError(t, err)
	f.engine = engine
	return f
}

// withEntity registers an existing entity for key.
func (f *engineFixture) withEntity(t *testing.T, key string) *ingestion.Entity {
	t.Helper()
	entity, err := ingestion.NewEntity(key, ingestion.EntityDefaults{})
	require.NoError(t, err)
	f.known[key] = entity
	f.entities.On("FindByExternalKey", mock.Anything, key).Return(entity, nil)
	return entity
}

func (f *engineFixture) factsFor(entity *ingestion.Entity) map[string]decimal.Decimal {
	out := map[string]decimal.Decimal{}
	for _, fact := range f.store.facts {
		if fact.EntityID == entity.ID {
			out[fact.MetricType] = fact.Value
		}
	}
	return out
}

func TestNewEngine_RequiresDependencies(t *testing.T) {
	_, err := NewEngine(Dependencies{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity repository")

	_, err = NewEngine(Dependencies{
		Entities: new(MockEntityRepository),
		Store:    newRecordingStore(),
		Provider: new(MockProviderClient),
		Limiter:  &countingLimiter{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry policy")
}

func TestEngine_Ingest_Success(t *testing.T) {
	f := newEngineFixture(t, 3)
	entity := f.withEntity(t, "AAPL")
	f.provider.On("Fetch", mock.Anything, mock.Anything, "AAPL").Return(overview("AAPL", map[string]string{
		"MarketCapitalization": "2800000000000",
		"PERatio":              "28.5",
		"ProfitMargin":         "0.153",
		"LatestQuarter":        "2024-03-31",
	}), nil).Once()

	result := f.engine.Ingest(context.Background(), testWorkflow(), "aapl")

	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, ingestion.StateSucceeded, result.State)
	assert.Equal(t, "AAPL", result.ExternalKey)
	assert.Equal(t, entity.ID, result.EntityID)
	assert.Equal(t, 3, result.FieldsFetched)
	assert.Equal(t, 3, result.MetricsStored)
	assert.Equal(t, 0, result.RetryCount)
	assert.Equal(t, 1, result.APICalls)
	assert.Nil(t, result.ErrorCategory)
	assert.Equal(t, fixedNow, result.StartedAt)

	facts := f.factsFor(entity)
	require.Len(t, facts, 3)
	assert.True(t, decimal.RequireFromString("15.3").Equal(facts["profit_margin"]), "got %s", facts["profit_margin"])
	assert.True(t, decimal.RequireFromString("28.5").Equal(facts["pe_ratio"]))

	for _, fact := range f.store.facts {
		assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), fact.MetricDate)
		assert.Equal(t, "alpha_vantage", fact.Source)
	}
	f.provider.AssertExpectations(t)
}

func TestEngine_Ingest_MissingDateFallsBackToRunDay(t *testing.T) {
	f := newEngineFixture(t, 3)
	f.withEntity(t, "AAPL")
	f.provider.On("Fetch", mock.Anything, mock.Anything, "AAPL").
		Return(overview("AAPL", map[string]string{"PERatio": "28.5"}), nil)

	result := f.engine.Ingest(context.Background(), testWorkflow(), "AAPL")

	require.True(t, result.Success)
	for _, fact := range f.store.facts {
		assert.Equal(t, time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC), fact.MetricDate)
	}
}

func TestEngine_Ingest_SkipsZeroAndMissingValues(t *testing.T) {
	f := newEngineFixture(t, 3)
	entity := f.withEntity(t, "AAPL")
	f.provider.On("Fetch", mock.Anything, mock.Anything, "AAPL").Return(overview("AAPL", map[string]string{
		"MarketCapitalization": "0",
		"PERatio":              "12",
	}), nil)

	result := f.engine.Ingest(context.Background(), testWorkflow(), "AAPL")

	require.True(t, result.Success)
	assert.Equal(t, 2, result.FieldsFetched)
	assert.Equal(t, 1, result.MetricsStored)
	assert.NotContains(t, f.factsFor(entity), "market_cap")
}

func TestEngine_Ingest_TransientFailuresAreRetried(t *testing.T) {
	f := newEngineFixture(t, 3)
	f.withEntity(t, "AAPL")
	f.provider.On("Fetch", mock.Anything, mock.Anything, "AAPL").
		Return(nil, fmt.Errorf("%w: connection reset", ingestion.ErrNetwork)).Twice()
	f.provider.On("Fetch", mock.Anything, mock.Anything, "AAPL").
		Return(overview("AAPL", map[string]string{"PERatio": "28.5"}), nil).Once()

	result := f.engine.Ingest(context.Background(), testWorkflow(), "AAPL")

	require.True(t, result.Success)
	assert.Equal(t, 2, result.RetryCount)
	assert.Equal(t, 3, result.APICalls)
	assert.Equal(t, 3, f.limiter.count())
	f.provider.AssertExpectations(t)
}

func TestEngine_Ingest_RetriesExhausted(t *testing.T) {
	f := newEngineFixture(t, 3)
	f.withEntity(t, "AAPL")
	f.provider.On("Fetch", mock.Anything, mock.Anything, "AAPL").
		Return(nil, fmt.Errorf("%w: deadline", ingestion.ErrTimeout))

	result := f.engine.Ingest(context.Background(), testWorkflow(), "AAPL")

	assert.False(t, result.Success)
	assert.Equal(t, ingestion.StateFailed, result.State)
	assert.Equal(t, ingestion.StateFetching, result.FailedIn)
	assert.Equal(t, ingestion.CategoryTimeout, result.Category())
	assert.Equal(t, 3, result.RetryCount)
	assert.Equal(t, 3, result.APICalls)
	f.provider.AssertNumberOfCalls(t, "Fetch", 3)
}

func TestEngine_Ingest_APIFormatIsNotRetried(t *testing.T) {
	f := newEngineFixture(t, 3)
	f.withEntity(t, "AAPL")
	f.provider.On("Fetch", mock.Anything, mock.Anything, "AAPL").
		Return(nil, fmt.Errorf("%w: not a JSON object", ingestion.ErrAPIFormat))

	result := f.engine.Ingest(context.Background(), testWorkflow(), "AAPL")

	assert.Equal(t, ingestion.CategoryAPIFormat, result.Category())
	assert.Equal(t, ingestion.StateValidating, result.FailedIn)
	assert.Equal(t, 0, result.RetryCount)
	f.provider.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestEngine_Ingest_IdentityMismatch(t *testing.T) {
	f := newEngineFixture(t, 3)
	entity := f.withEntity(t, "AAPL")
	f.provider.On("Fetch", mock.Anything, mock.Anything, "AAPL").
		Return(overview("MSFT", map[string]string{"PERatio": "35"}), nil)

	result := f.engine.Ingest(context.Background(), testWorkflow(), "AAPL")

	assert.Equal(t, ingestion.CategoryDataValidation, result.Category())
	assert.Equal(t, ingestion.StateValidating, result.FailedIn)
	assert.Equal(t, 0, result.MetricsStored)
	assert.Empty(t, f.factsFor(entity))
	assert.Contains(t, result.ErrorMessage, "MSFT")
}

func TestEngine_Ingest_MissingIdentityIsMismatch(t *testing.T) {
	f := newEngineFixture(t, 3)
	f.withEntity(t, "AAPL")
	resp := &ingestion.ProviderResponse{Function: "OVERVIEW", Fields: map[string]string{"PERatio": "35"}}
	f.provider.On("Fetch", mock.Anything, mock.Anything, "AAPL").Return(resp, nil)

	result := f.engine.Ingest(context.Background(), testWorkflow(), "AAPL")

	assert.Equal(t, ingestion.CategoryDataValidation, result.Category())
}

func TestEngine_Ingest_EmptyResponseIsNoData(t *testing.T) {
	f := newEngineFixture(t, 3)
	f.withEntity(t, "AAPL")
	resp := &ingestion.ProviderResponse{Function: "OVERVIEW", Fields: map[string]string{}}
	f.provider.On("Fetch", mock.Anything, mock.Anything, "AAPL").Return(resp, nil)

	result := f.engine.Ingest(context.Background(), testWorkflow(), "AAPL")

	assert.Equal(t, ingestion.CategoryNoData, result.Category())
	assert.Equal(t, ingestion.StateStoring, result.FailedIn)
}

func TestEngine_Ingest_AllZeroIsNoData(t *testing.T) {
	f := newEngineFixture(t, 3)
	f.withEntity(t, "AAPL")
	f.provider.On("Fetch", mock.Anything, mock.Anything, "AAPL").Return(overview("AAPL", map[string]string{
		"MarketCapitalization": "0",
		"PERatio":              "",
	}), nil)

	result := f.engine.Ingest(context.Background(), testWorkflow(), "AAPL")

	assert.Equal(t, ingestion.CategoryNoData, result.Category())
	assert.Equal(t, 0, result.MetricsStored)
	assert.Zero(t, f.store.committed)
}

func TestEngine_Ingest_ConversionFailuresRollBack(t *testing.T) {
	tests := []struct {
		name     string
		peRatio  string
		category ingestion.ErrorCategory
	}{
		{name: "null as string", peRatio: "None", category: ingestion.CategoryDataQuality},
		{name: "dash placeholder", peRatio: "-", category: ingestion.CategoryDataQuality},
		{name: "garbage", peRatio: "12abc", category: ingestion.CategoryConversion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t, 3)
			entity := f.withEntity(t, "AAPL")
			f.provider.On("Fetch", mock.Anything, mock.Anything, "AAPL").Return(overview("AAPL", map[string]string{
				"MarketCapitalization": "1000",
				"PERatio":              tt.peRatio,
				"ProfitMargin":         "0.2",
			}), nil)

			result := f.engine.Ingest(context.Background(), testWorkflow(), "AAPL")

			assert.Equal(t, tt.category, result.Category())
			assert.Equal(t, ingestion.StateStoring, result.FailedIn)
			assert.Equal(t, 0, result.MetricsStored)
			assert.Empty(t, f.factsFor(entity), "writes before the bad field must be rolled back")
		})
	}
}

func TestEngine_Ingest_UnparsableDateIsConversionError(t *testing.T) {
	f := newEngineFixture(t, 3)
	f.withEntity(t, "AAPL")
	f.provider.On("Fetch", mock.Anything, mock.Anything, "AAPL").Return(overview("AAPL", map[string]string{
		"PERatio":       "28",
		"LatestQuarter": "31/03/2024",
	}), nil)

	result := f.engine.Ingest(context.Background(), testWorkflow(), "AAPL")

	assert.Equal(t, ingestion.CategoryConversion, result.Category())
}

func TestEngine_Ingest_StorageFailure(t *testing.T) {
	f := newEngineFixture(t, 3)
	entity := f.withEntity(t, "AAPL")
	f.store.failOn = "pe_ratio"
	f.provider.On("Fetch", mock.Anything, mock.Anything, "AAPL").Return(overview("AAPL", map[string]string{
		"MarketCapitalization": "1000",
		"PERatio":              "28",
	}), nil)

	result := f.engine.Ingest(context.Background(), testWorkflow(), "AAPL")

	assert.Equal(t, ingestion.CategoryDatabase, result.Category())
	assert.Contains(t, result.ErrorMessage, "disk full")
	assert.Empty(t, f.factsFor(entity))
}

func TestEngine_Ingest_ResolverFailure(t *testing.T) {
	f := newEngineFixture(t, 3)
	f.entities.On("FindByExternalKey", mock.Anything, "AAPL").Return(nil, errors.New("connection refused"))

	result := f.engine.Ingest(context.Background(), testWorkflow(), "AAPL")

	assert.Equal(t, ingestion.CategoryDatabase, result.Category())
	assert.Equal(t, ingestion.StateResolvingEntity, result.FailedIn)
	f.provider.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything, mock.Anything)
	assert.Zero(t, f.limiter.count())
}

func TestEngine_Ingest_ProviderPanicIsUnexpected(t *testing.T) {
	f := newEngineFixture(t, 3)
	f.withEntity(t, "AAPL")
	f.provider.On("Fetch", mock.Anything, mock.Anything, "AAPL").Run(func(mock.Arguments) {
		panic("boom")
	})

	result := f.engine.Ingest(context.Background(), testWorkflow(), "AAPL")

	assert.False(t, result.Success)
	assert.Equal(t, ingestion.CategoryUnexpected, result.Category())
	assert.Equal(t, ingestion.StateFetching, result.FailedIn)
	assert.Contains(t, result.ErrorMessage, "boom")
}

func TestEngine_Ingest_CacheHitSkipsProvider(t *testing.T) {
	cache := new(MockResponseCache)
	f := newEngineFixture(t, 3, WithCache(cache))
	f.withEntity(t, "AAPL")
	cache.On("Get", mock.Anything, "company_overview:AAPL").
		Return(overview("AAPL", map[string]string{"PERatio": "28"}), true, nil)

	result := f.engine.Ingest(context.Background(), testWorkflow(), "AAPL")

	require.True(t, result.Success)
	assert.True(t, result.CacheHit)
	assert.Equal(t, 0, result.APICalls)
	assert.Zero(t, f.limiter.count())
	f.provider.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything, mock.Anything)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_Ingest_CacheMissStoresValidatedResponse(t *testing.T) {
	cache := new(MockResponseCache)
	f := newEngineFixture(t, 3, WithCache(cache))
	f.withEntity(t, "AAPL")
	resp := overview("AAPL", map[string]string{"PERatio": "28"})
	cache.On("Get", mock.Anything, "company_overview:AAPL").Return(nil, false, nil)
	cache.On("Set", mock.Anything, "company_overview:AAPL", resp).Return(nil).Once()
	f.provider.On("Fetch", mock.Anything, mock.Anything, "AAPL").Return(resp, nil)

	result := f.engine.Ingest(context.Background(), testWorkflow(), "AAPL")

	require.True(t, result.Success)
	assert.False(t, result.CacheHit)
	assert.Equal(t, 1, result.APICalls)
	cache.AssertExpectations(t)
}

func TestEngine_Ingest_CacheIgnoresMismatchedResponse(t *testing.T) {
	cache := new(MockResponseCache)
	f := newEngineFixture(t, 3, WithCache(cache))
	f.withEntity(t, "AAPL")
	cache.On("Get", mock.Anything, mock.Anything).Return(nil, false, errors.New("redis down"))
	f.provider.On("Fetch", mock.Anything, mock.Anything, "AAPL").
		Return(overview("MSFT", map[string]string{"PERatio": "28"}), nil)

	result := f.engine.Ingest(context.Background(), testWorkflow(), "AAPL")

	assert.Equal(t, ingestion.CategoryDataValidation, result.Category())
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
}
