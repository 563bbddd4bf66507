package ingestion

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erp/ingestor/internal/domain/ingestion"
	"github.com/erp/ingestor/internal/infrastructure/config"
	"github.com/erp/ingestor/internal/infrastructure/persistence"
	"github.com/erp/ingestor/internal/infrastructure/retry"
)

// MockEntityRepository is a mock implementation of ingestion.EntityRepository
type MockEntityRepository struct {
	mock.Mock
}

func (m *MockEntityRepository) FindByExternalKey(ctx context.Context, externalKey string) (*ingestion.Entity, error) {
	args := m.Called(ctx, externalKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ingestion.Entity), args.Error(1)
}

func (m *MockEntityRepository) Create(ctx context.Context, entity *ingestion.Entity) error {
	args := m.Called(ctx, entity)
	return args.Error(0)
}

func (m *MockEntityRepository) ListExternalKeys(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockProviderClient is a mock implementation of ingestion.ProviderClient
type MockProviderClient struct {
	mock.Mock
}

func (m *MockProviderClient) Fetch(ctx context.Context, wf *ingestion.Workflow, externalKey string) (*ingestion.ProviderResponse, error) {
	args := m.Called(ctx, wf, externalKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ingestion.ProviderResponse), args.Error(1)
}

// MockResponseCache is a mock implementation of ingestion.ResponseCache
type MockResponseCache struct {
	mock.Mock
}

func (m *MockResponseCache) Get(ctx context.Context, key string) (*ingestion.ProviderResponse, bool, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*ingestion.ProviderResponse), args.Bool(1), args.Error(2)
}

func (m *MockResponseCache) Set(ctx context.Context, key string, resp *ingestion.ProviderResponse) error {
	args := m.Called(ctx, key, resp)
	return args.Error(0)
}

// MockRunRepository is a mock implementation of ingestion.RunRepository
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) SaveRun(ctx context.Context, summary *ingestion.RunSummary) error {
	args := m.Called(ctx, summary)
	return args.Error(0)
}

func (m *MockRunRepository) RecentRuns(ctx context.Context, workflow string, limit int) ([]ingestion.RunSummary, error) {
	args := m.Called(ctx, workflow, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ingestion.RunSummary), args.Error(1)
}

// countingLimiter admits every call and counts them.
type countingLimiter struct {
	mu    sync.Mutex
	calls int
}

func (l *countingLimiter) Acquire(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return nil
}

func (l *countingLimiter) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// recordingStore is an in-memory MetricStore with transactional semantics.
type recordingStore struct {
	facts     map[string]*ingestion.MetricFact
	failOn    string
	committed int
}

func newRecordingStore() *recordingStore {
	return &recordingStore{facts: map[string]*ingestion.MetricFact{}}
}

func (s *recordingStore) Upsert(_ context.Context, fact *ingestion.MetricFact) error {
	if fact.MetricType == s.failOn {
		return errors.New("disk full")
	}
	s.facts[fact.EntityID.String()+"/"+fact.MetricType] = fact
	return nil
}

func (s *recordingStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, w ingestion.MetricWriter) error) error {
	tx := &recordingStore{facts: map[string]*ingestion.MetricFact{}, failOn: s.failOn}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for k, v := range tx.facts {
		s.facts[k] = v
	}
	s.committed++
	return nil
}

var fixedNow = time.Date(2024, 5, 17, 14, 30, 0, 0, time.UTC)

func testClock() time.Time { return fixedNow }

func noSleepPolicy(maxAttempts int) *retry.Policy {
	return retry.NewPolicy(
		retry.Config{MaxAttempts: maxAttempts, BaseDelay: time.Second, MaxDelay: time.Minute},
		retry.WithSleep(func(time.Duration) {}),
	)
}

func testWorkflow() *ingestion.Workflow {
	return &ingestion.Workflow{
		Name:          "company_overview",
		Function:      "OVERVIEW",
		IdentityField: "Symbol",
		DateField:     "LatestQuarter",
		Source:        "alpha_vantage",
		Fields: []ingestion.FieldMapping{
			{Field: "MarketCapitalization", MetricType: "market_cap", Unit: ingestion.UnitUSD, Category: "size", PeriodType: ingestion.PeriodPointInTime},
			{Field: "PERatio", MetricType: "pe_ratio", Unit: ingestion.UnitRatio, Category: "valuation", PeriodType: ingestion.PeriodTTM},
			{Field: "ProfitMargin", MetricType: "profit_margin", Unit: ingestion.UnitPercent, Category: "profitability", PeriodType: ingestion.PeriodTTM, Fractional: true},
		},
	}
}

func overview(symbol string, fields map[string]string) *ingestion.ProviderResponse {
	all := map[string]string{"Symbol": symbol}
	for k, v := range fields {
		all[k] = v
	}
	return &ingestion.ProviderResponse{Identity: symbol, Function: "OVERVIEW", Fields: all, FetchedAt: fixedNow}
}

// sqliteStores opens a migrated sqlite database and returns its repositories.
func sqliteStores(t *testing.T) (*persistence.GormEntityRepository, *persistence.GormMetricFactRepository, *persistence.GormRunRepository) {
	t.Helper()

	db, err := persistence.NewDatabase(&config.DatabaseConfig{
		Driver:   config.DriverSQLite,
		Path:     filepath.Join(t.TempDir(), "ingest.db"),
		LogLevel: "silent",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.AutoMigrate())

	return persistence.NewGormEntityRepository(db.DB),
		persistence.NewGormMetricFactRepository(db.DB),
		persistence.NewGormRunRepository(db.DB)
}
