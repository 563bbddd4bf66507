//go:build integration

// Package integration runs the ingestion stores against a real PostgreSQL
// started with testcontainers. The schema comes from the embedded migrations.
package integration

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/erp/ingestor/internal/infrastructure/config"
	"github.com/erp/ingestor/internal/infrastructure/migration"
	"github.com/erp/ingestor/internal/infrastructure/persistence"
	"github.com/erp/ingestor/migrations"
)

const (
	testDBName   = "ingest_test"
	testUser     = "postgres"
	testPassword = "admin123"
)

var (
	sharedContainer   *tcpostgres.PostgresContainer
	sharedContainerMu sync.Mutex
	sharedConfig      config.DatabaseConfig
)

// TestDB is a migrated database connection
type TestDB struct {
	DB     *gorm.DB
	Config config.DatabaseConfig
	t      *testing.T
}

// NewSharedTestDB returns a connection to the shared container, starting and
// migrating it on first use. Tables are truncated before the test runs.
func NewSharedTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	sharedContainerMu.Lock()
	defer sharedContainerMu.Unlock()

	ctx := context.Background()

	if sharedContainer == nil {
		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase(testDBName),
			tcpostgres.WithUsername(testUser),
			tcpostgres.WithPassword(testPassword),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		require.NoError(t, err, "Failed to start PostgreSQL container")

		cfg, err := databaseConfig(ctx, container)
		require.NoError(t, err, "Failed to resolve container address")

		runMigrations(t, cfg)

		sharedContainer = container
		sharedConfig = cfg
	}

	database, err := persistence.NewDatabase(&sharedConfig, zap.NewNop())
	require.NoError(t, err, "Failed to connect to database")

	tdb := &TestDB{DB: database.DB, Config: sharedConfig, t: t}
	t.Cleanup(func() {
		_ = database.Close()
	})

	tdb.CleanTables()
	return tdb
}

// CleanTables truncates every ingestion table
func (tdb *TestDB) CleanTables() {
	tdb.t.Helper()

	var tables []string
	err := tdb.DB.Raw(`
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public'
		AND tablename != 'schema_migrations'
	`).Scan(&tables).Error
	require.NoError(tdb.t, err, "Failed to get table names")

	for _, table := range tables {
		err := tdb.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)).Error
		require.NoError(tdb.t, err, "Failed to truncate %s", table)
	}
}

func databaseConfig(ctx context.Context, container *tcpostgres.PostgresContainer) (config.DatabaseConfig, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return config.DatabaseConfig{}, err
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return config.DatabaseConfig{}, err
	}
	portNum, err := strconv.Atoi(port.Port())
	if err != nil {
		return config.DatabaseConfig{}, err
	}

	return config.DatabaseConfig{
		Driver:          config.DriverPostgres,
		Host:            host,
		Port:            portNum,
		User:            testUser,
		Password:        testPassword,
		DBName:          testDBName,
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5,
		ConnMaxIdleTime: 1,
		LogLevel:        "silent",
	}, nil
}

// runMigrations applies the embedded schema through the migrator used by
// "ingest migrate up".
func runMigrations(t *testing.T, cfg config.DatabaseConfig) {
	t.Helper()

	database, err := persistence.NewDatabase(&cfg, zap.NewNop())
	require.NoError(t, err)
	defer database.Close()

	sqlDB, err := database.DB.DB()
	require.NoError(t, err)

	m, err := migration.NewFromFS(sqlDB, migrations.FS, zap.NewNop())
	require.NoError(t, err, "Failed to create migrator")
	defer m.Close()

	require.NoError(t, m.Up(), "Failed to run migrations")
}

// CleanupSharedContainer terminates the shared container
func CleanupSharedContainer() {
	sharedContainerMu.Lock()
	defer sharedContainerMu.Unlock()

	if sharedContainer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = sharedContainer.Terminate(ctx)
		sharedContainer = nil
	}
}
