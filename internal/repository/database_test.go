//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"bracket_tracker/ingestion/internal/gateway"
	"bracket_tracker/ingestion/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Integration tests for database operations
// Run with: go test -v -tags=integration ./internal/repository/...

func setupTestDB(t *testing.T) (*Database, context.Context) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("bracket_test"),
		postgres.WithUsername("bracket_user"),
		postgres.WithPassword("bracket_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, Migrate(dsn), "failed to apply migrations")
	// Applying twice is a no-op
	require.NoError(t, Migrate(dsn))

	db, err := Open(ctx, dsn)
	require.NoError(t, err, "Failed to connect to test database")
	t.Cleanup(db.Close)

	return db, ctx
}

func TestDatabaseConnection(t *testing.T) {
	db, ctx := setupTestDB(t)

	err := db.Health(ctx)
	assert.NoError(t, err, "Database health check should pass")

	stats := db.PoolStats()
	assert.NotNil(t, stats, "Should return connection pool stats")
	assert.GreaterOrEqual(t, stats["max_conns"].(int32), int32(1), "Should have at least 1 max connection")
}

func TestDatabase_InTxRollback(t *testing.T) {
	db, ctx := setupTestDB(t)

	require.NoError(t, db.Teams().EnsureExists(ctx, &models.Team{ShortCode: "UCONN", Seed: 1, Season: 2024}))
	require.NoError(t, db.Games().EnsureExists(ctx, &models.Game{ExternalID: "6221548", Season: 2024}))

	err := db.InTx(ctx, func(gw gateway.Gateway) error {
		require.NoError(t, gw.Teams().ApplyFinal(ctx, 2024, "UCONN", true, 70, ""))
		return gw.Games().MarkFinalProcessed(ctx, 2024, "missing")
	})
	require.ErrorIs(t, err, models.ErrNotFound)

	team, err := db.Teams().Get(ctx, 2024, "UCONN")
	require.NoError(t, err)
	assert.Equal(t, 0, team.ConfirmedPoints, "rolled back transaction must not leave points behind")
}

func TestDatabase_InTxCommit(t *testing.T) {
	db, ctx := setupTestDB(t)

	require.NoError(t, db.Teams().EnsureExists(ctx, &models.Team{ShortCode: "UCONN", Seed: 1, Season: 2024}))
	require.NoError(t, db.Games().EnsureExists(ctx, &models.Game{ExternalID: "6221548", Season: 2024}))

	err := db.InTx(ctx, func(gw gateway.Gateway) error {
		if err := gw.Teams().ApplyFinal(ctx, 2024, "UCONN", true, 70, ""); err != nil {
			return err
		}
		// Nested InTx joins the open transaction
		return gw.InTx(ctx, func(inner gateway.Gateway) error {
			return inner.Games().MarkFinalProcessed(ctx, 2024, "6221548")
		})
	})
	require.NoError(t, err)

	team, err := db.Teams().Get(ctx, 2024, "UCONN")
	require.NoError(t, err)
	assert.Equal(t, 70, team.ConfirmedPoints)

	closed, err := db.Games().IsFinalProcessed(ctx, 2024, "6221548")
	require.NoError(t, err)
	assert.True(t, closed)
}

func TestDatabase_Reset(t *testing.T) {
	db, ctx := setupTestDB(t)

	require.NoError(t, db.Teams().EnsureExists(ctx, &models.Team{ShortCode: "UCONN", Season: 2024}))
	require.NoError(t, db.Teams().EnsureExists(ctx, &models.Team{ShortCode: "UCONN", Season: 2023}))
	require.NoError(t, db.Games().EnsureExists(ctx, &models.Game{ExternalID: "1", Season: 2024}))

	require.NoError(t, db.Reset(ctx, 2024))

	teams, err := db.Teams().List(ctx, 2024)
	require.NoError(t, err)
	assert.Empty(t, teams)

	_, err = db.Games().Get(ctx, 2024, "1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Other seasons are untouched
	_, err = db.Teams().Get(ctx, 2023, "UCONN")
	assert.NoError(t, err)
}
