package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bracket_tracker/ingestion/internal/gateway"
	"bracket_tracker/ingestion/internal/metrics"
	"bracket_tracker/ingestion/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// querier is the subset of pgx shared by the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Database holds the database connection pool and provides access to repositories
type Database struct {
	Pool *pgxpool.Pool

	teams *TeamRepository
	games *GameRepository
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN returns the postgres URL for this configuration
func (c Config) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
		c.SSLMode,
	)
}

// NewDatabase creates a new database connection pool and initializes repositories
func NewDatabase(ctx context.Context, cfg Config) (*Database, error) {
	return Open(ctx, cfg.DSN())
}

// Open connects to the database at dsn
func Open(ctx context.Context, dsn string) (*Database, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Polls are small and serialized; the read API is the only other client
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("host", poolConfig.ConnConfig.Host).
		Uint16("port", poolConfig.ConnConfig.Port).
		Str("database", poolConfig.ConnConfig.Database).
		Msg("Successfully connected to database")

	return newDatabase(pool), nil
}

func newDatabase(pool *pgxpool.Pool) *Database {
	return &Database{
		Pool:  pool,
		teams: &TeamRepository{q: pool},
		games: &GameRepository{q: pool},
	}
}

// Teams returns the team ledger backed by the pool
func (db *Database) Teams() gateway.TeamLedger {
	return db.teams
}

// Games returns the game tracker backed by the pool
func (db *Database) Games() gateway.GameTracker {
	return db.games
}

// InTx runs fn inside a single transaction. The transaction is rolled back if fn fails.
func (db *Database) InTx(ctx context.Context, fn func(gateway.Gateway) error) error {
	start := time.Now()
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return &models.PersistenceError{Op: "begin transaction", Err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(&txGateway{
		teams: &TeamRepository{q: tx},
		games: &GameRepository{q: tx},
	}); err != nil {
		metrics.RecordDBQuery("transaction", "all", "rollback", time.Since(start).Seconds())
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		metrics.RecordDBQuery("transaction", "all", "error", time.Since(start).Seconds())
		return &models.PersistenceError{Op: "commit transaction", Err: err}
	}
	metrics.RecordDBQuery("transaction", "all", "success", time.Since(start).Seconds())
	return nil
}

// Reset deletes every team and game of a season. This is the only delete path.
func (db *Database) Reset(ctx context.Context, season int) error {
	return db.InTx(ctx, func(gw gateway.Gateway) error {
		tx := gw.(*txGateway)
		games, err := tx.games.q.Exec(ctx, `DELETE FROM games WHERE season = $1`, season)
		if err != nil {
			return &models.PersistenceError{Op: "reset games", Err: err}
		}
		teams, err := tx.teams.q.Exec(ctx, `DELETE FROM teams WHERE season = $1`, season)
		if err != nil {
			return &models.PersistenceError{Op: "reset teams", Err: err}
		}
		log.Warn().
			Int("season", season).
			Int64("games", games.RowsAffected()).
			Int64("teams", teams.RowsAffected()).
			Msg("Season reset")
		return nil
	})
}

// Close closes the database connection pool
func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Info().Msg("Database connection pool closed")
	}
}

// Health checks if the database is healthy
func (db *Database) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

// PoolStats returns database pool statistics and mirrors them into the pool gauges
func (db *Database) PoolStats() map[string]interface{} {
	stat := db.Pool.Stat()
	metrics.UpdateDBConnectionStats(stat.AcquiredConns(), stat.IdleConns())
	return map[string]interface{}{
		"total_conns":    stat.TotalConns(),
		"acquired_conns": stat.AcquiredConns(),
		"idle_conns":     stat.IdleConns(),
		"max_conns":      stat.MaxConns(),
	}
}

// txGateway is the transactional view handed to InTx callbacks
type txGateway struct {
	teams *TeamRepository
	games *GameRepository
}

func (t *txGateway) Teams() gateway.TeamLedger  { return t.teams }
func (t *txGateway) Games() gateway.GameTracker { return t.games }

// InTx on an open transaction joins it
func (t *txGateway) InTx(ctx context.Context, fn func(gateway.Gateway) error) error {
	return fn(t)
}

// observe records query metrics and wraps failures as persistence errors
func observe(operation, table string, start time.Time, err error) error {
	status := "success"
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		status = "error"
	}
	metrics.RecordDBQuery(operation, table, status, time.Since(start).Seconds())
	if err == nil || errors.Is(err, models.ErrNotFound) {
		return err
	}
	var dupErr *models.DuplicateKeyError
	if errors.As(err, &dupErr) {
		return err
	}
	return &models.PersistenceError{Op: fmt.Sprintf("%s %s", operation, table), Err: err}
}
