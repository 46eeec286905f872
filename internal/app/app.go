// Package app assembles the worker's collaborators from configuration.
// It is shared by the worker binary and the bracketctl CLI.
package app

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"bracket_tracker/ingestion/internal/cache"
	"bracket_tracker/ingestion/internal/client"
	"bracket_tracker/ingestion/internal/config"
	"bracket_tracker/ingestion/internal/gateway"
	"bracket_tracker/ingestion/internal/reconciler"
	"bracket_tracker/ingestion/internal/repository"
	"bracket_tracker/ingestion/internal/store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Store is a gateway that can also be health-checked and reset
type Store interface {
	gateway.Gateway
	Health(ctx context.Context) error
	Reset(ctx context.Context, season int) error
}

var (
	_ Store = (*repository.Database)(nil)
	_ Store = (*store.MemoryStore)(nil)
)

// SetupLogger configures the global zerolog logger
func SetupLogger(appEnv, level string) {
	// Pretty console logging in development
	if appEnv == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}

	lvl := zerolog.InfoLevel
	if level != "" {
		if parsed, err := zerolog.ParseLevel(level); err == nil {
			lvl = parsed
		}
	}
	zerolog.SetGlobalLevel(lvl)
}

// OpenStore opens the configured store. The returned close func is never nil.
func OpenStore(ctx context.Context, cfg *config.Config) (Store, func(), error) {
	noop := func() {}

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn().Msg("Using in-memory store; state is lost on exit")
		return store.NewMemoryStore(), noop, nil

	case config.StoreDriverPostgres:
		if cfg.DatabaseAutoMigrate {
			if err := repository.Migrate(cfg.DatabaseDSN()); err != nil {
				return nil, noop, err
			}
		}

		db, err := repository.NewDatabase(ctx, repository.Config{
			Host:     cfg.DatabaseHost,
			Port:     strconv.Itoa(cfg.DatabasePort),
			User:     cfg.DatabaseUser,
			Password: cfg.DatabasePassword,
			Database: cfg.DatabaseName,
			SSLMode:  cfg.DatabaseSSLMode,
		})
		if err != nil {
			return nil, noop, err
		}
		return db, db.Close, nil

	default:
		return nil, noop, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// OpenCache connects to Redis when enabled. A nil cache means run without it.
func OpenCache(cfg *config.Config) *cache.RedisCache {
	if !cfg.RedisEnabled {
		return nil
	}

	redisCache, err := cache.NewRedisCache(cache.Config{
		Host:     cfg.RedisHost,
		Port:     strconv.Itoa(cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to Redis - continuing without cache")
		return nil
	}
	return redisCache
}

// NewFeed builds the scoreboard client
func NewFeed(cfg *config.Config) *client.Client {
	return client.NewClient(cfg.FeedBaseURL, cfg.FeedTimeout, client.WithMaxRetries(cfg.FeedMaxRetries))
}

// NewReconciler builds a reconciler over the configured feed and the given gateway
func NewReconciler(cfg *config.Config, feed reconciler.Feed, gw gateway.Gateway) *reconciler.Reconciler {
	return reconciler.New(feed, gw,
		reconciler.WithRounds(cfg.BracketRounds),
		reconciler.WithWorkers(cfg.ReconcileWorkers),
	)
}
