package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bracket_tracker/ingestion/internal/metrics"
	"bracket_tracker/ingestion/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Config holds Redis connection settings
type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// RedisCache wraps a Redis client for the teams read cache and the poll lease
type RedisCache struct {
	client *redis.Client
}

// releaseScript deletes a lease only if it is still held by the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(cfg Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info().
		Str("addr", client.Options().Addr).
		Int("db", cfg.DB).
		Msg("Redis connection established")

	return &RedisCache{client: client}, nil
}

// Close closes the Redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Health pings Redis
func (c *RedisCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetTeams returns the cached team list of a season. ok is false on a miss.
func (c *RedisCache) GetTeams(ctx context.Context, season int) ([]*models.Team, bool, error) {
	start := time.Now()
	defer func() { metrics.RecordCacheOperation("get", time.Since(start).Seconds()) }()

	data, err := c.client.Get(ctx, TeamsKey(season)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RecordCacheMiss()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read teams cache: %w", err)
	}

	var teams []*models.Team
	if err := json.Unmarshal(data, &teams); err != nil {
		// Treat a corrupt entry as a miss; the next Set overwrites it
		log.Warn().Err(err).Int("season", season).Msg("Discarding undecodable teams cache entry")
		metrics.RecordCacheMiss()
		return nil, false, nil
	}

	metrics.RecordCacheHit()
	return teams, true, nil
}

// SetTeams caches the team list of a season
func (c *RedisCache) SetTeams(ctx context.Context, season int, teams []*models.Team, ttl time.Duration) error {
	start := time.Now()
	defer func() { metrics.RecordCacheOperation("set", time.Since(start).Seconds()) }()

	data, err := json.Marshal(teams)
	if err != nil {
		return fmt.Errorf("failed to encode teams: %w", err)
	}
	if err := c.client.Set(ctx, TeamsKey(season), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write teams cache: %w", err)
	}
	return nil
}

// InvalidateTeams drops the cached team list of a season
func (c *RedisCache) InvalidateTeams(ctx context.Context, season int) error {
	start := time.Now()
	defer func() { metrics.RecordCacheOperation("invalidate", time.Since(start).Seconds()) }()

	if err := c.client.Del(ctx, TeamsKey(season)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate teams cache: %w", err)
	}
	return nil
}

// AcquireLease takes a SET NX PX lease on key. When ok is false another holder
// owns it. The returned release only deletes the lease if it is still ours.
func (c *RedisCache) AcquireLease(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error) {
	token := uuid.NewString()

	ok, err = c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, c.client, []string{key}, token).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to release lease")
		}
	}
	return release, true, nil
}

// TeamsKey is the cache key of a season's team list
func TeamsKey(season int) string {
	return fmt.Sprintf("bracket:teams:%d", season)
}
