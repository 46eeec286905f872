package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	// Scoreboard feed
	FeedBaseURL    string        `envconfig:"FEED_BASE_URL" default:"https://data.ncaa.com/casablanca/scoreboard/basketball-men/d1"`
	FeedTimeout    time.Duration `envconfig:"FEED_TIMEOUT" default:"20s"`
	FeedMaxRetries int           `envconfig:"FEED_MAX_RETRIES" default:"3"`
	FeedTimezone   string        `envconfig:"FEED_TIMEZONE" default:"America/New_York"`

	// Reconciliation
	TrackDate        string   `envconfig:"TRACK_DATE" default:""`
	BracketRounds    []string `envconfig:"BRACKET_ROUNDS" default:"First Round,Second Round,Sweet 16,Elite Eight,Final Four,Championship"`
	ReconcileWorkers int      `envconfig:"RECONCILE_WORKERS" default:"1"`

	// Database
	StoreDriver         string `envconfig:"STORE_DRIVER" default:"postgres"`
	DatabaseHost        string `envconfig:"DATABASE_HOST" default:"localhost"`
	DatabasePort        int    `envconfig:"DATABASE_PORT" default:"5432"`
	DatabaseName        string `envconfig:"DATABASE_NAME" default:"bracket"`
	DatabaseUser        string `envconfig:"DATABASE_USER" default:"bracket_user"`
	DatabasePassword    string `envconfig:"DATABASE_PASSWORD" default:""`
	DatabaseSSLMode     string `envconfig:"DATABASE_SSL_MODE" default:"disable"`
	DatabaseAutoMigrate bool   `envconfig:"DATABASE_AUTO_MIGRATE" default:"true"`

	// Redis
	RedisEnabled  bool   `envconfig:"REDIS_ENABLED" default:"false"`
	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Caching TTL (in seconds)
	CacheTTLTeams int `envconfig:"CACHE_TTL_TEAMS" default:"60"`

	// Application
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8080"`

	// Origins allowed to read the API from a browser
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// Scheduler
	EnableScheduler bool   `envconfig:"ENABLE_SCHEDULER" default:"true"`
	PollSchedule    string `envconfig:"POLL_SCHEDULE" default:"@every 5m"`
	SettleCron      string `envconfig:"SETTLE_CRON" default:"15 4 * * *"`
	BackfillFrom    string `envconfig:"BACKFILL_FROM" default:""`
	BackfillTo      string `envconfig:"BACKFILL_TO" default:""`
}

// Load loads configuration from environment variables
// It first attempts to load from .env file if in development mode
func Load() (*Config, error) {
	// Try to load .env file (ignore error if doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.FeedBaseURL == "" {
		return fmt.Errorf("FEED_BASE_URL is required")
	}

	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabasePassword == "" && c.IsProduction() {
			return fmt.Errorf("DATABASE_PASSWORD is required in production")
		}
	case StoreDriverMemory:
		if c.IsProduction() {
			return fmt.Errorf("STORE_DRIVER=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if len(c.BracketRounds) == 0 {
		return fmt.Errorf("BRACKET_ROUNDS must list at least one round")
	}

	if c.ReconcileWorkers < 1 {
		return fmt.Errorf("RECONCILE_WORKERS must be at least 1")
	}

	if _, err := time.LoadLocation(c.FeedTimezone); err != nil {
		return fmt.Errorf("invalid FEED_TIMEZONE: %w", err)
	}

	for name, value := range map[string]string{
		"TRACK_DATE":    c.TrackDate,
		"BACKFILL_FROM": c.BackfillFrom,
		"BACKFILL_TO":   c.BackfillTo,
	} {
		if value == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", value); err != nil {
			return fmt.Errorf("%s must be YYYY-MM-DD: %w", name, err)
		}
	}

	if (c.BackfillFrom == "") != (c.BackfillTo == "") {
		return fmt.Errorf("BACKFILL_FROM and BACKFILL_TO must be set together")
	}

	return nil
}

// DatabaseDSN returns the PostgreSQL connection URL
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DatabaseUser,
		c.DatabasePassword,
		c.DatabaseHost,
		c.DatabasePort,
		c.DatabaseName,
		c.DatabaseSSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// Location returns the timezone the feed's calendar days are expressed in
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.FeedTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// MustLoad loads configuration or panics on error
// Use this in main() where we want to fail fast
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
