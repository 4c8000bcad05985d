// Package config provides configuration management for the listing scanner.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Worker    WorkerConfig
	Reconcile ReconcileConfig
	Geocoder  GeocoderConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
	// QueueBatches hands submitted batches to the worker queue instead of
	// reconciling them within the request
	QueueBatches  bool
	MaxBatchBytes int64
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
	// MigrationsPath overrides the embedded Postgres migrations when set
	MigrationsPath string
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL renders the config as a postgres:// URL, the form golang-migrate expects
func (c PostgresConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// ClickHouseConfig holds ClickHouse configuration. The listing event sink is
// optional; cycles run without it when Enabled is false.
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// WorkerConfig holds batch worker configuration
type WorkerConfig struct {
	Concurrency  int
	Queue        string
	DeadLetter   string
	PollInterval time.Duration
	MaxAttempts  int
}

// ReconcileConfig holds reconciliation settings
type ReconcileConfig struct {
	LockTTL          time.Duration
	DistributedLock  bool
	SpatialPolicy    string // "pass" or "strict"
	ChangeChannelKey string // prefix of the Redis pub/sub channel per job
}

// GeocoderConfig holds the geocoding backend and its decorators
type GeocoderConfig struct {
	Backend           string // "nominatim" or "none"
	URL               string
	UserAgent         string
	CountryCode       string
	RequestsPerSecond float64
	CacheTTL          time.Duration
	MissTTL           time.Duration
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional, environment variables can be set directly
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:          getEnv("SERVER_PORT", "8080"),
			Host:          getEnv("SERVER_HOST", "0.0.0.0"),
			QueueBatches:  getEnvAsBool("SERVER_QUEUE_BATCHES", false),
			MaxBatchBytes: int64(getEnvAsInt("SERVER_MAX_BATCH_BYTES", 8<<20)),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "listing_scanner"),
				User:           getEnv("POSTGRES_USER", "scanner"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "listing_scanner"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
			MigrationsPath: getEnv("MIGRATIONS_PATH", ""),
		},
		Worker: WorkerConfig{
			Concurrency:  getEnvAsInt("WORKER_CONCURRENCY", 4),
			Queue:        getEnv("WORKER_QUEUE", "batches:pending"),
			DeadLetter:   getEnv("WORKER_DEAD_LETTER", "batches:failed"),
			PollInterval: getEnvAsDuration("WORKER_POLL_INTERVAL", 5*time.Second),
			MaxAttempts:  getEnvAsInt("WORKER_MAX_ATTEMPTS", 3),
		},
		Reconcile: ReconcileConfig{
			LockTTL:          getEnvAsDuration("RECONCILE_LOCK_TTL", 2*time.Minute),
			DistributedLock:  getEnvAsBool("RECONCILE_DISTRIBUTED_LOCK", false),
			SpatialPolicy:    strings.ToLower(getEnv("FILTER_SPATIAL_POLICY", "pass")),
			ChangeChannelKey: getEnv("RECONCILE_CHANGE_CHANNEL", "changes"),
		},
		Geocoder: GeocoderConfig{
			Backend:           strings.ToLower(getEnv("GEOCODER_BACKEND", "nominatim")),
			URL:               getEnv("GEOCODER_URL", ""),
			UserAgent:         getEnv("GEOCODER_USER_AGENT", "listing-scanner/1.0"),
			CountryCode:       getEnv("GEOCODER_COUNTRY", "ch"),
			RequestsPerSecond: getEnvAsFloat("GEOCODER_RPS", 1),
			CacheTTL:          getEnvAsDuration("GEOCODER_CACHE_TTL", 30*24*time.Hour),
			MissTTL:           getEnvAsDuration("GEOCODER_MISS_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 40),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the services cannot start with
func (c *Config) Validate() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.Worker.Concurrency)
	}
	switch c.Reconcile.SpatialPolicy {
	case "pass", "strict":
	default:
		return fmt.Errorf("FILTER_SPATIAL_POLICY must be 'pass' or 'strict', got %q", c.Reconcile.SpatialPolicy)
	}
	if c.Reconcile.LockTTL <= 0 {
		return fmt.Errorf("RECONCILE_LOCK_TTL must be positive")
	}
	switch c.Geocoder.Backend {
	case "nominatim", "none":
	default:
		return fmt.Errorf("GEOCODER_BACKEND must be 'nominatim' or 'none', got %q", c.Geocoder.Backend)
	}
	if c.Geocoder.RequestsPerSecond <= 0 {
		return fmt.Errorf("GEOCODER_RPS must be positive")
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}
