package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("Failed to set %s: %v", key, err)
	}
	t.Cleanup(func() { _ = os.Unsetenv(key) })
}

func TestLoadConfig(t *testing.T) {
	setEnv(t, "SERVER_PORT", "9090")
	setEnv(t, "POSTGRES_HOST", "testhost")
	setEnv(t, "RECONCILE_LOCK_TTL", "30s")
	setEnv(t, "FILTER_SPATIAL_POLICY", "STRICT")
	setEnv(t, "CLICKHOUSE_ENABLED", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "testhost", cfg.Database.Postgres.Host)
	assert.Equal(t, 30*time.Second, cfg.Reconcile.LockTTL)
	assert.Equal(t, "strict", cfg.Reconcile.SpatialPolicy)
	assert.True(t, cfg.Database.ClickHouse.Enabled)
	assert.Equal(t, "batches:pending", cfg.Worker.Queue)
	assert.Equal(t, "nominatim", cfg.Geocoder.Backend)
	assert.Empty(t, cfg.Database.MigrationsPath)
}

func TestLoadConfigRejectsUnknownGeocoder(t *testing.T) {
	setEnv(t, "GEOCODER_BACKEND", "google")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEOCODER_BACKEND")
}

func TestLoadConfigRejectsUnknownSpatialPolicy(t *testing.T) {
	setEnv(t, "FILTER_SPATIAL_POLICY", "maybe")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FILTER_SPATIAL_POLICY")
}

func TestPostgresURL(t *testing.T) {
	cfg := PostgresConfig{
		Host:     "db",
		Port:     "5432",
		Database: "scanner",
		User:     "app",
		Password: "p@ss",
	}
	assert.Equal(t, "postgres://app:p%40ss@db:5432/scanner?sslmode=disable", cfg.URL())
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				setEnv(t, tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{"returns integer when valid", "TEST_INT", 100, "200", 200},
		{"returns default when invalid", "TEST_INT_INVALID", 100, "invalid", 100},
		{"returns default when not set", "TEST_INT_NOTSET", 100, "", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				setEnv(t, tt.key, tt.envValue)
			}

			got := getEnvAsInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsBoolAndFloat(t *testing.T) {
	setEnv(t, "TEST_BOOL", "1")
	setEnv(t, "TEST_FLOAT", "2.5")

	assert.True(t, getEnvAsBool("TEST_BOOL", false))
	assert.False(t, getEnvAsBool("TEST_BOOL_NOTSET", false))
	assert.Equal(t, 2.5, getEnvAsFloat("TEST_FLOAT", 1))
	assert.Equal(t, 1.0, getEnvAsFloat("TEST_FLOAT_NOTSET", 1))
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{"returns duration when valid", "TEST_DURATION", 10 * time.Second, "30s", 30 * time.Second},
		{"returns default when invalid", "TEST_DURATION_INVALID", 10 * time.Second, "invalid", 10 * time.Second},
		{"returns default when not set", "TEST_DURATION_NOTSET", 10 * time.Second, "", 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				setEnv(t, tt.key, tt.envValue)
			}

			got := getEnvAsDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}
