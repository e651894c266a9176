package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if !had {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "JWT_SECRET", "dev-secret")
	setEnv(t, "ENV", "development")
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultBulkMaxItems, cfg.BulkMaxItems)
	assert.Equal(t, 0, cfg.BulkWorkers)
	assert.True(t, cfg.AutoMigrate)
	assert.True(t, cfg.DedupeEnforcement)
	assert.False(t, cfg.AllowSlugCategories)
	assert.Equal(t, DefaultJWTIssuer, cfg.JWTIssuer)
	assert.Equal(t, DefaultRateLimitRPM, cfg.RateLimitRPM)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "JWT_SECRET", "dev-secret")
	setEnv(t, "ENV", "development")
	setEnv(t, "BULK_MAX_ITEMS", "50")
	setEnv(t, "ALLOW_SLUG_CATEGORIES", "true")
	setEnv(t, "DEDUPE_ENFORCEMENT", "false")
	setEnv(t, "AUTO_MIGRATE", "not-a-bool")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.BulkMaxItems)
	assert.True(t, cfg.AllowSlugCategories)
	assert.False(t, cfg.DedupeEnforcement)
	assert.True(t, cfg.AutoMigrate, "unparseable values fall back to the default")
}

func TestLoad_MissingSecret(t *testing.T) {
	setEnv(t, "JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Env:          "production",
			JWTSecret:    "0123456789abcdef0123456789abcdef",
			BulkMaxItems: 500,
			RateLimitRPM: 600,
			LogFormat:    "json",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"short secret in production", func(c *Config) { c.JWTSecret = "short" }, "at least 32 bytes"},
		{"short secret in development", func(c *Config) { c.Env = "development"; c.JWTSecret = "short" }, ""},
		{"zero bulk cap", func(c *Config) { c.BulkMaxItems = 0 }, "BULK_MAX_ITEMS"},
		{"negative workers", func(c *Config) { c.BulkWorkers = -1 }, "BULK_WORKERS"},
		{"zero rate limit", func(c *Config) { c.RateLimitRPM = 0 }, "RATE_LIMIT_RPM"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
