package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"PORT", "OMDB_API_KEY", "OMDB_BASE_URL", "OMDB_RATE_PER_SECOND", "OMDB_ENRICH_RATINGS",
	"LOOKUP_TIMEOUT", "DB_PATH", "CACHE_TTL", "POSTER_DIR", "SESSION_TTL", "LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "https://www.omdbapi.com", cfg.OMDbBaseURL)
	assert.Equal(t, 5.0, cfg.OMDbRatePerSecond)
	assert.True(t, cfg.EnrichRatings, "search results carry no ratings without enrichment")
	assert.Equal(t, 10*time.Second, cfg.LookupTimeout)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, "./moviesearch.db", cfg.DBPath)

	assert.Error(t, cfg.Validate(), "missing API key must fail validation")
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("OMDB_API_KEY", "abc123")
	t.Setenv("OMDB_ENRICH_RATINGS", "false")
	t.Setenv("LOOKUP_TIMEOUT", "3s")
	t.Setenv("CACHE_TTL", "15m")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "abc123", cfg.OMDbAPIKey)
	assert.False(t, cfg.EnrichRatings)
	assert.Equal(t, 3*time.Second, cfg.LookupTimeout)
	assert.Equal(t, 15*time.Minute, cfg.CacheTTL)
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "7000")
	// godotenv never overrides variables that are already set; unset the key
	// we expect the file to provide.
	require.NoError(t, os.Unsetenv("OMDB_API_KEY"))

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("OMDB_API_KEY=from-file\nPORT=1234\n"), 0o644))

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.OMDbAPIKey)
	assert.Equal(t, "7000", cfg.Port, "process environment wins over the file")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"LOOKUP_TIMEOUT", "soon"},
		{"CACHE_TTL", "10"},
		{"OMDB_RATE_PER_SECOND", "fast"},
		{"OMDB_ENRICH_RATINGS", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}

func TestValidate_Port(t *testing.T) {
	cfg := &Config{OMDbAPIKey: "k", Port: "http"}
	assert.Error(t, cfg.Validate())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &Config{LogLevel: "warn", LogFormat: "json"}
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "query", "alien")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"query":"alien"`)
}
