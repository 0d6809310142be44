package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "/api/chunk/autocomplete", cfg.Intercept.Endpoint)
	assert.Equal(t, 15, cfg.Intercept.HighlightWindow)
	assert.Equal(t, 3, cfg.Intercept.MaxHighlights)
	assert.Equal(t, 10*time.Second, cfg.Intercept.CacheTTL)
	assert.Equal(t, 50*time.Millisecond, cfg.Intercept.CallbackReplayDelay)
	assert.Equal(t, 100*time.Millisecond, cfg.Intercept.PromiseReplayJitter)
	assert.False(t, cfg.Intercept.CoalesceInflight)
	assert.InDelta(t, 0.4, cfg.Rerank.Threshold, 1e-9)
	assert.InDelta(t, 0.6, cfg.Rerank.Weights.Content, 1e-9)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.False(t, cfg.UsesRedis())
}

func TestLoadFromFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
upstream:
  base_url: ${SEARCH_UPSTREAM:http://search.internal:8000}
intercept:
  cache_ttl: 5s
  highlight_window: 20
`)
	writeFile(t, dir, "config.staging.yaml", `
intercept:
  highlight_window: 30
`)
	t.Setenv("APP_ENV", "staging")
	t.Setenv("INTERCEPT_MAX_HIGHLIGHTS", "2")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, "http://search.internal:8000", cfg.Upstream.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Intercept.CacheTTL)
	assert.Equal(t, 30, cfg.Intercept.HighlightWindow)
	assert.Equal(t, 2, cfg.Intercept.MaxHighlights)
}

func TestLoadFromRejectsInvalidBackend(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "cache:\n  backend: memcached\n")

	_, err := LoadFrom(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memcached")
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("RERANK_TEST_HOST", "redis.local")

	assert.Equal(t, "host: redis.local", expandEnv("host: ${RERANK_TEST_HOST}"))
	assert.Equal(t, "port: 6380", expandEnv("port: ${RERANK_TEST_MISSING_PORT:6380}"))
	assert.Equal(t, "pw: ${RERANK_TEST_MISSING}", expandEnv("pw: ${RERANK_TEST_MISSING}"))
}
