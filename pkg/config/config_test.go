package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 100, cfg.Search.MaxPageSize)
	assert.Equal(t, 8, cfg.Chat.MaxCandidates)
	assert.Equal(t, 30*24*time.Hour, cfg.Popularity.HalfLife)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	yamlDoc := `
search:
  defaultPageSize: 10
  maxPageSize: 50
chat:
  maxCandidates: 5
popularity:
  halfLife: 168h
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))
	t.Setenv("LC_CHAT_MAX_CANDIDATES", "6")
	t.Setenv("LC_REDIS_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Search.MaxPageSize)
	assert.Equal(t, 10, cfg.Search.DefaultPageSize)
	assert.Equal(t, 6, cfg.Chat.MaxCandidates)
	assert.Equal(t, 7*24*time.Hour, cfg.Popularity.HalfLife)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoadRejectsInvalidPaging(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search:\n  maxPageSize: 0\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLambdaHalvesOverHalfLife(t *testing.T) {
	p := PopularityConfig{HalfLife: 30 * 24 * time.Hour}
	factor := math.Exp(-p.Lambda() * p.HalfLife.Seconds())
	assert.InDelta(t, 0.5, factor, 1e-9)
	assert.Zero(t, PopularityConfig{}.Lambda())
}

func TestDevelopmentConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "development.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 720*time.Hour, cfg.Popularity.HalfLife)
	assert.Equal(t, 8, cfg.Chat.MaxCandidates)
	assert.Equal(t, 100, cfg.Search.MaxPageSize)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "catalog-analytics", cfg.Kafka.Topics.AnalyticsEvents)
}
