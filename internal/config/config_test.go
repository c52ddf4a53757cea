package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/metabench/crawlfleet/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDefault_RequiresDomain(t *testing.T) {
	_, err := config.WithDefault("", nil).Build()
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestWithDefault_AppliesDefaults(t *testing.T) {
	cfg, err := config.WithDefault("example.com", []string{"https://example.com/"}).Build()
	require.NoError(t, err)

	assert.Equal(t, "example.com", cfg.Domain())
	assert.Equal(t, 5, cfg.MaxDepth())
	assert.Equal(t, 8080, cfg.Port())
	assert.Equal(t, "crawlfleet.db", cfg.SqliteDBPath())
	assert.Equal(t, 0.5, cfg.RateLimiterDecreaseFactor())
	assert.Equal(t, 1.1, cfg.RateLimiterIncreaseFactor())
	assert.Equal(t, 120*time.Second, cfg.WatchdogInterval())
	assert.Equal(t, 3, cfg.WatchdogMaxRestarts())
	assert.Equal(t, 3, cfg.QueueMaxReclaims())
	assert.Equal(t, 3, cfg.TemplatePromotionK())
}

func TestBuilder_OverridesChain(t *testing.T) {
	cfg, err := config.WithDefault("example.com", nil).
		WithMaxDepth(2).
		WithPort(9090).
		WithWatchdogMaxRestarts(5).
		WithRateLimiterDecreaseFactor(0.25).
		Build()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.MaxDepth())
	assert.Equal(t, 9090, cfg.Port())
	assert.Equal(t, 5, cfg.WatchdogMaxRestarts())
	assert.Equal(t, 0.25, cfg.RateLimiterDecreaseFactor())
}

func TestBuild_RequiresStorageTarget(t *testing.T) {
	cfg := config.WithDefault("example.com", nil)
	cfg2, err := cfg.WithSqliteDBPath("").Build()
	require.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Equal(t, config.Config{}, cfg2)
}

func TestWithConfigFile_MissingFile(t *testing.T) {
	_, err := config.WithConfigFile(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.ErrorIs(t, err, config.ErrFileDoesNotExist)
}

func TestWithConfigFile_LoadsOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		"domain": "example.com",
		"seedUrls": ["https://example.com/"],
		"maxDepth": 7,
		"port": 9999,
		"watchdogMaxRestarts": 10
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := config.WithConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, "example.com", cfg.Domain())
	assert.Equal(t, 7, cfg.MaxDepth())
	assert.Equal(t, 9999, cfg.Port())
	assert.Equal(t, 10, cfg.WatchdogMaxRestarts())
}

func TestWithConfigFile_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))

	_, err := config.WithConfigFile(path)
	require.ErrorIs(t, err, config.ErrConfigParsingFail)
}
