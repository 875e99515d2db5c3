package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
cache:
  root: /tmp/kline-cache
vision:
  host: data.binance.vision
  freshness_threshold_sec: 172800
rest:
  page_limit: 1000
  concurrency: 8
global:
  max_concurrent_downloads: 32
  user_agent: kline-fcp/1.0
providers:
  binance:
    rps: 10
    burst: 20
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/kline-cache", cfg.Cache.Root)
	assert.Equal(t, 1000, cfg.REST.PageLimit)
	assert.Equal(t, 48*time.Hour, cfg.Vision.FreshnessThreshold())
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeConfig(t, `
cache:
  root: /tmp/kline-cache
  bogus_field: true
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsEmptyCacheRoot(t *testing.T) {
	cfg := Default()
	cfg.Cache.Root = ""
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsProviderBurstBelowRPS(t *testing.T) {
	cfg := Default()
	cfg.Providers = map[string]ProviderConfig{"binance": {RPS: 10, Burst: 1}}
	err := cfg.Validate()
	require.Error(t, err)
}
