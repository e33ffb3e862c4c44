package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, defaultListen, cfg.Listen)
	assert.Equal(t, StrategyRedirect, cfg.Resolver.Strategy)
	assert.Equal(t, 5*time.Second, cfg.Resolver.Timeout)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Second load reads back what was written.
	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
listen: ":9090"
base_url: https://api.example.com/v1
timezone: Asia/Bangkok
cache_ttl: 30s
starting_soon_days: 3
resolver:
  strategy: GEOCODE
  timeout: 2s
  geocode_api_key: secret
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "https://api.example.com/v1/", cfg.BaseURL, "base url gets a trailing slash")
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, 3, cfg.StartingSoonDays)
	assert.Equal(t, StrategyGeocode, cfg.Resolver.Strategy)
	assert.Equal(t, 2*time.Second, cfg.Resolver.Timeout)
	assert.Equal(t, defaultMaxConcurrency, cfg.Resolver.MaxConcurrency)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate(), "base url missing")

	cfg.BaseURL = "https://api.example.com/"
	assert.NoError(t, cfg.Validate())

	cfg.Resolver.Strategy = StrategyGeocode
	assert.Error(t, cfg.Validate(), "geocode without key")

	cfg.Resolver.GeocodeAPIKey = "k"
	cfg.Timezone = "Mars/Olympus_Mons"
	assert.Error(t, cfg.Validate())
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvBaseURL, "https://env.example.com")
	t.Setenv(EnvGeocodeKey, "from-env")
	t.Setenv(EnvResolverMode, "geocode")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	assert.Equal(t, "https://env.example.com/", cfg.BaseURL)
	assert.Equal(t, "from-env", cfg.Resolver.GeocodeAPIKey)
	assert.Equal(t, StrategyGeocode, cfg.Resolver.Strategy)
}
