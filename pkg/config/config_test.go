package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValidOnceStoreDSNSet(t *testing.T) {
	cfg := Default()
	cfg.Store.DSN = "postgres://localhost/cascade"
	require.NoError(t, Validate(cfg))
}

func TestInitializeMissingFileFallsBackToDefaults(t *testing.T) {
	t.Setenv("CASCADE_STORE_DSN", "postgres://localhost/cascade")
	dir := t.TempDir()
	cfg, err := Initialize(context.Background(), filepath.Join(dir, "missing.yaml"))
	require.Error(t, err) // store.store_dsn still required, not read from env here
	assert.Nil(t, cfg)
}

func TestInitializeLoadsYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cascade.yaml")
	content := `
provider:
  provider_kind: vendor_b_compatible
  provider_model: test-model
  ai_timeout_s: 30
rate_limit:
  ai_rate_rpm: 10
  ai_rate_tpm: 1000
store:
  store_dsn: ${TEST_DSN}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("TEST_DSN", "postgres://localhost/cascade_test")

	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "vendor_b_compatible", cfg.Provider.Kind)
	assert.Equal(t, "test-model", cfg.Provider.Model)
	assert.Equal(t, 30, cfg.Provider.TimeoutSeconds)
	assert.Equal(t, 10, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, "postgres://localhost/cascade_test", cfg.Store.DSN)
	// Unset sections keep their built-in defaults.
	assert.Equal(t, DefaultBreakerThreshold, cfg.Breaker.FailureThreshold)
	assert.NotEmpty(t, cfg.Analysis.SourceExtensions)
}

func TestValidateRejectsUnknownProviderKind(t *testing.T) {
	cfg := Default()
	cfg.Store.DSN = "postgres://localhost/cascade"
	cfg.Provider.Kind = "unknown_vendor"
	err := Validate(cfg)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "provider.kind", verr.Field)
}

func TestValidateRejectsZeroConcurrency(t *testing.T) {
	cfg := Default()
	cfg.Store.DSN = "postgres://localhost/cascade"
	cfg.Concurrency.MaxModules = 0
	require.Error(t, Validate(cfg))
}

func TestStats(t *testing.T) {
	cfg := Default()
	stats := cfg.Stats()
	assert.Equal(t, DefaultProviderKind, stats.ProviderKind)
	assert.True(t, stats.CacheEnabled)
	assert.Greater(t, stats.SourceExtensions, 0)
}
