package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/diagnosis-api/pkg/logger"
)

const sampleYAML = `
server:
  port: 9090
database:
  host: db.internal
  name: portal
ml:
  artifact_dir: /var/lib/diagnosis/models
  n_estimators: 80
  symmetric_features: true
outbox:
  poll_interval: 2s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfig(t, sampleYAML))

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "portal", cfg.Database.Name)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "/var/lib/diagnosis/models", cfg.ML.ArtifactDir)
	assert.Equal(t, 80, cfg.ML.NEstimators)
	assert.True(t, cfg.ML.SymmetricFeatures)
	assert.Equal(t, 2*time.Second, cfg.Outbox.PollInterval)

	// Defaults that the file does not set.
	assert.Equal(t, 5, cfg.ML.MaxDepth)
	assert.Equal(t, int64(42), cfg.ML.Seed)
	assert.Equal(t, 0.05, cfg.ML.DisplayThreshold)
	assert.Equal(t, 5, cfg.ML.TopK)
	assert.Equal(t, 10*time.Minute, cfg.ML.InfoCacheTTL)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfig(t, sampleYAML))
	t.Setenv("DIAG_DB_HOST", "override.internal")
	t.Setenv("DIAG_ML_TOP_K", "3")
	t.Setenv("DIAG_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("DIAG_OUTBOX_RETRY_DELAY", "750ms")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "override.internal", cfg.Database.Host)
	assert.Equal(t, 3, cfg.ML.TopK)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 750*time.Millisecond, cfg.Outbox.RetryDelay)
}

func TestLoadConfigRejectsInvalidThreshold(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfig(t, "ml:\n  display_threshold: 1.5\n"))

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "ml_models", cfg.ML.ArtifactDir)
}

func TestLogConfigToLoggerConfig(t *testing.T) {
	c := LogConfig{Level: "warn", File: "/tmp/diag.log", MaxSizeMB: 10}

	lc := c.ToLoggerConfig()

	assert.Equal(t, logger.WarnLevel, lc.Level)
	require.NotNil(t, lc.File)
	assert.Equal(t, "/tmp/diag.log", lc.File.Path)
	assert.Nil(t, (&LogConfig{}).ToLoggerConfig().File)
}
