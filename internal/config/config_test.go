package config

import (
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

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.True(t, cfg.Archiver.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Archiver.ConnectTimeout)
	assert.Equal(t, 15*time.Second, cfg.Archiver.ReadTimeout)
	assert.Equal(t, 5, cfg.Archiver.MaxRedirects)
	assert.Equal(t, 10<<20, cfg.Archiver.MaxContentSize)
	assert.Equal(t, 3, cfg.Archiver.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Archiver.RetryBackoffBase)
	assert.Equal(t, 4, cfg.Workers.Count)
	assert.False(t, cfg.Production())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
environment: staging
server:
  addr: ":9090"
archiver:
  max_retries: 5
  user_agent: "LinkRadarBot/2.0"
workers:
  count: 8
database:
  dsn: "postgres://linkradar@localhost/linkradar"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Archiver.MaxRetries)
	assert.Equal(t, "LinkRadarBot/2.0", cfg.Archiver.UserAgent)
	assert.Equal(t, 8, cfg.Workers.Count)
	assert.Equal(t, "postgres://linkradar@localhost/linkradar", cfg.Database.DSN)
	// Defaults still apply for unset keys.
	assert.Equal(t, 5, cfg.Archiver.MaxRedirects)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LINKRADAR_ARCHIVER_MAX_RETRIES", "7")
	t.Setenv("LINKRADAR_SERVER_ADDR", ":7070")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Archiver.MaxRetries)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestValidateProductionRequiresContactURL(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Environment = "production"
	require.Error(t, cfg.Validate())

	cfg.Archiver.ContactURL = "https://linkradar.example/about"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadBounds(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Archiver.MaxContentSize = 0
	require.Error(t, cfg.Validate())

	cfg, err = Load("")
	require.NoError(t, err)
	cfg.Workers.Count = 0
	require.Error(t, cfg.Validate())
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
