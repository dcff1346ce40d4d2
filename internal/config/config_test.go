package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  host: localhost
  name: sitewatch
  user: sw
  password: sw
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8082, cfg.Server.Port)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 8, cfg.NATS.FrameBuffer)
	assert.Equal(t, 640, cfg.Vision.InputSize)
	assert.Equal(t, 1*time.Second, cfg.Capture.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Capture.MaxDelay)
	assert.Equal(t, 5, cfg.Capture.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Events.Cooldown)
	assert.Equal(t, 50, cfg.Events.GridCell)
	assert.Equal(t, 60*time.Second, cfg.Manager.RefreshInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadParsesValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
capture:
  base_delay: 500ms
  max_delay: 10s
  max_retries: 3
events:
  cooldown: 30s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.Capture.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Capture.MaxDelay)
	assert.Equal(t, 3, cfg.Capture.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Events.Cooldown)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SW_NATS_URL", "nats://override:4222")
	t.Setenv("SW_LOG_LEVEL", "debug")
	t.Setenv("SW_DB_PASSWORD", "fromenv")

	path := writeConfig(t, `
nats:
  url: nats://file:4222
logging:
  level: info
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://override:4222", cfg.NATS.URL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "fromenv", cfg.Database.Password)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5433, Name: "sw", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@db:5433/sw?sslmode=disable", d.DSN())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
