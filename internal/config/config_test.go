package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5678, cfg.WebPort)
	assert.Equal(t, 2575, cfg.MLLPListenPort)
	assert.Equal(t, 60*time.Second, cfg.RosterRefreshInterval)
	assert.Equal(t, 3*time.Second, cfg.ScriptTimeout)
	assert.Equal(t, 8*time.Second, cfg.TransportTimeout)
	assert.Equal(t, "/data/outbox", cfg.FileSinkDir)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("WEB_PORT", "8080")
	t.Setenv("MLLP_LISTEN_PORT", "2600")
	t.Setenv("SCRIPT_TIMEOUT", "500ms")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.WebPort)
	assert.Equal(t, 2600, cfg.MLLPListenPort)
	assert.Equal(t, 500*time.Millisecond, cfg.ScriptTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("WEB_PORT", "sayı değil")
	t.Setenv("SCRIPT_TIMEOUT", "geçersiz")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5678, cfg.WebPort)
	assert.Equal(t, 3*time.Second, cfg.ScriptTimeout)
}
