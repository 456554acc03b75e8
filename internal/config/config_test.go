package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.FileExists(t, filepath.Join(dir, DefaultConfigFile))
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	data := []byte(`{"server": {"port": 6000}, "presence": {"duplicate_login": "reject"}}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), data, 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Server.Port)
	assert.Equal(t, DuplicateLoginReject, cfg.Presence.DuplicateLogin)
	// Untouched sections keep their defaults.
	assert.Equal(t, "Yume", cfg.Server.BotName)
	assert.Equal(t, 500, cfg.Scoring.AccuracyTopN)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidateDefaults(t *testing.T) {
	result := Validate(DefaultConfig())
	assert.True(t, result.IsValid(), "%v", result.Errors)
}

func TestValidateCatchesBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	cfg.Server.DefaultChannel = "osu"
	cfg.Presence.DuplicateLogin = "maybe"
	cfg.Scoring.WorkerQueueSize = 0

	result := Validate(cfg)
	require.False(t, result.IsValid())

	fields := map[string]bool{}
	for _, e := range result.Errors {
		fields[e.Field] = true
	}
	assert.True(t, fields["server.port"])
	assert.True(t, fields["server.default_channel"])
	assert.True(t, fields["presence.duplicate_login"])
	assert.True(t, fields["scoring.worker_queue_size"])
}
