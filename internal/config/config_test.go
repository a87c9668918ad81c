package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8100", cfg.Server.Addr)
	assert.Equal(t, "data/askdb.db", cfg.Database.Path)
	assert.Equal(t, "data/audit.db", cfg.Database.AuditPath)
	assert.False(t, cfg.Executor.ReadOnly)
	assert.Equal(t, 60*time.Second, cfg.Session.IdleTimeout())
	assert.Equal(t, 15*time.Second, cfg.Session.HeartbeatInterval())
	assert.Equal(t, "deepseek-chat", cfg.LLM.Model)
	assert.Equal(t, "http://127.0.0.1:8100", cfg.Host.ServerURL)
	assert.Equal(t, 5, cfg.Host.MaxRounds)
	assert.Equal(t, 30*time.Second, cfg.Host.RequestTimeout())
	assert.Equal(t, 3, cfg.Host.TranslationRetries)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, ":8100", cfg.Server.Addr)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "askdb.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
addr = ":9000"

[database]
path = "/var/lib/askdb/main.db"

[executor]
read_only = true

[session]
idle_timeout_sec = 120

[llm]
deepseek_api_key = "sk-test"
model = "deepseek-reasoner"

[host]
max_rounds = 8
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "/var/lib/askdb/main.db", cfg.Database.Path)
	assert.True(t, cfg.Executor.ReadOnly)
	assert.Equal(t, 120*time.Second, cfg.Session.IdleTimeout())
	assert.Equal(t, "sk-test", cfg.LLM.DeepSeekAPIKey)
	assert.Equal(t, "deepseek-reasoner", cfg.LLM.Model)
	assert.Equal(t, 8, cfg.Host.MaxRounds)

	// Sections the file does not mention keep their defaults.
	assert.Equal(t, 15*time.Second, cfg.Session.HeartbeatInterval())
	assert.Equal(t, "data/audit.db", cfg.Database.AuditPath)
}

func TestLoadRejectsBrokenTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[server`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
