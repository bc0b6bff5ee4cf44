package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := Default()
	assert.Equal(t, "127.0.0.1", c.Host)
	assert.Equal(t, 3001, c.Port)
	assert.Equal(t, "INFO", c.LogLevel)
	assert.Equal(t, 2000, c.ContextTokens)
	assert.Equal(t, 200, c.RatePerMinute)
	assert.Equal(t, "template", c.Summary.Provider)
	assert.Equal(t, "none", c.Embedding.Provider)
	assert.Equal(t, 90, c.Retention.ObservationDays)
	assert.Equal(t, 365, c.Retention.SummaryDays)
	assert.Equal(t, 30, c.Retention.PromptDays)
	assert.Equal(t, 0, c.Retention.KnowledgeDays)
	assert.Equal(t, 24, c.Retention.IntervalHours)
	assert.Equal(t, 24, c.Backup.IntervalHours)
	assert.Equal(t, 5, c.Backup.MaxKeep)
	require.NoError(t, c.Validate())
}

func TestLoadSettingsFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KIRO_MEMORY_DATA_DIR", dir)

	settings := `{
		"log_level": "DEBUG",
		"context_tokens": 4000,
		"summary": {"provider": "ollama", "model": "llama3.2"},
		"retention": {"observation_days": 30, "summary_days": 365, "prompt_days": 30, "knowledge_days": 0, "interval_hours": 12}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, SettingsFile), []byte(settings), 0o644))

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, dir, c.DataDir)
	assert.Equal(t, "DEBUG", c.LogLevel)
	assert.Equal(t, 4000, c.ContextTokens)
	assert.Equal(t, "ollama", c.Summary.Provider)
	assert.Equal(t, "llama3.2", c.Summary.Model)
	assert.Equal(t, 30, c.Retention.ObservationDays)
	assert.Equal(t, 12, c.Retention.IntervalHours)
	// Untouched fields keep their defaults.
	assert.Equal(t, 3001, c.Port)
}

func TestEnvBeatsSettingsFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KIRO_MEMORY_DATA_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, SettingsFile),
		[]byte(`{"log_level": "ERROR", "port": 4002}`), 0o644))

	t.Setenv("KIRO_MEMORY_LOG_LEVEL", "warn")
	t.Setenv("KIRO_MEMORY_WORKER_PORT", "5005")
	t.Setenv("KIRO_MEMORY_PROJECT", "kiro")
	t.Setenv("KIRO_MEMORY_CONTEXT_TOKENS", "1234")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "WARN", c.LogLevel)
	assert.Equal(t, 5005, c.Port)
	assert.Equal(t, "kiro", c.Project)
	assert.Equal(t, 1234, c.ContextTokens)
}

func TestSummaryProviderKeyFallback(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KIRO_MEMORY_DATA_DIR", dir)
	t.Setenv("KIRO_MEMORY_SUMMARY_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "anthropic", c.Summary.Provider)
	assert.Equal(t, "sk-ant-test", c.Summary.APIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Port = 0 }},
		{"huge port", func(c *Config) { c.Port = 70000 }},
		{"bad level", func(c *Config) { c.LogLevel = "LOUD" }},
		{"bad summary provider", func(c *Config) { c.Summary.Provider = "bard" }},
		{"bad embedding provider", func(c *Config) { c.Embedding.Provider = "magic" }},
		{"negative retention", func(c *Config) { c.Retention.PromptDays = -1 }},
		{"zero max keep", func(c *Config) { c.Backup.MaxKeep = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestDatabasePathPrefersLegacyFile(t *testing.T) {
	dir := t.TempDir()
	c := Default()
	c.DataDir = dir

	assert.Equal(t, filepath.Join(dir, DatabaseFile), c.DatabasePath())

	require.NoError(t, os.WriteFile(filepath.Join(dir, LegacyDatabaseFile), []byte("x"), 0o644))
	assert.Equal(t, filepath.Join(dir, LegacyDatabaseFile), c.DatabasePath())
}

func TestDerivedPaths(t *testing.T) {
	c := Default()
	c.DataDir = "/data"
	assert.Equal(t, filepath.Join("/data", "logs"), c.LogDir())
	assert.Equal(t, filepath.Join("/data", "backups"), c.BackupDir())
	assert.Equal(t, filepath.Join("/data", "plugins"), c.PluginDir())
	assert.Equal(t, filepath.Join("/data", "worker.pid"), c.PIDPath())
	assert.Equal(t, filepath.Join("/data", "worker.token"), c.TokenPath())
	assert.Equal(t, "127.0.0.1:3001", c.ListenAddr())
}
