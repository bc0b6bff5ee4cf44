// Package config loads the worker configuration. Values are resolved once at
// startup from defaults, then settings.json in the data directory, then
// environment variables; the resulting Config is treated as immutable.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// DefaultDirName is the data directory under the user home.
	DefaultDirName = ".kiro-memory"
	// LegacyDirName is honored when it exists and the new directory does not.
	LegacyDirName = ".contextkit"

	// DatabaseFile is the store filename; LegacyDatabaseFile is preferred
	// when it already exists in the data directory.
	DatabaseFile       = "kiro-memory.db"
	LegacyDatabaseFile = "contextkit.db"

	SettingsFile = "settings.json"
)

// SummaryConfig selects the end-of-session summary provider.
type SummaryConfig struct {
	Provider string `json:"provider"` // template | openai | anthropic | ollama
	Model    string `json:"model"`
	APIKey   string `json:"api_key"`
	BaseURL  string `json:"base_url"`
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Provider string `json:"provider"` // none | ollama | gemini
	Model    string `json:"model"`
	APIKey   string `json:"api_key"`
	BaseURL  string `json:"base_url"`
}

// RetentionConfig holds per-class max ages in days; 0 disables a class.
type RetentionConfig struct {
	ObservationDays int `json:"observation_days"`
	SummaryDays     int `json:"summary_days"`
	PromptDays      int `json:"prompt_days"`
	KnowledgeDays   int `json:"knowledge_days"`
	IntervalHours   int `json:"interval_hours"`
}

// BackupConfig controls the scheduled backup job.
type BackupConfig struct {
	IntervalHours int `json:"interval_hours"`
	MaxKeep       int `json:"max_keep"`
}

// PluginEntry declares a plugin in settings.json.
type PluginEntry struct {
	Name    string `json:"name"`
	Path    string `json:"path,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// Config is the resolved worker configuration.
type Config struct {
	Host          string          `json:"host"`
	Port          int             `json:"port"`
	DataDir       string          `json:"data_dir"`
	LogLevel      string          `json:"log_level"`
	Project       string          `json:"project"`
	ContextTokens int             `json:"context_tokens"`
	RatePerMinute int             `json:"rate_per_minute"`
	Summary       SummaryConfig   `json:"summary"`
	Embedding     EmbeddingConfig `json:"embedding"`
	Retention     RetentionConfig `json:"retention"`
	Backup        BackupConfig    `json:"backup"`
	Plugins       []PluginEntry   `json:"plugins,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Host:          "127.0.0.1",
		Port:          3001,
		LogLevel:      "INFO",
		ContextTokens: 2000,
		RatePerMinute: 200,
		Summary:       SummaryConfig{Provider: "template"},
		Embedding:     EmbeddingConfig{Provider: "none"},
		Retention: RetentionConfig{
			ObservationDays: 90,
			SummaryDays:     365,
			PromptDays:      30,
			KnowledgeDays:   0,
			IntervalHours:   24,
		},
		Backup: BackupConfig{
			IntervalHours: 24,
			MaxKeep:       5,
		},
	}
}

// Load resolves the configuration: defaults, then settings.json from the
// resolved data directory, then environment overrides.
func Load() (*Config, error) {
	cfg := Default()
	cfg.DataDir = resolveDataDir()

	if err := cfg.applyFile(filepath.Join(cfg.DataDir, SettingsFile)); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveDataDir picks the data directory: env override, else ~/.kiro-memory,
// falling back to a pre-existing ~/.contextkit.
func resolveDataDir() string {
	if dir := os.Getenv("KIRO_MEMORY_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDirName
	}
	primary := filepath.Join(home, DefaultDirName)
	if _, err := os.Stat(primary); err == nil {
		return primary
	}
	legacy := filepath.Join(home, LegacyDirName)
	if info, err := os.Stat(legacy); err == nil && info.IsDir() {
		return legacy
	}
	return primary
}

// applyFile merges settings.json over the defaults. A missing file is fine.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read settings: %w", err)
	}
	fileDir := c.DataDir
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", SettingsFile, err)
	}
	// settings.json may redirect the data directory; other paths follow it,
	// but settings are not re-read from the new location.
	if c.DataDir == "" {
		c.DataDir = fileDir
	}
	return nil
}

// applyEnv applies KIRO_MEMORY_* overrides plus the provider key fallbacks.
func (c *Config) applyEnv() {
	if v := os.Getenv("KIRO_MEMORY_WORKER_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("KIRO_MEMORY_WORKER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("KIRO_MEMORY_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("KIRO_MEMORY_LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToUpper(v)
	}
	if v := os.Getenv("KIRO_MEMORY_PROJECT"); v != "" {
		c.Project = v
	}
	if v := os.Getenv("KIRO_MEMORY_CONTEXT_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.ContextTokens = n
		}
	}

	if v := os.Getenv("KIRO_MEMORY_SUMMARY_PROVIDER"); v != "" {
		c.Summary.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("KIRO_MEMORY_SUMMARY_MODEL"); v != "" {
		c.Summary.Model = v
	}
	if v := os.Getenv("KIRO_MEMORY_SUMMARY_API_KEY"); v != "" {
		c.Summary.APIKey = v
	}
	if v := os.Getenv("KIRO_MEMORY_SUMMARY_BASE_URL"); v != "" {
		c.Summary.BaseURL = v
	}
	// Provider keys from the conventional variables when not set explicitly.
	if c.Summary.APIKey == "" {
		switch c.Summary.Provider {
		case "anthropic":
			c.Summary.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			c.Summary.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	if v := os.Getenv("KIRO_MEMORY_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("KIRO_MEMORY_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" && c.Embedding.BaseURL == "" {
		c.Embedding.BaseURL = v
	}
	if c.Embedding.Provider == "gemini" && c.Embedding.APIKey == "" {
		c.Embedding.APIKey = os.Getenv("GEMINI_API_KEY")
	}
}

// Validate rejects configurations the worker cannot start with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR", "SILENT":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	switch c.Summary.Provider {
	case "", "template", "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("invalid summary provider %q", c.Summary.Provider)
	}
	switch c.Embedding.Provider {
	case "", "none", "ollama", "gemini":
	default:
		return fmt.Errorf("invalid embedding provider %q", c.Embedding.Provider)
	}
	for _, d := range []int{c.Retention.ObservationDays, c.Retention.SummaryDays, c.Retention.PromptDays, c.Retention.KnowledgeDays} {
		if d < 0 {
			return fmt.Errorf("retention days must be >= 0")
		}
	}
	if c.Backup.MaxKeep < 1 {
		return fmt.Errorf("backup max_keep must be >= 1")
	}
	return nil
}

// DatabasePath returns the store path, preferring a pre-existing legacy
// database file.
func (c *Config) DatabasePath() string {
	legacy := filepath.Join(c.DataDir, LegacyDatabaseFile)
	if _, err := os.Stat(legacy); err == nil {
		return legacy
	}
	return filepath.Join(c.DataDir, DatabaseFile)
}

// LogDir returns the directory for dated log files.
func (c *Config) LogDir() string { return filepath.Join(c.DataDir, "logs") }

// BackupDir returns the backup directory.
func (c *Config) BackupDir() string { return filepath.Join(c.DataDir, "backups") }

// PluginDir returns the user plugin directory.
func (c *Config) PluginDir() string { return filepath.Join(c.DataDir, "plugins") }

// PIDPath locates the worker pid file.
func (c *Config) PIDPath() string { return filepath.Join(c.DataDir, "worker.pid") }

// TokenPath locates the worker bearer token file.
func (c *Config) TokenPath() string { return filepath.Join(c.DataDir, "worker.token") }

// ListenAddr returns the host:port binding.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
