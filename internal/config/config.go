// Package config holds the configuration tree for the unified agent.
// Configuration is layered: compiled defaults, then an optional YAML file,
// then UNIFIED_AGENT_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all unified-agent configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Storage paths
	Storage StorageConfig `yaml:"storage"`

	// Distillation pipeline
	Distill DistillConfig `yaml:"distill"`

	// External memory service
	Memory MemoryConfig `yaml:"memory"`

	// Session directory watcher
	Watcher WatcherConfig `yaml:"watcher"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig configures on-disk locations.
type StorageConfig struct {
	// DataDir is the root data directory. Empty means ~/.unified-agent.
	DataDir string `yaml:"data_dir"`

	// DatabasePath overrides the default <dataDir>/unified-agent.db.
	DatabasePath string `yaml:"database_path"`
}

// WatcherConfig configures the session directory watcher.
type WatcherConfig struct {
	// PollIntervalMs between directory scans.
	PollIntervalMs int `yaml:"poll_interval_ms"`

	// DebounceMs quiet period for filesystem-event triggered early polls.
	DebounceMs int `yaml:"debounce_ms"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "unified-agent",
		Version: "1.0.0",

		Storage: StorageConfig{},

		Distill: DistillConfig{
			Enabled:   true,
			Watch:     false,
			Providers: []string{"claude", "codex", "gemini"},

			ImportanceThreshold: 30,
			MaxChunkEvents:      20,
			MaxChunkTokens:      4000,
			ChunkOverlap:        2,

			AssessmentTimeoutMs: 30000,
			MaxConcurrent:       3,
			MaxRetries:          1,
			MinQuorum:           2,

			TokenBudget:           80000,
			MinConsensus:          5.0,
			SortMode:              "hybrid",
			HybridConsensusWeight: 0.7,
			HybridRecencyWeight:   0.3,

			QueryWeight:     0.6,
			StaticWeight:    0.4,
			MemorySearchMax: 20,
			Rerank:          true,
			RerankBatchSize: 3,
		},

		Memory: MemoryConfig{
			BaseURL:        "http://127.0.0.1:37777",
			TimeoutMs:      5000,
			SyncIntervalMs: 60000,
		},

		Watcher: WatcherConfig{
			PollIntervalMs: 5000,
			DebounceMs:     500,
		},

		Logging: LoggingConfig{
			Level:     "info",
			DebugMode: false,
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// LoadDefault loads <dataDir>/config.yaml using the default data dir
// resolution (including the UNIFIED_AGENT_DATA_DIR override).
func LoadDefault() (*Config, error) {
	dir := DefaultDataDir()
	if env := os.Getenv("UNIFIED_AGENT_DATA_DIR"); env != "" {
		dir = env
	}
	return Load(filepath.Join(dir, "config.yaml"))
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies UNIFIED_AGENT_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("UNIFIED_AGENT_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("UNIFIED_AGENT_DB_PATH"); v != "" {
		c.Storage.DatabasePath = v
	}

	if v := os.Getenv("UNIFIED_AGENT_DISTILL_ENABLED"); v != "" {
		c.Distill.Enabled = parseBool(v, c.Distill.Enabled)
	}
	if v := os.Getenv("UNIFIED_AGENT_DISTILL_WATCH"); v != "" {
		c.Distill.Watch = parseBool(v, c.Distill.Watch)
	}
	if v := os.Getenv("UNIFIED_AGENT_DISTILL_PROVIDERS"); v != "" {
		c.Distill.Providers = splitProviders(v)
	}
	if v := os.Getenv("UNIFIED_AGENT_DISTILL_TOKEN_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Distill.TokenBudget = n
		}
	}
	if v := os.Getenv("UNIFIED_AGENT_DISTILL_MIN_CONSENSUS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Distill.MinConsensus = f
		}
	}
	if v := os.Getenv("UNIFIED_AGENT_DISTILL_ASSESSMENT_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Distill.AssessmentTimeoutMs = n
		}
	}
	if v := os.Getenv("UNIFIED_AGENT_DISTILL_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Distill.MaxConcurrent = n
		}
	}
	if v := os.Getenv("UNIFIED_AGENT_DISTILL_SYNC_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Memory.SyncIntervalMs = n
		}
	}
	if v := os.Getenv("UNIFIED_AGENT_DISTILL_SORT_MODE"); v != "" {
		switch v {
		case "consensus", "chronological", "hybrid":
			c.Distill.SortMode = v
		}
	}
	if v := os.Getenv("UNIFIED_AGENT_DISTILL_QUERY_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.Distill.QueryWeight = f
		}
	}
	if v := os.Getenv("UNIFIED_AGENT_DISTILL_STATIC_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.Distill.StaticWeight = f
		}
	}
	if v := os.Getenv("UNIFIED_AGENT_DISTILL_CLAUDEMEM_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Distill.MemorySearchMax = n
		}
	}
	if v := os.Getenv("UNIFIED_AGENT_DISTILL_RERANK"); v != "" {
		c.Distill.Rerank = parseBool(v, c.Distill.Rerank)
	}

	if v := os.Getenv("UNIFIED_AGENT_MEMORY_URL"); v != "" {
		c.Memory.BaseURL = v
	}
}

func parseBool(v string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func splitProviders(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DefaultDataDir returns ~/.unified-agent, falling back to a relative
// directory when the home directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".unified-agent"
	}
	return filepath.Join(home, ".unified-agent")
}

// DataDir returns the effective data directory.
func (c *Config) DataDir() string {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir
	}
	return DefaultDataDir()
}

// DatabasePath returns the effective SQLite database path.
func (c *Config) DatabasePath() string {
	if c.Storage.DatabasePath != "" {
		return c.Storage.DatabasePath
	}
	return filepath.Join(c.DataDir(), "unified-agent.db")
}

// SessionsDir returns the directory holding the agent's own session journals.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.DataDir(), "sessions")
}

// DistilledDir returns the directory distilled session artifacts are written to.
func (c *Config) DistilledDir() string {
	return filepath.Join(c.DataDir(), "distilled")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Distill.Providers) == 0 {
		return fmt.Errorf("at least one assessment provider must be configured")
	}
	for _, p := range c.Distill.Providers {
		if p == "" {
			return fmt.Errorf("empty provider name in provider list")
		}
	}
	if c.Distill.TokenBudget <= 0 {
		return fmt.Errorf("token budget must be positive, got %d", c.Distill.TokenBudget)
	}
	if c.Distill.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent assessments must be positive, got %d", c.Distill.MaxConcurrent)
	}
	switch c.Distill.SortMode {
	case "consensus", "chronological", "hybrid":
	default:
		return fmt.Errorf("invalid sort mode: %s (valid: consensus, chronological, hybrid)", c.Distill.SortMode)
	}
	return nil
}
