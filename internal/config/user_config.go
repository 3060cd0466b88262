package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// UserConfig holds user-level settings persisted in <dataDir>/config.json.
// Unlike the YAML pipeline config, this file is written back by commands
// (distill watch on|off) and read at boot by the logging package.
type UserConfig struct {
	// Distill state toggles persisted across runs.
	Distill *UserDistillState `json:"distill,omitempty"`

	// Logging configuration (read by internal/logging at startup).
	Logging *LoggingConfig `json:"logging,omitempty"`

	// Project name reported to the memory service. Empty means the
	// basename of the current working directory.
	Project string `json:"project,omitempty"`
}

// UserDistillState holds persisted distillation toggles.
type UserDistillState struct {
	// WatchEnabled records the distill watch on|off state.
	WatchEnabled bool `json:"watch_enabled"`

	// Providers overrides the default provider list when non-empty.
	Providers []string `json:"providers,omitempty"`
}

// GetLogging returns logging settings with defaults.
func (c *UserConfig) GetLogging() LoggingConfig {
	if c.Logging != nil {
		cfg := *c.Logging
		if cfg.Level == "" {
			cfg.Level = "info"
		}
		return cfg
	}
	return LoggingConfig{
		Level:     "info",
		DebugMode: false, // Production mode by default
	}
}

// IsWatchEnabled returns the persisted watch toggle.
func (c *UserConfig) IsWatchEnabled() bool {
	return c.Distill != nil && c.Distill.WatchEnabled
}

// SetWatchEnabled flips the persisted watch toggle.
func (c *UserConfig) SetWatchEnabled(on bool) {
	if c.Distill == nil {
		c.Distill = &UserDistillState{}
	}
	c.Distill.WatchEnabled = on
}

// UserConfigPath returns the path to config.json under the given data dir.
func UserConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.json")
}

// LoadUserConfig loads configuration from <dataDir>/config.json.
func LoadUserConfig(path string) (*UserConfig, error) {
	cfg := &UserConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return empty config if file doesn't exist
		}
		return nil, fmt.Errorf("failed to read user config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse user config: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to the given path.
func (c *UserConfig) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal user config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write user config: %w", err)
	}

	return nil
}
