package config

import "time"

// MemoryConfig configures the external semantic-memory HTTP service.
type MemoryConfig struct {
	// BaseURL of the memory service, e.g. http://127.0.0.1:37777.
	BaseURL string `yaml:"base_url"`

	// TimeoutMs per HTTP request.
	TimeoutMs int `yaml:"timeout_ms"`

	// SyncIntervalMs between background flushes of the local sync queue.
	SyncIntervalMs int `yaml:"sync_interval_ms"`

	// Project scopes searches and context injection to one project.
	Project string `yaml:"project"`
}

// Timeout returns the per-request HTTP timeout as a duration.
func (c *MemoryConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// SyncInterval returns the flush pacing interval as a duration.
func (c *MemoryConfig) SyncInterval() time.Duration {
	if c.SyncIntervalMs <= 0 {
		return time.Minute
	}
	return time.Duration(c.SyncIntervalMs) * time.Millisecond
}
