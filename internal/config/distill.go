package config

import "time"

// DistillConfig configures the conversation distillation pipeline.
type DistillConfig struct {
	// Enabled gates the whole pipeline.
	Enabled bool `yaml:"enabled"`

	// Watch enables the background session watcher.
	Watch bool `yaml:"watch"`

	// Providers lists the assessment provider CLIs, e.g. claude, codex, gemini.
	Providers []string `yaml:"providers"`

	// Chunking
	ImportanceThreshold int `yaml:"importance_threshold"` // events below this never enter chunks
	MaxChunkEvents      int `yaml:"max_chunk_events"`     // hard cap on events per chunk
	MaxChunkTokens      int `yaml:"max_chunk_tokens"`     // soft token cap per chunk
	ChunkOverlap        int `yaml:"chunk_overlap"`        // trailing events seeding the next chunk

	// Assessment
	AssessmentTimeoutMs int `yaml:"assessment_timeout_ms"` // per-provider subprocess deadline
	MaxConcurrent       int `yaml:"max_concurrent"`        // chunks assessed in parallel
	MaxRetries          int `yaml:"max_retries"`           // retries after a failed provider call
	MinQuorum           int `yaml:"min_quorum"`            // providers required for consensus

	// Token-budget distillation
	TokenBudget           int     `yaml:"token_budget"`
	MinConsensus          float64 `yaml:"min_consensus"`
	SortMode              string  `yaml:"sort_mode"` // consensus, chronological, hybrid
	HybridConsensusWeight float64 `yaml:"hybrid_consensus_weight"`
	HybridRecencyWeight   float64 `yaml:"hybrid_recency_weight"`

	// Question-driven distillation
	QueryWeight     float64 `yaml:"query_weight"`      // weight of the question-aware score
	StaticWeight    float64 `yaml:"static_weight"`     // weight of the stored consensus
	MemorySearchMax int     `yaml:"memory_search_max"` // max results from the memory service
	Rerank          bool    `yaml:"rerank"`            // question-aware re-rank toggle
	RerankBatchSize int     `yaml:"rerank_batch_size"` // candidates re-ranked per batch
}

// AssessmentTimeout returns the per-provider timeout as a duration.
func (c *DistillConfig) AssessmentTimeout() time.Duration {
	if c.AssessmentTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.AssessmentTimeoutMs) * time.Millisecond
}
