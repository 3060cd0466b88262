package distill

import (
	"context"
	"crypto/sha256"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"unifiedagent/internal/assess"
	"unifiedagent/internal/chunker"
	"unifiedagent/internal/events"
	"unifiedagent/internal/logging"
	"unifiedagent/internal/store"
)

// ChunkSearcher is the store's full-text search surface.
type ChunkSearcher interface {
	SearchChunks(question string, limit int) []store.SearchResult
}

// MemorySearcher is the memory client's read surface.
type MemorySearcher interface {
	SearchAsChunks(ctx context.Context, query string, max int) []chunker.Chunk
}

// chunkAssessor is the slice of the assessor the re-rank needs.
type chunkAssessor interface {
	AssessChunks(ctx context.Context, chunks []*chunker.Chunk, onProgress func(completed, total int)) map[string][]assess.Assessment
}

// QuestionConfig controls the question-driven distiller. MaxChunks of 0
// means the token budget is the only cap.
type QuestionConfig struct {
	MaxTokens      int               `json:"maxTokens"`
	MaxChunks      int               `json:"maxChunks,omitempty"`
	SearchLimit    int               `json:"searchLimit"`
	ReRank         bool              `json:"reRank"`
	QuestionWeight float64           `json:"questionWeight"`
	StaticWeight   float64           `json:"staticWeight"`
	Providers      []assess.Provider `json:"providers,omitempty"`
	Timeout        time.Duration     `json:"timeout,omitempty"`
}

// DefaultQuestionConfig mirrors the pipeline defaults.
func DefaultQuestionConfig() QuestionConfig {
	return QuestionConfig{
		MaxTokens:      DefaultMaxTokens,
		SearchLimit:    20,
		ReRank:         true,
		QuestionWeight: 0.6,
		StaticWeight:   0.4,
	}
}

// SearchStats reports how many candidates each stage produced.
type SearchStats struct {
	FTSMatches      int `json:"ftsMatches"`
	MemoryMatches   int `json:"memoryMatches"`
	TotalCandidates int `json:"totalCandidates"`
	AfterReRank     int `json:"afterReRank"`
}

// QueryDistillResult is a distilled session scoped to one question.
type QueryDistillResult struct {
	DistilledSession
	Question    string      `json:"question"`
	SearchStats SearchStats `json:"searchStats"`
}

// QuestionDistiller answers questions from stored chunks and the memory
// service. Both search sides degrade to empty on failure; neither blocks
// the other.
type QuestionDistiller struct {
	store  ChunkSearcher
	memory MemorySearcher
	cfg    QuestionConfig

	newAssessor func(question string) chunkAssessor
}

// NewQuestionDistiller wires the dual-search pipeline.
func NewQuestionDistiller(st ChunkSearcher, mem MemorySearcher, cfg QuestionConfig) *QuestionDistiller {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 20
	}
	if cfg.QuestionWeight == 0 && cfg.StaticWeight == 0 {
		cfg.QuestionWeight = 0.6
		cfg.StaticWeight = 0.4
	}

	d := &QuestionDistiller{store: st, memory: mem, cfg: cfg}
	d.newAssessor = func(question string) chunkAssessor {
		ac := assess.DefaultConfig()
		if len(cfg.Providers) > 0 {
			ac.Providers = cfg.Providers
		}
		if cfg.Timeout > 0 {
			ac.Timeout = cfg.Timeout
		}
		ac.Question = question
		return assess.New(ac)
	}
	return d
}

// candidate tracks one chunk through merge, re-rank and selection.
type candidate struct {
	chunk         chunker.Chunk
	consensus     float64
	questionScore float64
	final         float64
}

// Distill runs the question pipeline: parallel dual search, content-hash
// dedup, optional provider re-rank, weighted selection within the budget,
// and a chronological re-sort of the selection.
func (d *QuestionDistiller) Distill(ctx context.Context, question string) *QueryDistillResult {
	timer := logging.StartTimer(logging.CategoryDistill, "Question distillation")
	defer timer.Stop()
	start := time.Now()

	var (
		ftsHits []store.SearchResult
		memHits []chunker.Chunk
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ftsHits = d.store.SearchChunks(question, d.cfg.SearchLimit)
		return nil
	})
	g.Go(func() error {
		memHits = d.memory.SearchAsChunks(gctx, question, d.cfg.SearchLimit)
		return nil
	})
	_ = g.Wait()

	stats := SearchStats{FTSMatches: len(ftsHits), MemoryMatches: len(memHits)}
	logging.DistillDebug("Question %q: %d fts + %d memory hits", question, len(ftsHits), len(memHits))

	// Merge store hits first, then memory, deduping on the content hash.
	// A collision keeps whichever candidate carries the higher consensus.
	var candidates []*candidate
	byHash := map[[32]byte]*candidate{}
	add := func(c *candidate) {
		h := contentHash(c.chunk.Content())
		if exist, ok := byHash[h]; ok {
			if c.consensus > exist.consensus {
				*exist = *c
			}
			return
		}
		byHash[h] = c
		candidates = append(candidates, c)
	}
	for _, r := range ftsHits {
		add(&candidate{chunk: searchResultChunk(r), consensus: r.Consensus})
	}
	for _, ch := range memHits {
		// Memory hits carry no stored consensus; the rank-derived
		// importance stands in on the same 0-10 scale.
		add(&candidate{chunk: ch, consensus: ch.ImportanceAvg / 10})
	}
	stats.TotalCandidates = len(candidates)

	if d.cfg.ReRank && len(candidates) > 0 {
		stats.AfterReRank = d.reRank(ctx, question, candidates)
	}

	for _, c := range candidates {
		normQ := 0.0
		if c.questionScore >= 1 {
			normQ = (c.questionScore - 1) / 9
		}
		normC := c.consensus / 10
		c.final = d.cfg.QuestionWeight*normQ + d.cfg.StaticWeight*normC
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].final > candidates[j].final
	})

	selected := make([]chunker.Chunk, 0, len(candidates))
	running, dropped := 0, 0
	for _, c := range candidates {
		if d.cfg.MaxChunks > 0 && len(selected) >= d.cfg.MaxChunks {
			dropped++
			continue
		}
		if running+c.chunk.TokenEstimate > d.cfg.MaxTokens {
			dropped++
			continue
		}
		running += c.chunk.TokenEstimate
		selected = append(selected, c.chunk)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].StartIndex < selected[j].StartIndex
	})

	sessionIDs, platforms := provenance(selected)
	result := &QueryDistillResult{
		DistilledSession: DistilledSession{
			SourceSessionIDs: sessionIDs,
			SourcePlatforms:  platforms,
			Chunks:           selected,
			TotalTokens:      running,
			DroppedChunks:    dropped,
			DistilledAt:      time.Now().UTC(),
		},
		Question:    question,
		SearchStats: stats,
	}

	logging.Distill("Question distillation: %d/%d candidates selected (%d tokens)",
		len(selected), stats.TotalCandidates, running)
	logging.Audit().DistillRun(logging.AuditDistillQuery, question, len(selected), running,
		time.Since(start).Milliseconds())
	return result
}

// reRank scores candidates against the question through the provider
// pathway and returns how many received a score. Unscored candidates keep
// questionScore 0 and stay eligible through their consensus.
func (d *QuestionDistiller) reRank(ctx context.Context, question string, candidates []*candidate) int {
	chunks := make([]*chunker.Chunk, len(candidates))
	index := make(map[string]*candidate, len(candidates))
	for i, c := range candidates {
		chunks[i] = &c.chunk
		index[c.chunk.ID] = c
	}

	results := d.newAssessor(question).AssessChunks(ctx, chunks, nil)

	scored := 0
	for id, assessments := range results {
		if len(assessments) == 0 {
			continue
		}
		c, ok := index[id]
		if !ok {
			continue
		}
		sum := 0
		for _, a := range assessments {
			sum += a.Score
		}
		c.questionScore = float64(sum) / float64(len(assessments))
		scored++
	}
	logging.DistillDebug("Re-rank scored %d/%d candidates", scored, len(candidates))
	return scored
}

// searchResultChunk rebuilds a ranking-ready chunk from a stored FTS row.
func searchResultChunk(r store.SearchResult) chunker.Chunk {
	ev := events.Canonical(events.ParsedEvent{Type: "chunk", Role: events.RoleAssistant, Content: r.Content})
	return chunker.Chunk{
		ID:            r.ChunkID,
		SessionID:     r.SessionID,
		Events:        []events.CanonicalEvent{ev},
		StartIndex:    r.StartIndex,
		EndIndex:      r.EndIndex,
		ImportanceAvg: r.ImportanceAvg,
		TokenEstimate: r.TokenEstimate,
		Source:        "fts",
	}
}

// contentHash fingerprints the first 500 characters of a content block.
func contentHash(content string) [32]byte {
	if len(content) > 500 {
		content = content[:500]
	}
	return sha256.Sum256([]byte(content))
}
