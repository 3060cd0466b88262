// Package distill selects which chunks survive into a distilled context:
// by consensus under a token budget, or question-driven across the local
// store and the memory service.
package distill

import (
	"sort"
	"time"

	"unifiedagent/internal/chunker"
	"unifiedagent/internal/logging"
	"unifiedagent/internal/store"
)

// SortMode picks the ranking strategy for budget distillation.
type SortMode string

const (
	SortConsensus     SortMode = "consensus"
	SortChronological SortMode = "chronological"
	SortHybrid        SortMode = "hybrid"
)

// DefaultMaxTokens is the distillation token budget.
const DefaultMaxTokens = 80000

// DefaultMinConsensus drops chunks the providers did not agree matter.
const DefaultMinConsensus = 5.0

// BudgetConfig controls the token-budget distiller. MaxChunks of 0 means the
// token budget is the only cap.
type BudgetConfig struct {
	MaxTokens             int      `json:"maxTokens"`
	MaxChunks             int      `json:"maxChunks,omitempty"`
	MinConsensusScore     float64  `json:"minConsensusScore"`
	SortBy                SortMode `json:"sortBy"`
	HybridConsensusWeight float64  `json:"hybridConsensusWeight"`
	HybridRecencyWeight   float64  `json:"hybridRecencyWeight"`
}

// DefaultBudgetConfig mirrors the pipeline defaults.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		MaxTokens:             DefaultMaxTokens,
		MinConsensusScore:     DefaultMinConsensus,
		SortBy:                SortHybrid,
		HybridConsensusWeight: 0.7,
		HybridRecencyWeight:   0.3,
	}
}

// DistilledSession is the budget distiller's output: the surviving chunks in
// narrative order plus provenance.
type DistilledSession struct {
	SourceSessionIDs []string        `json:"sourceSessionIds"`
	SourcePlatforms  []string        `json:"sourcePlatforms"`
	Chunks           []chunker.Chunk `json:"chunks"`
	TotalTokens      int             `json:"totalTokens"`
	DroppedChunks    int             `json:"droppedChunks"`
	DistilledAt      time.Time       `json:"distilledAt"`
}

// Distill filters entries by consensus, ranks the survivors, selects
// greedily within the token budget, and re-sorts the selection into
// narrative (start-index) order. Entries are considered in slice order;
// ranking ties keep that order.
func Distill(entries []store.Entry, cfg BudgetConfig) *DistilledSession {
	timer := logging.StartTimer(logging.CategoryDistill, "Budget distillation")
	defer timer.Stop()
	start := time.Now()

	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.SortBy == "" {
		cfg.SortBy = SortHybrid
	}
	if cfg.HybridConsensusWeight == 0 && cfg.HybridRecencyWeight == 0 {
		cfg.HybridConsensusWeight = 0.7
		cfg.HybridRecencyWeight = 0.3
	}

	survivors := make([]store.Entry, 0, len(entries))
	droppedByConsensus := 0
	for _, e := range entries {
		if e.Consensus < cfg.MinConsensusScore {
			droppedByConsensus++
			continue
		}
		survivors = append(survivors, e)
	}

	rank(survivors, cfg)

	selected := make([]chunker.Chunk, 0, len(survivors))
	running, droppedByBudget := 0, 0
	for _, e := range survivors {
		if cfg.MaxChunks > 0 && len(selected) >= cfg.MaxChunks {
			droppedByBudget++
			continue
		}
		if running+e.Chunk.TokenEstimate > cfg.MaxTokens {
			droppedByBudget++
			continue
		}
		running += e.Chunk.TokenEstimate
		selected = append(selected, e.Chunk)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].StartIndex < selected[j].StartIndex
	})

	sessionIDs, platforms := provenance(selected)
	out := &DistilledSession{
		SourceSessionIDs: sessionIDs,
		SourcePlatforms:  platforms,
		Chunks:           selected,
		TotalTokens:      running,
		DroppedChunks:    droppedByConsensus + droppedByBudget,
		DistilledAt:      time.Now().UTC(),
	}

	logging.Distill("Distilled %d/%d chunks (%d tokens, dropped %d by consensus, %d by budget)",
		len(selected), len(entries), running, droppedByConsensus, droppedByBudget)
	logging.Audit().DistillRun(logging.AuditDistillBuild, string(cfg.SortBy), len(selected), running,
		time.Since(start).Milliseconds())
	return out
}

// rank orders entries in place, best first, per the configured mode.
func rank(entries []store.Entry, cfg BudgetConfig) {
	switch cfg.SortBy {
	case SortConsensus:
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Consensus > entries[j].Consensus
		})
	case SortChronological:
		// Most recent first.
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Chunk.StartIndex > entries[j].Chunk.StartIndex
		})
	default:
		scores := hybridScores(entries, cfg)
		sort.SliceStable(entries, func(i, j int) bool {
			return scores[entries[i].Chunk.ID] > scores[entries[j].Chunk.ID]
		})
	}
}

// hybridScores normalizes consensus and recency over the population and
// blends them. A degenerate axis (all values equal) contributes 0.
func hybridScores(entries []store.Entry, cfg BudgetConfig) map[string]float64 {
	scores := make(map[string]float64, len(entries))
	if len(entries) == 0 {
		return scores
	}

	minC, maxC := entries[0].Consensus, entries[0].Consensus
	minS, maxS := entries[0].Chunk.StartIndex, entries[0].Chunk.StartIndex
	for _, e := range entries[1:] {
		if e.Consensus < minC {
			minC = e.Consensus
		}
		if e.Consensus > maxC {
			maxC = e.Consensus
		}
		if e.Chunk.StartIndex < minS {
			minS = e.Chunk.StartIndex
		}
		if e.Chunk.StartIndex > maxS {
			maxS = e.Chunk.StartIndex
		}
	}

	for _, e := range entries {
		var normC, normR float64
		if maxC > minC {
			normC = (e.Consensus - minC) / (maxC - minC)
		}
		if maxS > minS {
			normR = float64(e.Chunk.StartIndex-minS) / float64(maxS-minS)
		}
		scores[e.Chunk.ID] = cfg.HybridConsensusWeight*normC + cfg.HybridRecencyWeight*normR
	}
	return scores
}

// provenance collects distinct source session ids and platforms from the
// selected chunks and their events. Memory-sourced chunks contribute their
// source label as a platform, not a session id.
func provenance(chunks []chunker.Chunk) (sessionIDs, platforms []string) {
	seenSession := map[string]bool{}
	seenPlatform := map[string]bool{}
	for i := range chunks {
		ch := &chunks[i]
		if ch.Source != "" && ch.SessionID == ch.Source {
			if !seenPlatform[ch.Source] {
				seenPlatform[ch.Source] = true
				platforms = append(platforms, ch.Source)
			}
		} else if ch.SessionID != "" && !seenSession[ch.SessionID] {
			seenSession[ch.SessionID] = true
			sessionIDs = append(sessionIDs, ch.SessionID)
		}
		for j := range ch.Events {
			ev := &ch.Events[j]
			if ev.SourceSessionID != "" && !seenSession[ev.SourceSessionID] {
				seenSession[ev.SourceSessionID] = true
				sessionIDs = append(sessionIDs, ev.SourceSessionID)
			}
			if p := string(ev.SourcePlatform); p != "" && !seenPlatform[p] {
				seenPlatform[p] = true
				platforms = append(platforms, p)
			}
		}
	}
	sort.Strings(sessionIDs)
	sort.Strings(platforms)
	return sessionIDs, platforms
}
