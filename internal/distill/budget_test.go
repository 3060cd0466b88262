package distill

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unifiedagent/internal/chunker"
	"unifiedagent/internal/events"
	"unifiedagent/internal/store"
)

func entry(id string, start, tokens int, consensus float64) store.Entry {
	ev := events.Canonical(events.ParsedEvent{
		Type:      events.TypeMessage,
		Role:      events.RoleAssistant,
		Content:   "content for " + id,
		Timestamp: time.Date(2026, 3, 1, 12, 0, start, 0, time.UTC),
	})
	return store.Entry{
		Chunk: chunker.Chunk{
			ID:            id,
			SessionID:     "sess-1",
			Events:        []events.CanonicalEvent{ev},
			StartIndex:    start,
			EndIndex:      start + 1,
			TokenEstimate: tokens,
		},
		Consensus: consensus,
	}
}

func chunkIDs(chunks []chunker.Chunk) []string {
	ids := make([]string, len(chunks))
	for i := range chunks {
		ids[i] = chunks[i].ID
	}
	return ids
}

func TestDistill_HybridSelection(t *testing.T) {
	entries := []store.Entry{
		entry("c1", 0, 100, 10),
		entry("c2", 10, 100, 5),
		entry("c3", 20, 100, 8),
	}
	cfg := DefaultBudgetConfig()
	cfg.MaxTokens = 200

	out := Distill(entries, cfg)

	require.Equal(t, []string{"c1", "c3"}, chunkIDs(out.Chunks))
	assert.Equal(t, 200, out.TotalTokens)
	assert.Equal(t, 1, out.DroppedChunks)
	assert.Equal(t, []string{"sess-1"}, out.SourceSessionIDs)
	assert.False(t, out.DistilledAt.IsZero())
}

func TestDistill_ConsensusFloorIsInclusive(t *testing.T) {
	entries := []store.Entry{
		entry("keep", 0, 10, 5.0),
		entry("drop", 10, 10, 4.99),
	}
	out := Distill(entries, DefaultBudgetConfig())

	require.Equal(t, []string{"keep"}, chunkIDs(out.Chunks))
	assert.Equal(t, 1, out.DroppedChunks)
}

func TestDistill_SortByConsensus(t *testing.T) {
	entries := []store.Entry{
		entry("low", 0, 100, 6),
		entry("high", 10, 100, 9),
		entry("mid", 20, 100, 7),
	}
	cfg := DefaultBudgetConfig()
	cfg.SortBy = SortConsensus
	cfg.MaxTokens = 200

	out := Distill(entries, cfg)

	// high and mid win the budget; narrative order puts high (index 10) first.
	require.Equal(t, []string{"high", "mid"}, chunkIDs(out.Chunks))
}

func TestDistill_SortByChronologicalPrefersRecent(t *testing.T) {
	entries := []store.Entry{
		entry("old", 0, 100, 9),
		entry("newer", 10, 100, 6),
		entry("newest", 20, 100, 6),
	}
	cfg := DefaultBudgetConfig()
	cfg.SortBy = SortChronological
	cfg.MaxTokens = 200

	out := Distill(entries, cfg)

	require.Equal(t, []string{"newer", "newest"}, chunkIDs(out.Chunks))
}

func TestDistill_HybridDegenerateConsensusAxis(t *testing.T) {
	// Equal consensus everywhere: the consensus axis normalizes to zero and
	// recency alone decides.
	entries := []store.Entry{
		entry("old", 0, 100, 7),
		entry("new", 10, 100, 7),
	}
	cfg := DefaultBudgetConfig()
	cfg.MaxTokens = 100

	out := Distill(entries, cfg)

	require.Equal(t, []string{"new"}, chunkIDs(out.Chunks))
}

func TestDistill_BudgetNeverExceeded(t *testing.T) {
	entries := []store.Entry{
		entry("big", 0, 150, 9),
		entry("huge", 10, 400, 8),
		entry("small", 20, 40, 7),
	}
	cfg := DefaultBudgetConfig()
	cfg.MaxTokens = 200

	out := Distill(entries, cfg)

	// huge is skipped but iteration continues, so small still fits.
	assert.LessOrEqual(t, out.TotalTokens, cfg.MaxTokens)
	require.Equal(t, []string{"big", "small"}, chunkIDs(out.Chunks))
	assert.Equal(t, 1, out.DroppedChunks)
}

func TestDistill_MaxChunksCapsSelection(t *testing.T) {
	entries := []store.Entry{
		entry("low", 0, 10, 6),
		entry("high", 10, 10, 9),
		entry("mid", 20, 10, 7),
	}
	cfg := DefaultBudgetConfig()
	cfg.SortBy = SortConsensus
	cfg.MaxChunks = 2

	out := Distill(entries, cfg)

	// The cap keeps the two best-ranked chunks; output stays narrative.
	require.Equal(t, []string{"high", "mid"}, chunkIDs(out.Chunks))
	assert.Equal(t, 1, out.DroppedChunks)
}

func TestDistill_OutputIsChronological(t *testing.T) {
	entries := []store.Entry{
		entry("c", 40, 10, 8),
		entry("a", 0, 10, 6),
		entry("b", 20, 10, 9),
	}
	out := Distill(entries, DefaultBudgetConfig())

	require.Len(t, out.Chunks, 3)
	for i := 1; i < len(out.Chunks); i++ {
		assert.LessOrEqual(t, out.Chunks[i-1].StartIndex, out.Chunks[i].StartIndex)
	}
}

func TestDistill_Empty(t *testing.T) {
	out := Distill(nil, DefaultBudgetConfig())

	require.NotNil(t, out)
	assert.Empty(t, out.Chunks)
	assert.Zero(t, out.TotalTokens)
	assert.Zero(t, out.DroppedChunks)
}

func TestProvenance_CollectsSessionsAndPlatforms(t *testing.T) {
	ev := events.Canonical(events.ParsedEvent{Type: events.TypeMessage, Role: events.RoleUser, Content: "hi"})
	ev.SourceSessionID = "sess-9"
	ev.SourcePlatform = events.PlatformClaude

	chunks := []chunker.Chunk{
		{ID: "c1", SessionID: "sess-1", Events: []events.CanonicalEvent{ev}},
		{ID: "m1", SessionID: "claudemem", Source: "claudemem"},
	}

	sessions, platforms := provenance(chunks)

	assert.Equal(t, []string{"sess-1", "sess-9"}, sessions)
	assert.Equal(t, []string{"claude", "claudemem"}, platforms)
}
