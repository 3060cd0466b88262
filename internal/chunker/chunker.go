// Package chunker groups scored session events into assessment-sized chunks.
// Events below the importance threshold are dropped; survivors are walked
// with a sliding window bounded by both an event count and a token budget,
// with a small overlap between consecutive chunks for continuity.
package chunker

import (
	"strings"

	"github.com/google/uuid"

	"unifiedagent/internal/events"
	"unifiedagent/internal/logging"
)

// Chunk is an immutable group of consecutive surviving events. StartIndex
// and EndIndex refer to positions in the filtered event sequence.
type Chunk struct {
	ID            string                  `json:"id"`
	SessionID     string                  `json:"sessionId"`
	Events        []events.CanonicalEvent `json:"events"`
	StartIndex    int                     `json:"startIndex"`
	EndIndex      int                     `json:"endIndex"`
	ImportanceAvg float64                 `json:"importanceAvg"`
	TokenEstimate int                     `json:"tokenEstimate"`

	// Source marks synthetic chunks produced outside the chunker, such as
	// memory search results. Empty for chunked session events.
	Source string `json:"source,omitempty"`
}

// Content returns the chunk's text: all event contents joined by newlines.
func (c *Chunk) Content() string {
	parts := make([]string, 0, len(c.Events))
	for i := range c.Events {
		if c.Events[i].Content != "" {
			parts = append(parts, c.Events[i].Content)
		}
	}
	return strings.Join(parts, "\n")
}

// Config bounds chunk construction.
type Config struct {
	MinImportance int // events scoring below this are dropped
	MaxEvents     int // window capacity including overlap
	MaxTokens     int // token budget per chunk
	Overlap       int // events shared between consecutive chunks
}

// DefaultConfig mirrors the distillation defaults.
func DefaultConfig() Config {
	return Config{
		MinImportance: 30,
		MaxEvents:     20,
		MaxTokens:     4000,
		Overlap:       2,
	}
}

// Chunker builds chunks for one session at a time.
type Chunker struct {
	cfg Config
}

// New returns a chunker, normalizing nonsensical config values.
func New(cfg Config) *Chunker {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultConfig().MaxEvents
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	if cfg.Overlap >= cfg.MaxEvents {
		cfg.Overlap = cfg.MaxEvents - 1
	}
	return &Chunker{cfg: cfg}
}

// windowEntry keeps an event together with its filtered-sequence index.
type windowEntry struct {
	idx    int
	tokens int
	ev     events.CanonicalEvent
}

// Chunk splits the scored events of one session into chunks. Events under
// the importance threshold are dropped first; remaining events keep their
// position in the filtered sequence as chunk start/end indices.
func (c *Chunker) Chunk(sessionID string, evs []events.CanonicalEvent) []Chunk {
	survivors := make([]windowEntry, 0, len(evs))
	for i := range evs {
		if evs[i].Score() < c.cfg.MinImportance {
			continue
		}
		survivors = append(survivors, windowEntry{
			idx:    len(survivors),
			tokens: events.EstimateTokens(evs[i].Content),
			ev:     evs[i],
		})
	}
	if len(survivors) == 0 {
		logging.ChunkerDebug("session %s: no events above threshold %d", sessionID, c.cfg.MinImportance)
		return nil
	}

	var (
		chunks     []Chunk
		window     []windowEntry
		windowToks int
		fresh      int // events added since the last flush, excluding overlap seed
	)

	flush := func(seedNext bool) {
		if fresh == 0 || len(window) == 0 {
			return
		}
		chunks = append(chunks, c.build(sessionID, window))

		if seedNext && c.cfg.Overlap > 0 {
			keep := c.cfg.Overlap
			if keep > len(window) {
				keep = len(window)
			}
			seed := make([]windowEntry, keep)
			copy(seed, window[len(window)-keep:])
			window = seed
		} else {
			window = nil
		}
		windowToks = 0
		for _, e := range window {
			windowToks += e.tokens
		}
		fresh = 0
	}

	for _, entry := range survivors {
		// An event larger than the whole budget sits alone in its chunk.
		if entry.tokens > c.cfg.MaxTokens {
			flush(false)
			window = []windowEntry{entry}
			windowToks = entry.tokens
			fresh = 1
			flush(false)
			continue
		}

		if len(window) > 0 && windowToks+entry.tokens > c.cfg.MaxTokens {
			flush(true)
			// When the carried overlap leaves no room, start clean.
			if windowToks+entry.tokens > c.cfg.MaxTokens {
				window = nil
				windowToks = 0
			}
		}

		window = append(window, entry)
		windowToks += entry.tokens
		fresh++

		if len(window) >= c.cfg.MaxEvents {
			flush(true)
		}
	}
	flush(false)

	logging.Chunker("session %s: %d events -> %d survivors -> %d chunks",
		sessionID, len(evs), len(survivors), len(chunks))
	return chunks
}

func (c *Chunker) build(sessionID string, window []windowEntry) Chunk {
	evs := make([]events.CanonicalEvent, len(window))
	tokens := 0
	scoreSum := 0
	for i, e := range window {
		evs[i] = e.ev
		tokens += e.tokens
		scoreSum += e.ev.Score()
	}
	if tokens < 1 {
		tokens = 1
	}
	return Chunk{
		ID:            uuid.New().String(),
		SessionID:     sessionID,
		Events:        evs,
		StartIndex:    window[0].idx,
		EndIndex:      window[len(window)-1].idx,
		ImportanceAvg: float64(scoreSum) / float64(len(window)),
		TokenEstimate: tokens,
	}
}
