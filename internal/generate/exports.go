package generate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"unifiedagent/internal/chunker"
	"unifiedagent/internal/distill"
	"unifiedagent/internal/events"
	"unifiedagent/internal/logging"
)

// summaryHeader opens a compact summary artifact, shaped like a Claude
// compaction boundary.
type summaryHeader struct {
	Type             string   `json:"type"`
	Subtype          string   `json:"subtype"`
	IsSidechain      bool     `json:"is_sidechain"`
	CompactBoundary  bool     `json:"compact_boundary"`
	SourceSessionIDs []string `json:"sourceSessionIds"`
	SourcePlatforms  []string `json:"sourcePlatforms"`
	TotalTokens      int      `json:"totalTokens"`
	ChunkCount       int      `json:"chunkCount"`
	DistilledAt      string   `json:"distilledAt"`
}

// summaryRecord carries one chunk, reminder-wrapped for passive injection.
type summaryRecord struct {
	Type     string        `json:"type"`
	Content  string        `json:"content"`
	Metadata chunkMetadata `json:"metadata"`
}

// WriteSummary renders the compact boundary form: one header record, then
// one assistant record per chunk.
func WriteSummary(d *distill.DistilledSession, path string, opts Options) (string, error) {
	records := make([]any, 0, len(d.Chunks)+1)
	records = append(records, summaryHeader{
		Type:             "system",
		Subtype:          "compact_boundary",
		IsSidechain:      true,
		CompactBoundary:  true,
		SourceSessionIDs: d.SourceSessionIDs,
		SourcePlatforms:  d.SourcePlatforms,
		TotalTokens:      d.TotalTokens,
		ChunkCount:       len(d.Chunks),
		DistilledAt:      d.DistilledAt.UTC().Format(time.RFC3339),
	})
	for i := range d.Chunks {
		ch := &d.Chunks[i]
		records = append(records, summaryRecord{
			Type:     events.TypeAssistant,
			Content:  "<system-reminder>\n" + ch.Content() + "\n</system-reminder>",
			Metadata: metadataFor(ch),
		})
	}

	if err := writeJSONLines(path, records); err != nil {
		return "", fmt.Errorf("write summary artifact: %w", err)
	}

	logging.Generate("Summary artifact: %s (%d chunks)", path, len(d.Chunks))
	logging.Audit().Generated(string(events.PlatformClaude), path, len(records))
	return path, nil
}

type codexMetadata struct {
	Type             string   `json:"type"`
	Version          int      `json:"version"`
	SourceSessionIDs []string `json:"sourceSessionIds"`
	SourcePlatforms  []string `json:"sourcePlatforms"`
	ChunkCount       int      `json:"chunkCount"`
	TotalTokens      int      `json:"totalTokens"`
	DistilledAt      string   `json:"distilledAt"`
}

type codexRecord struct {
	Type     string        `json:"type"`
	Role     string        `json:"role"`
	Content  string        `json:"content"`
	Metadata chunkMetadata `json:"metadata"`
}

// WriteCodex renders the NDJSON codex form: a metadata line, then one
// context line per chunk.
func WriteCodex(d *distill.DistilledSession, path string, opts Options) (string, error) {
	records := make([]any, 0, len(d.Chunks)+1)
	records = append(records, codexMetadata{
		Type:             "metadata",
		Version:          1,
		SourceSessionIDs: d.SourceSessionIDs,
		SourcePlatforms:  d.SourcePlatforms,
		ChunkCount:       len(d.Chunks),
		TotalTokens:      d.TotalTokens,
		DistilledAt:      d.DistilledAt.UTC().Format(time.RFC3339),
	})
	for i := range d.Chunks {
		ch := &d.Chunks[i]
		records = append(records, codexRecord{
			Type:     "context",
			Role:     events.RoleAssistant,
			Content:  ch.Content(),
			Metadata: metadataFor(ch),
		})
	}

	if err := writeJSONLines(path, records); err != nil {
		return "", fmt.Errorf("write codex artifact: %w", err)
	}

	logging.Generate("Codex artifact: %s (%d chunks)", path, len(d.Chunks))
	logging.Audit().Generated(string(events.PlatformCodex), path, len(records))
	return path, nil
}

type geminiMetadata struct {
	SourceSessionIDs []string `json:"sourceSessionIds"`
	SourcePlatforms  []string `json:"sourcePlatforms"`
	ChunkCount       int      `json:"chunkCount"`
	TotalTokens      int      `json:"totalTokens"`
	DistilledAt      string   `json:"distilledAt"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiDocument struct {
	Metadata geminiMetadata  `json:"metadata"`
	Contents []geminiContent `json:"contents"`
}

// WriteGemini renders a single JSON document of role/parts contents.
// Consecutive same-role events inside a chunk collapse into one entry;
// assistant maps to model, everything else to user.
func WriteGemini(d *distill.DistilledSession, path string, opts Options) (string, error) {
	doc := geminiDocument{
		Metadata: geminiMetadata{
			SourceSessionIDs: d.SourceSessionIDs,
			SourcePlatforms:  d.SourcePlatforms,
			ChunkCount:       len(d.Chunks),
			TotalTokens:      d.TotalTokens,
			DistilledAt:      d.DistilledAt.UTC().Format(time.RFC3339),
		},
		Contents: []geminiContent{},
	}

	for i := range d.Chunks {
		role, texts := "", []string(nil)
		flush := func() {
			if len(texts) == 0 {
				return
			}
			doc.Contents = append(doc.Contents, geminiContent{
				Role:  role,
				Parts: []geminiPart{{Text: strings.Join(texts, "\n")}},
			})
			texts = nil
		}
		for j := range d.Chunks[i].Events {
			ev := &d.Chunks[i].Events[j]
			if ev.Content == "" {
				continue
			}
			r := geminiRole(ev.Role)
			if r != role {
				flush()
				role = r
			}
			texts = append(texts, ev.Content)
		}
		flush()
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode gemini artifact: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("write gemini artifact: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write gemini artifact: %w", err)
	}

	logging.Generate("Gemini artifact: %s (%d contents)", path, len(doc.Contents))
	logging.Audit().Generated(string(events.PlatformGemini), path, len(doc.Contents))
	return path, nil
}

func geminiRole(role string) string {
	if role == events.RoleAssistant {
		return "model"
	}
	return events.RoleUser
}

func metadataFor(ch *chunker.Chunk) chunkMetadata {
	return chunkMetadata{
		ChunkID:       ch.ID,
		SessionID:     ch.SessionID,
		StartIndex:    ch.StartIndex,
		EndIndex:      ch.EndIndex,
		ImportanceAvg: ch.ImportanceAvg,
		TokenEstimate: ch.TokenEstimate,
	}
}
