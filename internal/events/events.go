// Package events defines the canonical event model shared by every stage of
// the distillation pipeline. Platform parsers normalize native session
// records into ParsedEvent; the persistence and assessment paths enrich them
// into CanonicalEvent.
package events

import "time"

// Platform identifies a coding-assistant whose session files we can read.
type Platform string

const (
	PlatformClaude  Platform = "claude"
	PlatformCodex   Platform = "codex"
	PlatformGemini  Platform = "gemini"
	PlatformUnified Platform = "unified" // this system's own meta-session journal
)

// Roles carried on events. Role is empty for records with no actor
// (usage reports, summaries, unknown raw records).
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Event types emitted by the parsers. Records the parsers do not recognize
// keep their original native type string.
const (
	TypeUser       = "user"
	TypeAssistant  = "assistant"
	TypeSystem     = "system"
	TypeSummary    = "summary"
	TypeToolUse    = "tool_use"
	TypeToolCall   = "tool_call"
	TypeToolResult = "tool_result"
	TypeUsage      = "usage"
	TypeMessage    = "message"
)

// ToolCall records a single tool invocation embedded in an assistant turn.
type ToolCall struct {
	Name   string `json:"name"`
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
}

// ParsedEvent is the normalized record every platform parser emits.
// It is immutable once emitted; downstream stages copy rather than mutate.
type ParsedEvent struct {
	Type       string                 `json:"type"`
	Role       string                 `json:"role,omitempty"`
	Content    string                 `json:"content"`
	Timestamp  time.Time              `json:"timestamp,omitempty"`
	ToolName   string                 `json:"toolName,omitempty"`
	ToolInput  string                 `json:"toolInput,omitempty"`
	ToolOutput string                 `json:"toolOutput,omitempty"`
	IsError    bool                   `json:"isError,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`

	// Raw preserves the original record for unknown types. Not serialized
	// back out by the journal.
	Raw string `json:"-"`
}

// HasTool reports whether the event carries any tool activity.
func (e *ParsedEvent) HasTool() bool {
	return e.ToolName != "" || e.ToolInput != ""
}

// CanonicalEvent is the runtime persistence record: a ParsedEvent plus the
// fields added on the scoring, chunking and assessment paths.
type CanonicalEvent struct {
	ParsedEvent

	// ImportanceScore is set by the scorer; nil means the event has not
	// passed through scoring yet.
	ImportanceScore *int `json:"importanceScore,omitempty"`

	// ChunkID links the event to the chunk that absorbed it. When set, a
	// chunk row with this id exists in storage.
	ChunkID string `json:"chunkId,omitempty"`

	// ConsensusScore mirrors the consensus of the owning chunk.
	ConsensusScore *float64 `json:"consensusScore,omitempty"`

	SourceSessionID string     `json:"sourceSessionId,omitempty"`
	SourcePlatform  Platform   `json:"sourcePlatform,omitempty"`
	ToolCalls       []ToolCall `json:"toolCalls,omitempty"`
}

// Canonical wraps a ParsedEvent into an unscored CanonicalEvent.
func Canonical(e ParsedEvent) CanonicalEvent {
	return CanonicalEvent{ParsedEvent: e}
}

// Score returns the importance score, or the neutral base score when the
// event never passed through the scorer.
func (e *CanonicalEvent) Score() int {
	if e.ImportanceScore == nil {
		return BaseImportance
	}
	return *e.ImportanceScore
}

// SetScore records an importance score on the event.
func (e *CanonicalEvent) SetScore(score int) {
	e.ImportanceScore = &score
}

// BaseImportance is the neutral starting score every event is assigned
// before scoring contributions apply.
const BaseImportance = 50

// EstimateTokens approximates the token cost of a text as ceil(bytes/4).
// The same estimate is used by the chunker, the distillers and the
// generators so budgets stay comparable across stages.
func EstimateTokens(content string) int {
	if content == "" {
		return 0
	}
	return (len(content) + 3) / 4
}
