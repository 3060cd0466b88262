// Package scoring assigns heuristic importance scores to session events.
// Scoring is a pure function over the event payload so the same event always
// receives the same score, and it never fails; anomalous input degrades to
// the base score.
package scoring

import (
	"strings"

	"unifiedagent/internal/events"
)

// Additive contributions applied to the base score before clamping.
const (
	ToolUseBonus     = 15
	ErrorBonus       = 20
	UserPromptBonus  = 10
	CodeBlockBonus   = 10
	FileEditBonus    = 12
	LongContentMalus = -5
	SystemMalus      = -20
	HookMalus        = -15

	// LongContentThreshold is the content length above which the long
	// content malus applies.
	LongContentThreshold = 2000
)

// fileEditTools are the tool names that earn the file-edit bonus.
var fileEditTools = map[string]bool{
	"edit":         true,
	"write":        true,
	"notebookedit": true,
}

// ScoreEvent computes the importance of an event on the [0,100] scale.
func ScoreEvent(ev *events.ParsedEvent) int {
	if ev == nil {
		return events.BaseImportance
	}

	score := events.BaseImportance

	if ev.HasTool() {
		score += ToolUseBonus
	}
	if ev.IsError {
		score += ErrorBonus
	}
	if ev.Role == events.RoleUser && ev.Type != events.TypeToolResult {
		score += UserPromptBonus
	}
	if strings.Contains(ev.Content, "```") {
		score += CodeBlockBonus
	}
	if fileEditTools[strings.ToLower(ev.ToolName)] {
		score += FileEditBonus
	}
	if len(ev.Content) > LongContentThreshold {
		score += LongContentMalus
	}
	if ev.Role == events.RoleSystem || ev.Type == events.TypeSystem {
		score += SystemMalus
	}
	if strings.HasPrefix(ev.Type, "hook") || strings.HasPrefix(ev.Type, "custom_hook") {
		score += HookMalus
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// ScoreAll scores a parsed stream into canonical events, preserving order.
func ScoreAll(evs []events.ParsedEvent) []events.CanonicalEvent {
	out := make([]events.CanonicalEvent, 0, len(evs))
	for i := range evs {
		ce := events.Canonical(evs[i])
		ce.SetScore(ScoreEvent(&evs[i]))
		out = append(out, ce)
	}
	return out
}
