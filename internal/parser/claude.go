package parser

import (
	"io"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"unifiedagent/internal/events"
)

// ClaudeParser reads Claude Code JSONL session files: one JSON record per
// line carrying a uuid/parentUuid chain and a nested Anthropic message.
type ClaudeParser struct{}

// NewClaudeParser returns a parser for Claude Code session files.
func NewClaudeParser() *ClaudeParser {
	return &ClaudeParser{}
}

func (p *ClaudeParser) Platform() events.Platform {
	return events.PlatformClaude
}

// Detect matches the ~/.claude/projects/<encoded-cwd>/<session>.jsonl layout
// and this system's own journal, which uses the same record shape.
func (p *ClaudeParser) Detect(path string) bool {
	norm := strings.ReplaceAll(path, "\\", "/")
	if !strings.HasSuffix(norm, ".jsonl") {
		return false
	}
	return strings.Contains(norm, "/.claude/projects/") ||
		strings.Contains(norm, "/.unified-agent/sessions/")
}

func (p *ClaudeParser) Stream(r io.Reader, emit func(events.ParsedEvent)) error {
	lr := newLineReader(r)
	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		if !gjson.Valid(line) {
			continue
		}
		if ev, ok := parseClaudeRecord(line); ok {
			emit(ev)
		}
	}
	return lr.Err()
}

// parseClaudeRecord maps one JSONL record to a parsed event. Returns false
// for records that produce no event.
func parseClaudeRecord(line string) (events.ParsedEvent, bool) {
	t := gjson.Get(line, "type").Str
	if t == "" {
		return events.ParsedEvent{}, false
	}

	ts := parseTimestamp(gjson.Get(line, "timestamp"))

	switch t {
	case "assistant":
		return parseClaudeAssistant(line, ts), true

	case "user":
		return parseClaudeUser(line, ts), true

	case "system":
		ev := events.ParsedEvent{
			Type:      events.TypeSystem,
			Role:      events.RoleSystem,
			Content:   gjson.Get(line, "content").Str,
			Timestamp: ts,
			Metadata:  claudeMetadata(line),
			Raw:       line,
		}
		if sub := gjson.Get(line, "subtype").Str; sub != "" {
			ev.Metadata = setMeta(ev.Metadata, "subtype", sub)
		}
		return ev, true

	case "summary":
		ev := events.ParsedEvent{
			Type:      events.TypeSummary,
			Content:   gjson.Get(line, "summary").Str,
			Timestamp: ts,
			Metadata:  claudeMetadata(line),
			Raw:       line,
		}
		if sub := gjson.Get(line, "subtype").Str; sub != "" {
			ev.Metadata = setMeta(ev.Metadata, "subtype", sub)
		}
		if leaf := gjson.Get(line, "leafUuid").Str; leaf != "" {
			ev.Metadata = setMeta(ev.Metadata, "leafUuid", leaf)
		}
		return ev, true

	default:
		// Unknown record types carry their raw JSON as content so nothing
		// is silently lost.
		return events.ParsedEvent{
			Type:      t,
			Content:   line,
			Timestamp: ts,
			Metadata:  claudeMetadata(line),
			Raw:       line,
		}, true
	}
}

// parseClaudeAssistant flattens an assistant record's content blocks. Text
// blocks are concatenated; the first tool_use block supplies the event's
// tool fields and every tool_use is kept under metadata for downstream
// scoring.
func parseClaudeAssistant(line string, ts time.Time) events.ParsedEvent {
	ev := events.ParsedEvent{
		Type:      events.TypeAssistant,
		Role:      events.RoleAssistant,
		Timestamp: ts,
		Metadata:  claudeMetadata(line),
		Raw:       line,
	}

	var texts []string
	var calls []events.ToolCall

	content := gjson.Get(line, "message.content")
	if content.IsArray() {
		content.ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").Str {
			case "text":
				if s := block.Get("text").Str; s != "" {
					texts = append(texts, s)
				}
			case "tool_use":
				calls = append(calls, events.ToolCall{
					Name:  block.Get("name").Str,
					Input: block.Get("input").Raw,
				})
			}
			return true
		})
	} else if content.Type == gjson.String {
		texts = append(texts, content.Str)
	}

	ev.Content = strings.Join(texts, "\n")
	if len(calls) > 0 {
		ev.ToolName = calls[0].Name
		ev.ToolInput = calls[0].Input
		ev.Metadata = setMeta(ev.Metadata, "toolCalls", calls)
	}
	if model := gjson.Get(line, "message.model").Str; model != "" {
		ev.Metadata = setMeta(ev.Metadata, "model", model)
	}
	return ev
}

// parseClaudeUser handles both plain user turns and the tool_result records
// Claude Code writes back as user messages.
func parseClaudeUser(line string, ts time.Time) events.ParsedEvent {
	content := gjson.Get(line, "message.content")

	if content.IsArray() {
		if ev, ok := claudeToolResult(line, content, ts); ok {
			return ev
		}
	}

	ev := events.ParsedEvent{
		Type:      events.TypeUser,
		Role:      events.RoleUser,
		Content:   claudeUserText(content),
		Timestamp: ts,
		Metadata:  claudeMetadata(line),
		Raw:       line,
	}
	return ev
}

// claudeToolResult extracts the first tool_result block, if any. A user
// record holding one represents tool output, not something the user typed.
func claudeToolResult(line string, content gjson.Result, ts time.Time) (events.ParsedEvent, bool) {
	var found bool
	var output string
	var isErr bool

	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").Str != "tool_result" {
			return true
		}
		found = true
		output = claudeUserText(block.Get("content"))
		isErr = block.Get("is_error").Bool()
		return false
	})
	if !found {
		return events.ParsedEvent{}, false
	}

	ev := events.ParsedEvent{
		Type:       events.TypeToolResult,
		Role:       events.RoleTool,
		Content:    output,
		Timestamp:  ts,
		ToolOutput: output,
		IsError:    isErr,
		Metadata:   claudeMetadata(line),
		Raw:        line,
	}
	return ev, true
}

// claudeUserText flattens string, text-block array, or scalar content into
// plain text.
func claudeUserText(content gjson.Result) string {
	switch {
	case content.Type == gjson.String:
		return content.Str
	case content.IsArray():
		var texts []string
		content.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").Str == "text" {
				if s := block.Get("text").Str; s != "" {
					texts = append(texts, s)
				}
			} else if block.Type == gjson.String && block.Str != "" {
				texts = append(texts, block.Str)
			}
			return true
		})
		return strings.Join(texts, "\n")
	default:
		return ""
	}
}

// claudeMetadata collects the session-level fields shared by every record
// shape.
func claudeMetadata(line string) map[string]any {
	var md map[string]any
	if v := gjson.Get(line, "sessionId").Str; v != "" {
		md = setMeta(md, "sessionId", v)
	}
	if v := gjson.Get(line, "uuid").Str; v != "" {
		md = setMeta(md, "uuid", v)
	}
	if v := gjson.Get(line, "parentUuid").Str; v != "" {
		md = setMeta(md, "parentUuid", v)
	}
	if v := gjson.Get(line, "cwd").Str; v != "" {
		md = setMeta(md, "cwd", v)
	}
	if gjson.Get(line, "isSidechain").Bool() {
		md = setMeta(md, "isSidechain", true)
	}
	return md
}

func setMeta(md map[string]any, key string, val any) map[string]any {
	if md == nil {
		md = make(map[string]any)
	}
	md[key] = val
	return md
}
