package parser

import (
	"io"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"unifiedagent/internal/events"
)

// CodexParser reads Codex CLI NDJSON rollout files. Sessions open with a
// metadata record and interleave item.completed payloads with turn.completed
// usage summaries.
type CodexParser struct{}

// NewCodexParser returns a parser for Codex session files.
func NewCodexParser() *CodexParser {
	return &CodexParser{}
}

func (p *CodexParser) Platform() events.Platform {
	return events.PlatformCodex
}

func (p *CodexParser) Detect(path string) bool {
	norm := strings.ReplaceAll(path, "\\", "/")
	if !strings.HasSuffix(norm, ".jsonl") {
		return false
	}
	return strings.Contains(norm, "/.codex/sessions/")
}

func (p *CodexParser) Stream(r io.Reader, emit func(events.ParsedEvent)) error {
	lr := newLineReader(r)
	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		if !gjson.Valid(line) {
			continue
		}
		if ev, ok := parseCodexRecord(line); ok {
			emit(ev)
		}
	}
	return lr.Err()
}

func parseCodexRecord(line string) (events.ParsedEvent, bool) {
	t := gjson.Get(line, "type").Str
	ts := parseTimestamp(gjson.Get(line, "timestamp"))

	switch t {
	case "item.completed":
		return parseCodexItem(line, ts)

	case "turn.completed":
		return parseCodexUsage(line, ts), true

	case "metadata", "session.created", "turn.started", "item.started", "item.updated":
		// Bookkeeping records carry no conversational content.
		return events.ParsedEvent{}, false

	case "context":
		// Context records are produced when a distilled session is exported
		// back into Codex form.
		return parseCodexRole(line, gjson.Get(line, "role").Str, ts)

	default:
		if role := gjson.Get(line, "role").Str; role != "" {
			return parseCodexRole(line, role, ts)
		}
		return events.ParsedEvent{}, false
	}
}

// parseCodexItem maps one item.completed payload. Command executions and
// function calls become tool events; reasoning and agent messages become
// assistant turns.
func parseCodexItem(line string, ts time.Time) (events.ParsedEvent, bool) {
	item := gjson.Get(line, "item")
	if !item.Exists() {
		return events.ParsedEvent{}, false
	}
	itemType := item.Get("item_type").Str
	if itemType == "" {
		itemType = item.Get("type").Str
	}

	switch itemType {
	case "command_execution":
		ev := events.ParsedEvent{
			Type:       events.TypeToolUse,
			Role:       events.RoleTool,
			Timestamp:  ts,
			ToolName:   "shell",
			ToolInput:  item.Get("command").Str,
			ToolOutput: item.Get("aggregated_output").Str,
			IsError:    item.Get("status").Str == "failed",
			Raw:        line,
		}
		ev.Content = ev.ToolInput
		if code := item.Get("exit_code"); code.Exists() {
			ev.Metadata = setMeta(ev.Metadata, "exitCode", code.Int())
		}
		return ev, true

	case "function_call", "local_shell_call", "custom_tool_call":
		name := item.Get("name").Str
		if name == "" {
			name = "function"
		}
		ev := events.ParsedEvent{
			Type:       events.TypeToolUse,
			Role:       events.RoleTool,
			Timestamp:  ts,
			ToolName:   name,
			ToolInput:  codexText(item.Get("arguments")),
			ToolOutput: codexText(item.Get("output")),
			IsError:    item.Get("status").Str == "failed",
			Raw:        line,
		}
		ev.Content = ev.ToolInput
		return ev, true

	case "reasoning", "agent_message", "assistant_message":
		return events.ParsedEvent{
			Type:      events.TypeAssistant,
			Role:      events.RoleAssistant,
			Content:   codexText(item.Get("text")),
			Timestamp: ts,
			Metadata:  map[string]any{"itemType": itemType},
			Raw:       line,
		}, true

	case "user_message":
		return events.ParsedEvent{
			Type:      events.TypeUser,
			Role:      events.RoleUser,
			Content:   codexText(item.Get("text")),
			Timestamp: ts,
			Raw:       line,
		}, true

	default:
		if role := item.Get("role").Str; role != "" {
			return codexRoleEvent(role, codexText(item.Get("text")), ts, line), true
		}
		return events.ParsedEvent{}, false
	}
}

func parseCodexUsage(line string, ts time.Time) events.ParsedEvent {
	ev := events.ParsedEvent{
		Type:      events.TypeUsage,
		Timestamp: ts,
		Raw:       line,
	}
	if model := gjson.Get(line, "model").Str; model != "" {
		ev.Metadata = setMeta(ev.Metadata, "model", model)
	}
	usage := gjson.Get(line, "usage")
	if usage.Exists() {
		usage.ForEach(func(key, val gjson.Result) bool {
			ev.Metadata = setMeta(ev.Metadata, key.Str, val.Int())
			return true
		})
	}
	return ev
}

// parseCodexRole maps a top-level role-tagged record, including the context
// records this system writes when exporting.
func parseCodexRole(line, role string, ts time.Time) (events.ParsedEvent, bool) {
	content := codexText(gjson.Get(line, "content"))
	if content == "" {
		content = codexText(gjson.Get(line, "text"))
	}
	ev := codexRoleEvent(role, content, ts, line)
	if md := gjson.Get(line, "metadata"); md.IsObject() {
		md.ForEach(func(key, val gjson.Result) bool {
			ev.Metadata = setMeta(ev.Metadata, key.Str, val.Value())
			return true
		})
	}
	return ev, true
}

func codexRoleEvent(role, content string, ts time.Time, line string) events.ParsedEvent {
	ev := events.ParsedEvent{
		Content:   content,
		Timestamp: ts,
		Raw:       line,
	}
	switch role {
	case "assistant", "model":
		ev.Type = events.TypeAssistant
		ev.Role = events.RoleAssistant
	case "system":
		ev.Type = events.TypeSystem
		ev.Role = events.RoleSystem
	default:
		ev.Type = events.TypeUser
		ev.Role = events.RoleUser
	}
	return ev
}

// codexText flattens a string, an array of text blocks, or an object with a
// text field into plain text.
func codexText(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		return v.Str
	case v.IsArray():
		var texts []string
		v.ForEach(func(_, block gjson.Result) bool {
			if block.Type == gjson.String {
				if block.Str != "" {
					texts = append(texts, block.Str)
				}
			} else if s := block.Get("text").Str; s != "" {
				texts = append(texts, s)
			}
			return true
		})
		return strings.Join(texts, "\n")
	case v.IsObject():
		return v.Get("text").Str
	default:
		return ""
	}
}
