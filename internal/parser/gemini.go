package parser

import (
	"io"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"unifiedagent/internal/events"
)

// GeminiParser reads Gemini CLI checkpoint files. Checkpoints are whole JSON
// documents, either a bare array of turns or an object wrapping a contents
// array, with user/model roles and multi-part content. Line-delimited typed
// records are accepted as a fallback.
type GeminiParser struct{}

// NewGeminiParser returns a parser for Gemini checkpoint files.
func NewGeminiParser() *GeminiParser {
	return &GeminiParser{}
}

func (p *GeminiParser) Platform() events.Platform {
	return events.PlatformGemini
}

func (p *GeminiParser) Detect(path string) bool {
	norm := strings.ReplaceAll(path, "\\", "/")
	if !strings.HasSuffix(norm, ".json") && !strings.HasSuffix(norm, ".jsonl") {
		return false
	}
	return strings.Contains(norm, "/.gemini/")
}

func (p *GeminiParser) Stream(r io.Reader, emit func(events.ParsedEvent)) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	doc := strings.TrimSpace(string(data))
	if doc == "" {
		return nil
	}

	if gjson.Valid(doc) {
		parsed := gjson.Parse(doc)
		switch {
		case parsed.IsArray():
			parsed.ForEach(func(_, turn gjson.Result) bool {
				parseGeminiTurn(turn, emit)
				return true
			})
			return nil
		case parsed.IsObject():
			if contents := parsed.Get("contents"); contents.IsArray() {
				base := parseTimestamp(parsed.Get("metadata.startTime"))
				contents.ForEach(func(_, turn gjson.Result) bool {
					parseGeminiTurnAt(turn, base, emit)
					return true
				})
				return nil
			}
			parseGeminiTurn(parsed, emit)
			return nil
		}
	}

	// Not a single document: treat as line-delimited typed records.
	lr := newLineReader(strings.NewReader(doc))
	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		if !gjson.Valid(line) {
			continue
		}
		parseGeminiTurn(gjson.Parse(line), emit)
	}
	return lr.Err()
}

func parseGeminiTurn(turn gjson.Result, emit func(events.ParsedEvent)) {
	parseGeminiTurnAt(turn, time.Time{}, emit)
}

// parseGeminiTurnAt maps one turn. Text parts merge into a single message
// event; each functionCall and functionResponse part becomes its own event.
func parseGeminiTurnAt(turn gjson.Result, fallback time.Time, emit func(events.ParsedEvent)) {
	ts := parseTimestamp(turn.Get("timestamp"))
	if ts.IsZero() {
		ts = fallback
	}
	raw := turn.Raw

	if t := turn.Get("type").Str; t != "" {
		if ev, ok := parseGeminiTyped(turn, t, ts); ok {
			emit(ev)
		}
		return
	}

	role := turn.Get("role").Str
	parts := turn.Get("parts")

	var texts []string
	if parts.IsArray() {
		parts.ForEach(func(_, part gjson.Result) bool {
			switch {
			case part.Get("text").Exists():
				if s := part.Get("text").Str; s != "" {
					texts = append(texts, s)
				}
			case part.Get("functionCall").Exists():
				call := part.Get("functionCall")
				emit(events.ParsedEvent{
					Type:      events.TypeToolCall,
					Role:      events.RoleTool,
					Content:   call.Get("args").Raw,
					Timestamp: ts,
					ToolName:  call.Get("name").Str,
					ToolInput: call.Get("args").Raw,
					Raw:       part.Raw,
				})
			case part.Get("functionResponse").Exists():
				resp := part.Get("functionResponse")
				output := resp.Get("response").Raw
				if s := resp.Get("response.output").Str; s != "" {
					output = s
				}
				emit(events.ParsedEvent{
					Type:       events.TypeToolResult,
					Role:       events.RoleTool,
					Content:    output,
					Timestamp:  ts,
					ToolName:   resp.Get("name").Str,
					ToolOutput: output,
					IsError:    resp.Get("response.error").Exists(),
					Raw:        part.Raw,
				})
			case part.Type == gjson.String:
				if part.Str != "" {
					texts = append(texts, part.Str)
				}
			}
			return true
		})
	} else if s := turn.Get("text").Str; s != "" {
		texts = append(texts, s)
	}

	if len(texts) == 0 {
		return
	}
	ev := events.ParsedEvent{
		Content:   strings.Join(texts, "\n"),
		Timestamp: ts,
		Raw:       raw,
	}
	switch role {
	case "model", "assistant":
		ev.Type = events.TypeAssistant
		ev.Role = events.RoleAssistant
	case "system":
		ev.Type = events.TypeSystem
		ev.Role = events.RoleSystem
	default:
		ev.Type = events.TypeUser
		ev.Role = events.RoleUser
	}
	emit(ev)
}

// parseGeminiTyped handles line-delimited records tagged with an explicit
// type field.
func parseGeminiTyped(turn gjson.Result, t string, ts time.Time) (events.ParsedEvent, bool) {
	switch t {
	case "message":
		ev := events.ParsedEvent{
			Content:   turn.Get("content").Str,
			Timestamp: ts,
			Raw:       turn.Raw,
		}
		switch turn.Get("role").Str {
		case "model", "assistant":
			ev.Type = events.TypeAssistant
			ev.Role = events.RoleAssistant
		default:
			ev.Type = events.TypeUser
			ev.Role = events.RoleUser
		}
		return ev, true

	case "tool_call", "tool_use":
		return events.ParsedEvent{
			Type:      events.TypeToolCall,
			Role:      events.RoleTool,
			Content:   turn.Get("args").Raw,
			Timestamp: ts,
			ToolName:  turn.Get("name").Str,
			ToolInput: turn.Get("args").Raw,
			Raw:       turn.Raw,
		}, true

	case "tool_result":
		output := turn.Get("output").Str
		if output == "" {
			output = turn.Get("response").Raw
		}
		return events.ParsedEvent{
			Type:       events.TypeToolResult,
			Role:       events.RoleTool,
			Content:    output,
			Timestamp:  ts,
			ToolName:   turn.Get("name").Str,
			ToolOutput: output,
			IsError:    turn.Get("error").Bool(),
			Raw:        turn.Raw,
		}, true

	default:
		return events.ParsedEvent{}, false
	}
}
