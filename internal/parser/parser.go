// Package parser converts native session files from Claude Code, Codex CLI
// and Gemini CLI into the canonical event stream. Parsing is line-oriented
// for newline-delimited formats and whole-document for JSON-array formats;
// malformed records are skipped, never fatal.
package parser

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"unifiedagent/internal/events"
	"unifiedagent/internal/logging"
)

// ErrNoParser is returned by the registry when neither path heuristics nor
// content shape match a known platform format.
var ErrNoParser = errors.New("parser: no parser matches input")

// Parser converts one platform's session encoding into parsed events.
type Parser interface {
	// Platform identifies the native format this parser reads.
	Platform() events.Platform

	// Detect reports whether the file path matches this platform's
	// session layout. Content is not inspected.
	Detect(path string) bool

	// Stream parses source incrementally, invoking emit for each event.
	// Malformed records are skipped; only I/O errors are returned.
	Stream(r io.Reader, emit func(events.ParsedEvent)) error
}

// Parse collects the full event stream of r into a slice.
func Parse(p Parser, r io.Reader) ([]events.ParsedEvent, error) {
	var out []events.ParsedEvent
	err := p.Stream(r, func(e events.ParsedEvent) {
		out = append(out, e)
	})
	return out, err
}

// ParseString parses an in-memory document.
func ParseString(p Parser, s string) ([]events.ParsedEvent, error) {
	return Parse(p, strings.NewReader(s))
}

// ParseFile opens and parses a session file.
func ParseFile(p Parser, path string) ([]events.ParsedEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	evs, err := Parse(p, f)
	if err != nil {
		return nil, err
	}
	logging.Parser("parsed %s: %d events from %s", p.Platform(), len(evs), path)
	return evs, nil
}

// lineReader yields non-empty lines from a stream, buffering partial lines
// and flushing the remainder on end-of-stream. Unlike bufio.Scanner it has
// no fixed line-length ceiling, which matters for sessions carrying large
// tool outputs on a single line.
type lineReader struct {
	r    *bufio.Reader
	err  error
	done bool
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// next returns the next non-empty line without its trailing newline.
func (lr *lineReader) next() (string, bool) {
	for !lr.done {
		line, err := lr.r.ReadString('\n')
		if err != nil {
			lr.done = true
			if err != io.EOF {
				lr.err = err
				return "", false
			}
		}
		line = strings.TrimSpace(line)
		if line != "" {
			return line, true
		}
	}
	return "", false
}

// Err reports the first non-EOF read error.
func (lr *lineReader) Err() error {
	return lr.err
}

// parseTimestamp accepts the timestamp encodings seen across platforms:
// RFC3339 (with or without sub-second precision) and Unix milliseconds.
func parseTimestamp(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.String:
		s := v.Str
		if s == "" {
			return time.Time{}
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts
		}
	case gjson.Number:
		ms := v.Int()
		if ms > 1e12 { // milliseconds
			return time.UnixMilli(ms).UTC()
		}
		if ms > 0 { // seconds
			return time.Unix(ms, 0).UTC()
		}
	}
	return time.Time{}
}

// Registry resolves the right parser for a session file: platform path
// heuristics first, then first-record shape detection.
type Registry struct {
	parsers []Parser
}

// NewRegistry returns a registry over all platform parsers.
func NewRegistry() *Registry {
	return &Registry{parsers: []Parser{
		NewClaudeParser(),
		NewCodexParser(),
		NewGeminiParser(),
	}}
}

// Parsers returns the registered parsers in resolution order.
func (r *Registry) Parsers() []Parser {
	return r.parsers
}

// ByPlatform returns the parser for a platform.
func (r *Registry) ByPlatform(pl events.Platform) (Parser, bool) {
	for _, p := range r.parsers {
		if p.Platform() == pl {
			return p, true
		}
	}
	return nil, false
}

// ForFile resolves a parser for a session file. Path heuristics win; when
// none match, the first non-empty record decides. Returns ErrNoParser when
// the content matches no known shape.
func (r *Registry) ForFile(path string) (Parser, error) {
	for _, p := range r.parsers {
		if p.Detect(path) {
			return p, nil
		}
	}

	head, err := readHead(path)
	if err != nil {
		return nil, err
	}
	return r.ForContent(head)
}

// ForContent resolves a parser from a document prefix (the first non-empty
// line for newline-delimited formats, or the opening of a JSON document).
func (r *Registry) ForContent(head string) (Parser, error) {
	trimmed := strings.TrimSpace(head)
	if trimmed == "" {
		return nil, ErrNoParser
	}

	// A JSON array at top level is the Gemini whole-document form.
	if strings.HasPrefix(trimmed, "[") {
		return r.byPlatform(events.PlatformGemini)
	}

	// A single JSON object with a contents[] array is also Gemini.
	if gjson.Valid(trimmed) && gjson.Get(trimmed, "contents").IsArray() {
		return r.byPlatform(events.PlatformGemini)
	}

	line := firstLine(trimmed)
	if !gjson.Valid(line) {
		return nil, ErrNoParser
	}

	t := gjson.Get(line, "type").Str
	switch t {
	case "assistant", "user", "system":
		if gjson.Get(line, "message").Exists() || t == "system" {
			return r.byPlatform(events.PlatformClaude)
		}
	case "summary":
		return r.byPlatform(events.PlatformClaude)
	case "item.completed", "turn.completed", "metadata", "context":
		return r.byPlatform(events.PlatformCodex)
	case "message", "tool_call", "tool_result":
		return r.byPlatform(events.PlatformGemini)
	}

	if gjson.Get(line, "content.parts").Exists() || gjson.Get(line, "parts").IsArray() {
		return r.byPlatform(events.PlatformGemini)
	}

	return nil, ErrNoParser
}

func (r *Registry) byPlatform(pl events.Platform) (Parser, error) {
	if p, ok := r.ByPlatform(pl); ok {
		return p, nil
	}
	return nil, ErrNoParser
}

// readHead returns the first non-empty line of a file, or for files whose
// first line is enormous, the first 64 KiB.
func readHead(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, 64*1024)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return string(buf[:n]), nil
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
