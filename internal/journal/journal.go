// Package journal persists the orchestrator's own meta-session. Every event
// recorded here is appended to a JSONL file under the data directory's
// sessions/ root and mirrored into the runtime store, so a meta-session
// re-enters the distillation pipeline exactly like an external one. The file
// records use the Claude session shape, which the Claude parser already
// reads back.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"unifiedagent/internal/events"
	"unifiedagent/internal/logging"
	"unifiedagent/internal/scoring"
	"unifiedagent/internal/store"
)

// timestampLayout matches the millisecond UTC format Claude session files
// carry, so journaled records parse back with full precision.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// journalRecord is the on-disk line shape. Message is nil for system and
// summary records, which carry their content at the top level.
type journalRecord struct {
	Type            string          `json:"type"`
	UUID            string          `json:"uuid"`
	ParentUUID      string          `json:"parentUuid,omitempty"`
	SessionID       string          `json:"sessionId"`
	CWD             string          `json:"cwd,omitempty"`
	Timestamp       string          `json:"timestamp"`
	ImportanceScore *int            `json:"importanceScore,omitempty"`
	Content         string          `json:"content,omitempty"`
	Subtype         string          `json:"subtype,omitempty"`
	Summary         string          `json:"summary,omitempty"`
	Message         *journalMessage `json:"message,omitempty"`
}

type journalMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// contentBlock is one element of an array-valued message content.
type contentBlock struct {
	Type    string          `json:"type"`
	Text    string          `json:"text,omitempty"`
	Name    string          `json:"name,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
	Content string          `json:"content,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

// FileJournal appends canonical events to <dir>/<sessionID>.jsonl. Safe for
// concurrent use; records are chained through uuid/parentUuid in write order.
type FileJournal struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	sessionID string
	cwd       string
	lastUUID  string
}

// NewFileJournal opens (appending) the journal file for one meta-session,
// creating the sessions directory as needed.
func NewFileJournal(dir, sessionID, cwd string) (*FileJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	path := filepath.Join(dir, sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	logging.Session("Journal opened: %s", path)
	return &FileJournal{
		file:      f,
		path:      path,
		sessionID: sessionID,
		cwd:       cwd,
	}, nil
}

// Path returns the journal file location.
func (j *FileJournal) Path() string {
	return j.path
}

// Record appends one event as a JSONL line.
func (j *FileJournal) Record(ev *events.CanonicalEvent) error {
	if ev == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	rec := j.buildRecord(ev)
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode journal record: %w", err)
	}
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append journal record: %w", err)
	}
	j.lastUUID = rec.UUID
	return nil
}

// Close flushes and closes the underlying file.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// buildRecord maps a canonical event onto the line shape. Event types the
// readers do not know become system records with the original type as
// subtype, so nothing round-trips as raw JSON noise.
func (j *FileJournal) buildRecord(ev *events.CanonicalEvent) journalRecord {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec := journalRecord{
		UUID:            uuid.New().String(),
		ParentUUID:      j.lastUUID,
		SessionID:       j.sessionID,
		CWD:             j.cwd,
		Timestamp:       ts.UTC().Format(timestampLayout),
		ImportanceScore: ev.ImportanceScore,
	}

	switch ev.Type {
	case events.TypeUser:
		rec.Type = "user"
		rec.Message = &journalMessage{Role: "user", Content: ev.Content}

	case events.TypeAssistant:
		rec.Type = "assistant"
		rec.Message = &journalMessage{Role: "assistant", Content: assistantBlocks(ev)}

	case events.TypeToolUse, events.TypeToolCall:
		rec.Type = "assistant"
		rec.Message = &journalMessage{Role: "assistant", Content: toolUseBlocks(ev)}

	case events.TypeToolResult:
		rec.Type = "user"
		rec.Message = &journalMessage{Role: "user", Content: []contentBlock{{
			Type:    "tool_result",
			Content: ev.ToolOutput,
			IsError: ev.IsError,
		}}}

	case events.TypeSummary:
		rec.Type = "summary"
		rec.Summary = ev.Content

	case events.TypeSystem:
		rec.Type = "system"
		rec.Content = ev.Content
		if sub, ok := ev.Metadata["subtype"].(string); ok {
			rec.Subtype = sub
		}

	default:
		rec.Type = "system"
		rec.Content = ev.Content
		rec.Subtype = ev.Type
	}
	return rec
}

// assistantBlocks renders an assistant turn: its text plus any tool calls it
// carried.
func assistantBlocks(ev *events.CanonicalEvent) []contentBlock {
	var blocks []contentBlock
	if ev.Content != "" {
		blocks = append(blocks, contentBlock{Type: "text", Text: ev.Content})
	}
	calls := ev.ToolCalls
	if len(calls) == 0 && ev.ToolName != "" {
		calls = []events.ToolCall{{Name: ev.ToolName, Input: ev.ToolInput}}
	}
	for _, call := range calls {
		blocks = append(blocks, contentBlock{
			Type:  "tool_use",
			Name:  call.Name,
			Input: toolInputJSON(call.Input),
		})
	}
	if blocks == nil {
		blocks = append(blocks, contentBlock{Type: "text", Text: ""})
	}
	return blocks
}

// toolUseBlocks renders a standalone tool invocation event.
func toolUseBlocks(ev *events.CanonicalEvent) []contentBlock {
	name := ev.ToolName
	if name == "" {
		name = "tool"
	}
	return []contentBlock{{
		Type:  "tool_use",
		Name:  name,
		Input: toolInputJSON(ev.ToolInput),
	}}
}

// toolInputJSON passes already-valid JSON through untouched and quotes
// anything else, so the input field is always well-formed JSON.
func toolInputJSON(input string) json.RawMessage {
	if input == "" {
		return nil
	}
	if json.Valid([]byte(input)) {
		return json.RawMessage(input)
	}
	quoted, err := json.Marshal(input)
	if err != nil {
		return nil
	}
	return json.RawMessage(quoted)
}

// StoreRecorder mirrors journal events into the runtime store's events table.
type StoreRecorder struct {
	st        *store.Store
	sessionID string
}

// NewStoreRecorder binds a store to one meta-session id.
func NewStoreRecorder(st *store.Store, sessionID string) *StoreRecorder {
	return &StoreRecorder{st: st, sessionID: sessionID}
}

// Record inserts the event under this recorder's session. Events that came
// from another platform keep their source platform; native ones are tagged
// unified.
func (r *StoreRecorder) Record(ev *events.CanonicalEvent) error {
	if ev == nil {
		return nil
	}
	platform := ev.SourcePlatform
	if platform == "" {
		platform = events.PlatformUnified
		ev.SourcePlatform = platform
	}
	if ev.SourceSessionID == "" {
		ev.SourceSessionID = r.sessionID
	}
	_, err := r.st.InsertEvent(r.sessionID, platform, ev)
	return err
}

// MultiRecorder fans one event out to several recorders. Every recorder sees
// the event even when an earlier one fails; the first error is returned.
type MultiRecorder struct {
	recorders []scoring.Recorder
}

// NewMultiRecorder combines recorders in the given order.
func NewMultiRecorder(recorders ...scoring.Recorder) *MultiRecorder {
	return &MultiRecorder{recorders: recorders}
}

func (m *MultiRecorder) Record(ev *events.CanonicalEvent) error {
	var first error
	for _, r := range m.recorders {
		if err := r.Record(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ObservationQueuer journals observations for asynchronous delivery to the
// memory service.
type ObservationQueuer interface {
	QueueObservation(text string) error
}

// ObservationTap forwards tool activity to the memory sync queue as it is
// journaled. It never blocks on the network and never fails the journal
// write: queue errors are logged and swallowed.
type ObservationTap struct {
	mem ObservationQueuer
}

// NewObservationTap wraps a memory client (or anything queueing
// observations).
func NewObservationTap(mem ObservationQueuer) *ObservationTap {
	return &ObservationTap{mem: mem}
}

func (t *ObservationTap) Record(ev *events.CanonicalEvent) error {
	if ev == nil {
		return nil
	}
	text := observationText(ev)
	if text == "" {
		return nil
	}
	if err := t.mem.QueueObservation(text); err != nil {
		logging.MemoryDebug("observation tap enqueue failed: %v", err)
	}
	return nil
}

// observationText summarizes a tool event for the memory service. Non-tool
// events yield "".
func observationText(ev *events.CanonicalEvent) string {
	switch ev.Type {
	case events.TypeToolUse, events.TypeToolCall, events.TypeToolResult:
	default:
		if !ev.HasTool() {
			return ""
		}
	}

	name := ev.ToolName
	if name == "" {
		name = "tool"
	}
	var b strings.Builder
	b.WriteString("[" + name + "]")
	if ev.IsError {
		b.WriteString(" failed")
	}
	if in := clip(ev.ToolInput, 400); in != "" {
		b.WriteString("\ninput: " + in)
	}
	if out := clip(ev.ToolOutput, 400); out != "" {
		b.WriteString("\noutput: " + out)
	}
	return b.String()
}

func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// Session is the assembled journal stack for one meta-session: importance
// scoring over a fan-out to the JSONL file, the store mirror, and the
// observation tap. Components left nil in the options are simply not wired.
type Session struct {
	ID       string
	CWD      string
	journal  *FileJournal
	recorder scoring.Recorder
}

// SessionOptions configure NewSession. Dir is required; a zero SessionID is
// replaced with a fresh uuid.
type SessionOptions struct {
	Dir       string
	SessionID string
	CWD       string
	Store     *store.Store
	Memory    ObservationQueuer
}

// NewSession opens the journal file and wires the recording stack.
func NewSession(opts SessionOptions) (*Session, error) {
	id := opts.SessionID
	if id == "" {
		id = uuid.New().String()
	}
	fj, err := NewFileJournal(opts.Dir, id, opts.CWD)
	if err != nil {
		return nil, err
	}

	recorders := []scoring.Recorder{fj}
	if opts.Store != nil {
		recorders = append(recorders, NewStoreRecorder(opts.Store, id))
	}
	if opts.Memory != nil {
		recorders = append(recorders, NewObservationTap(opts.Memory))
	}

	return &Session{
		ID:       id,
		CWD:      opts.CWD,
		journal:  fj,
		recorder: scoring.NewScoredRecorder(NewMultiRecorder(recorders...)),
	}, nil
}

// Record scores (if needed) and persists one canonical event.
func (s *Session) Record(ev *events.CanonicalEvent) error {
	return s.recorder.Record(ev)
}

// RecordParsed wraps a parsed event and records it.
func (s *Session) RecordParsed(ev events.ParsedEvent) error {
	ce := events.Canonical(ev)
	return s.Record(&ce)
}

// User records a user turn.
func (s *Session) User(text string) error {
	return s.RecordParsed(events.ParsedEvent{
		Type: events.TypeUser, Role: events.RoleUser, Content: text, Timestamp: time.Now().UTC(),
	})
}

// Assistant records an assistant turn.
func (s *Session) Assistant(text string) error {
	return s.RecordParsed(events.ParsedEvent{
		Type: events.TypeAssistant, Role: events.RoleAssistant, Content: text, Timestamp: time.Now().UTC(),
	})
}

// System records a system notice.
func (s *Session) System(text, subtype string) error {
	ev := events.ParsedEvent{
		Type: events.TypeSystem, Role: events.RoleSystem, Content: text, Timestamp: time.Now().UTC(),
	}
	if subtype != "" {
		ev.Metadata = map[string]any{"subtype": subtype}
	}
	return s.RecordParsed(ev)
}

// ToolUse records a tool invocation.
func (s *Session) ToolUse(name, input string) error {
	return s.RecordParsed(events.ParsedEvent{
		Type: events.TypeToolUse, Role: events.RoleTool,
		Content: input, ToolName: name, ToolInput: input,
		Timestamp: time.Now().UTC(),
	})
}

// ToolResult records a tool's output.
func (s *Session) ToolResult(output string, isError bool) error {
	return s.RecordParsed(events.ParsedEvent{
		Type: events.TypeToolResult, Role: events.RoleTool,
		Content: output, ToolOutput: output, IsError: isError,
		Timestamp: time.Now().UTC(),
	})
}

// Path returns the journal file location.
func (s *Session) Path() string {
	return s.journal.Path()
}

// Close releases the journal file.
func (s *Session) Close() error {
	return s.journal.Close()
}
