// Audit logging: structured JSON-line events for operations that spawn
// subprocesses or mutate external state. One file per day under
// <dataDir>/logs/, active only in debug mode.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event.
type AuditEventType string

const (
	// Provider subprocess events
	AuditProviderInvoke   AuditEventType = "provider_invoke"
	AuditProviderComplete AuditEventType = "provider_complete"
	AuditProviderError    AuditEventType = "provider_error"
	AuditProviderTimeout  AuditEventType = "provider_timeout"

	// Assessment run events
	AuditAssessStart    AuditEventType = "assess_start"
	AuditAssessComplete AuditEventType = "assess_complete"

	// Distillation events
	AuditDistillBuild AuditEventType = "distill_build"
	AuditDistillQuery AuditEventType = "distill_query"

	// Memory service events
	AuditMemorySync   AuditEventType = "memory_sync"
	AuditMemorySearch AuditEventType = "memory_search"

	// Ingest events
	AuditSessionIngest AuditEventType = "session_ingest"

	// Generation events
	AuditGenerateSession AuditEventType = "generate_session"
	AuditLoadContext     AuditEventType = "load_context"
)

// AuditEvent represents a structured audit log entry.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`    // Unix milliseconds
	EventType  AuditEventType         `json:"event"` // Event type
	SessionID  string                 `json:"session,omitempty"`
	Provider   string                 `json:"provider,omitempty"`
	Target     string                 `json:"target,omitempty"` // Target of operation (path, chunk id, query)
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"msg"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger handles structured audit logging.
type AuditLogger struct {
	sessionID string
}

// InitAudit initializes the audit logging system.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	header := fmt.Sprintf("# Audit log started at %s\n", time.Now().Format(time.RFC3339))
	auditFile.WriteString(header)

	return nil
}

// CloseAudit closes the audit log file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger.
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithSession creates an audit logger scoped to a meta-session.
func AuditWithSession(sessionID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID}
}

// Log writes an audit event.
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() || auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.SessionID == "" && a.sessionID != "" {
		event.SessionID = a.sessionID
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// ProviderCall logs a provider CLI invocation result.
func (a *AuditLogger) ProviderCall(provider, target string, durationMs int64, success bool, errMsg string) {
	eventType := AuditProviderComplete
	if !success {
		eventType = AuditProviderError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Provider:   provider,
		Target:     target,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Message:    fmt.Sprintf("Provider %s: %s (%dms, success=%v)", provider, target, durationMs, success),
	})
}

// ProviderTimeout logs a provider CLI invocation that was killed on deadline.
func (a *AuditLogger) ProviderTimeout(provider, target string, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditProviderTimeout,
		Provider:   provider,
		Target:     target,
		Success:    false,
		DurationMs: durationMs,
		Message:    fmt.Sprintf("Provider %s timed out on %s after %dms", provider, target, durationMs),
	})
}

// AssessRun logs an assessment run over a batch of chunks.
func (a *AuditLogger) AssessRun(eventType AuditEventType, chunkCount int, durationMs int64, success bool) {
	a.Log(AuditEvent{
		EventType:  eventType,
		Success:    success,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"chunks": chunkCount},
		Message:    fmt.Sprintf("Assessment %s: %d chunks (%dms)", eventType, chunkCount, durationMs),
	})
}

// DistillRun logs a distillation build or query.
func (a *AuditLogger) DistillRun(eventType AuditEventType, target string, eventCount int, tokens int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  eventType,
		Target:     target,
		Success:    true,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"events": eventCount, "tokens": tokens},
		Message:    fmt.Sprintf("Distill %s: %d events, %d tokens (%dms)", eventType, eventCount, tokens, durationMs),
	})
}

// MemoryOp logs a memory service operation.
func (a *AuditLogger) MemoryOp(eventType AuditEventType, target string, durationMs int64, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType:  eventType,
		Target:     target,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Message:    fmt.Sprintf("Memory %s: %s (%dms, success=%v)", eventType, target, durationMs, success),
	})
}

// SessionIngest logs an external session being registered.
func (a *AuditLogger) SessionIngest(platform, path string, eventCount int) {
	a.Log(AuditEvent{
		EventType: AuditSessionIngest,
		Provider:  platform,
		Target:    path,
		Success:   true,
		Fields:    map[string]interface{}{"events": eventCount},
		Message:   fmt.Sprintf("Ingested %s session: %s (%d events)", platform, path, eventCount),
	})
}

// Generated logs a synthetic session being written.
func (a *AuditLogger) Generated(platform, path string, eventCount int) {
	a.Log(AuditEvent{
		EventType: AuditGenerateSession,
		Provider:  platform,
		Target:    path,
		Success:   true,
		Fields:    map[string]interface{}{"events": eventCount},
		Message:   fmt.Sprintf("Generated %s session: %s (%d events)", platform, path, eventCount),
	})
}

// ContextLoad logs a distilled artifact being loaded for injection.
func (a *AuditLogger) ContextLoad(path string, turnCount int, success bool) {
	a.Log(AuditEvent{
		EventType: AuditLoadContext,
		Target:    path,
		Success:   success,
		Fields:    map[string]interface{}{"turns": turnCount},
		Message:   fmt.Sprintf("Loaded distilled context: %s (%d turns)", path, turnCount),
	})
}
