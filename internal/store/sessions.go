package store

import (
	"database/sql"
	"fmt"
	"time"

	"unifiedagent/internal/events"
	"unifiedagent/internal/scanner"
)

// ExternalSession is a scanned session file row keyed by path.
type ExternalSession struct {
	FilePath      string          `json:"filePath"`
	Platform      events.Platform `json:"platform"`
	SessionID     string          `json:"sessionId,omitempty"`
	FileSize      int64           `json:"fileSize"`
	ModifiedAt    time.Time       `json:"modifiedAt"`
	LastScannedAt time.Time       `json:"lastScannedAt"`
	IngestedAt    *time.Time      `json:"ingestedAt,omitempty"`
	EventCount    int             `json:"eventCount"`
}

// UpsertExternalSessions records scan results. Re-scanning refreshes size,
// mtime and scan time but preserves ingestion state.
func (s *Store) UpsertExternalSessions(sessions []scanner.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin session upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO external_sessions
		(file_path, platform, session_id, file_size, modified_at, last_scanned_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			file_size = excluded.file_size,
			modified_at = excluded.modified_at,
			last_scanned_at = excluded.last_scanned_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := nowString()
	for _, sess := range sessions {
		if _, err := stmt.Exec(sess.FilePath, string(sess.Platform), sess.SessionID,
			sess.FileSize, sess.ModifiedAt.UTC().Format(time.RFC3339Nano), now); err != nil {
			return fmt.Errorf("upsert session %s: %w", sess.FilePath, err)
		}
	}
	return tx.Commit()
}

// MarkSessionIngested records that a session file's events entered the
// pipeline.
func (s *Store) MarkSessionIngested(filePath string, eventCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE external_sessions
		SET ingested_at = ?, event_count = ? WHERE file_path = ?`,
		nowString(), eventCount, filePath)
	if err != nil {
		return fmt.Errorf("mark ingested %s: %w", filePath, err)
	}
	return nil
}

// ExternalSessions lists scanned sessions newest first.
func (s *Store) ExternalSessions(limit int) ([]ExternalSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT file_path, platform, COALESCE(session_id, ''), file_size,
		COALESCE(modified_at, ''), COALESCE(last_scanned_at, ''), ingested_at, event_count
		FROM external_sessions ORDER BY modified_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list external sessions: %w", err)
	}
	defer rows.Close()

	var out []ExternalSession
	for rows.Next() {
		var (
			sess       ExternalSession
			platform   string
			modified   string
			scanned    string
			ingestedAt sql.NullString
		)
		if err := rows.Scan(&sess.FilePath, &platform, &sess.SessionID, &sess.FileSize,
			&modified, &scanned, &ingestedAt, &sess.EventCount); err != nil {
			return nil, err
		}
		sess.Platform = events.Platform(platform)
		sess.ModifiedAt = parseTime(modified)
		sess.LastScannedAt = parseTime(scanned)
		if ingestedAt.Valid {
			t := parseTime(ingestedAt.String)
			sess.IngestedAt = &t
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
