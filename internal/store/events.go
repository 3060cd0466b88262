package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"unifiedagent/internal/events"
)

// InsertEvent appends one canonical event to the journal and returns its row
// id.
func (s *Store) InsertEvent(sessionID string, platform events.Platform, ev *events.CanonicalEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var metadata string
	if len(ev.Metadata) > 0 {
		if b, err := json.Marshal(ev.Metadata); err == nil {
			metadata = string(b)
		}
	}
	var ts string
	if !ev.Timestamp.IsZero() {
		ts = ev.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	res, err := s.db.Exec(`INSERT INTO events
		(session_id, platform, type, role, content, timestamp, tool_name, tool_input,
		 tool_output, is_error, metadata, importance_score, chunk_id, consensus_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, string(platform), ev.Type, ev.Role, ev.Content, ts,
		ev.ToolName, ev.ToolInput, ev.ToolOutput, boolToInt(ev.IsError), metadata,
		nullableInt(ev.ImportanceScore), nullableString(ev.ChunkID),
		nullableFloat(ev.ConsensusScore), nowString())
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	return res.LastInsertId()
}

// TagEventChunk stamps journal rows with the chunk they were grouped into.
func (s *Store) TagEventChunk(eventIDs []int64, chunkID string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin event tag: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE events SET chunk_id = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range eventIDs {
		if _, err := stmt.Exec(chunkID, id); err != nil {
			return fmt.Errorf("tag event %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// SessionEvents reads a session's journal back in insertion order.
func (s *Store) SessionEvents(sessionID string) ([]events.CanonicalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT type, role, content, timestamp, tool_name,
		tool_input, tool_output, is_error, metadata, importance_score, chunk_id,
		consensus_score, platform, session_id
		FROM events WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []events.CanonicalEvent
	for rows.Next() {
		var (
			ce        events.CanonicalEvent
			ts        sql.NullString
			metadata  sql.NullString
			score     sql.NullInt64
			chunkID   sql.NullString
			consensus sql.NullFloat64
			isError   int
			platform  sql.NullString
		)
		if err := rows.Scan(&ce.Type, &ce.Role, &ce.Content, &ts, &ce.ToolName,
			&ce.ToolInput, &ce.ToolOutput, &isError, &metadata, &score, &chunkID,
			&consensus, &platform, &ce.SourceSessionID); err != nil {
			return nil, err
		}
		ce.IsError = isError != 0
		if ts.Valid {
			ce.Timestamp = parseTime(ts.String)
		}
		if metadata.Valid && metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &ce.Metadata)
		}
		if score.Valid {
			ce.SetScore(int(score.Int64))
		}
		if chunkID.Valid {
			ce.ChunkID = chunkID.String
		}
		if consensus.Valid {
			v := consensus.Float64
			ce.ConsensusScore = &v
		}
		if platform.Valid {
			ce.SourcePlatform = events.Platform(platform.String)
		}
		out = append(out, ce)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
