package store

import (
	"database/sql"
	"fmt"
	"time"

	"unifiedagent/internal/logging"
)

// SyncEntry is one write-ahead row bound for the memory service.
type SyncEntry struct {
	ID        int64      `json:"id"`
	Operation string     `json:"operation"`
	Payload   string     `json:"payload"`
	CreatedAt time.Time  `json:"createdAt"`
	SyncedAt  *time.Time `json:"syncedAt,omitempty"`
}

// EnqueueSync appends a pending operation. The insert is local and
// synchronous so callers can treat enqueue as infallible in practice.
func (s *Store) EnqueueSync(operation, payload string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`INSERT INTO _sync_queue (operation, payload, created_at)
		VALUES (?, ?, ?)`, operation, payload, nowString())
	if err != nil {
		return 0, fmt.Errorf("enqueue sync: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	logging.MemoryDebug("queued sync op %s as entry %d", operation, id)
	return id, nil
}

// PendingSync returns unsynced entries in id order, the retry order.
func (s *Store) PendingSync(limit int) ([]SyncEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, operation, payload, created_at, synced_at
		FROM _sync_queue WHERE synced_at IS NULL ORDER BY id ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending sync: %w", err)
	}
	defer rows.Close()

	var out []SyncEntry
	for rows.Next() {
		var e SyncEntry
		var created string
		var synced sql.NullString
		if err := rows.Scan(&e.ID, &e.Operation, &e.Payload, &created, &synced); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(created)
		if synced.Valid {
			t := parseTime(synced.String)
			e.SyncedAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkSynced stamps one entry as delivered.
func (s *Store) MarkSynced(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE _sync_queue SET synced_at = ? WHERE id = ?`, nowString(), id)
	if err != nil {
		return fmt.Errorf("mark synced %d: %w", id, err)
	}
	return nil
}

// SyncQueueSize counts pending entries.
func (s *Store) SyncQueueSize() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM _sync_queue WHERE synced_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sync queue size: %w", err)
	}
	return n, nil
}
