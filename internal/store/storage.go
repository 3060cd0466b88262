// Package store persists the distillation pipeline's durable state in a
// single local SQLite database: the event journal, chunks with their
// full-text index, provider assessments, scanned external sessions and the
// memory sync queue. All writes go through one owner object with a single
// connection so parallel assessment cannot deadlock the database; reads are
// unrestricted.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"unifiedagent/internal/logging"
)

// Store owns the database handle. Safe for concurrent use.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
	fts  bool
}

// Open initializes the database at path, creating directories and applying
// migrations. Opening an already-migrated database is a no-op rerun.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "open")
	defer timer.Stop()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("%s failed: %v", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("database ready at %s (fts=%v)", path, s.fts)
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// FTSAvailable reports whether the full-text index was created. When false,
// chunk search degrades to empty results.
func (s *Store) FTSAvailable() bool {
	return s.fts
}

// migrate applies the schema. Every statement is idempotent: tables and
// indexes guard with IF NOT EXISTS, added columns probe first.
func (s *Store) migrate() error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			content TEXT NOT NULL,
			events TEXT NOT NULL,
			start_index INTEGER NOT NULL,
			end_index INTEGER NOT NULL,
			importance_avg REAL NOT NULL,
			token_estimate INTEGER NOT NULL,
			consensus_score REAL,
			source TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS assessments (
			id TEXT PRIMARY KEY,
			chunk_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			score INTEGER NOT NULL,
			rationale TEXT,
			model TEXT,
			tokens_used INTEGER,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS external_sessions (
			file_path TEXT PRIMARY KEY,
			platform TEXT NOT NULL,
			session_id TEXT,
			file_size INTEGER NOT NULL DEFAULT 0,
			modified_at TEXT,
			last_scanned_at TEXT,
			ingested_at TEXT,
			event_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS _sync_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			operation TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL,
			synced_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_chunk ON events(chunk_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_session ON chunks(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_assessments_chunk ON assessments(chunk_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_pending ON _sync_queue(id) WHERE synced_at IS NULL`,
	}

	// Column additions must land before the chunk_id index references them.
	if err := s.addEventColumns(); err != nil {
		return err
	}
	for _, stmt := range ddl {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	if _, err := s.db.Exec(
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunk_fts USING fts5(chunk_id UNINDEXED, content)`,
	); err != nil {
		logging.Get(logging.CategoryStore).Warn("fts5 unavailable, chunk search disabled: %v", err)
		s.fts = false
		return nil
	}
	s.fts = true
	return nil
}

// addEventColumns upgrades the scoring columns onto the events table. The
// base table may predate distillation, so each column is probed first.
func (s *Store) addEventColumns() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		platform TEXT,
		type TEXT,
		role TEXT,
		content TEXT,
		timestamp TEXT,
		tool_name TEXT,
		tool_input TEXT,
		tool_output TEXT,
		is_error INTEGER NOT NULL DEFAULT 0,
		metadata TEXT,
		created_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	for col, typ := range map[string]string{
		"importance_score": "INTEGER",
		"chunk_id":         "TEXT",
		"consensus_score":  "REAL",
	} {
		if columnExists(s.db, "events", col) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE events ADD COLUMN %s %s", col, typ)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("adding events.%s: %w", col, err)
		}
		logging.StoreDebug("added column events.%s", col)
	}
	return nil
}

// columnExists checks for a column using PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		logging.StoreDebug("PRAGMA table_info(%s) failed: %v", table, err)
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// Stats summarizes stored state for the report command.
type Stats struct {
	Events           int     `json:"events"`
	Chunks           int     `json:"chunks"`
	AssessedChunks   int     `json:"assessedChunks"`
	Assessments      int     `json:"assessments"`
	AvgConsensus     float64 `json:"avgConsensus"`
	ExternalSessions int     `json:"externalSessions"`
	PendingSync      int     `json:"pendingSync"`
}

// Stats counts the stored entities.
func (s *Store) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	counts := []struct {
		query string
		dst   *int
	}{
		{"SELECT COUNT(*) FROM events", &st.Events},
		{"SELECT COUNT(*) FROM chunks", &st.Chunks},
		{"SELECT COUNT(*) FROM chunks WHERE consensus_score IS NOT NULL", &st.AssessedChunks},
		{"SELECT COUNT(*) FROM assessments", &st.Assessments},
		{"SELECT COUNT(*) FROM external_sessions", &st.ExternalSessions},
		{"SELECT COUNT(*) FROM _sync_queue WHERE synced_at IS NULL", &st.PendingSync},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(c.query).Scan(c.dst); err != nil {
			return st, fmt.Errorf("stats query failed: %w", err)
		}
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRow(
		"SELECT AVG(consensus_score) FROM chunks WHERE consensus_score IS NOT NULL",
	).Scan(&avg); err != nil {
		return st, fmt.Errorf("stats query failed: %w", err)
	}
	if avg.Valid {
		st.AvgConsensus = avg.Float64
	}
	return st, nil
}

// nowString is the canonical timestamp encoding for rows.
func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// parseTime reads a stored timestamp, tolerating both RFC3339 variants.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
