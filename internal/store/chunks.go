package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"unifiedagent/internal/chunker"
	"unifiedagent/internal/logging"
)

// SaveChunks upserts chunks and refreshes their full-text index rows in one
// transaction. Re-running a build overwrites rows by id; an existing
// consensus score survives the overwrite.
func (s *Store) SaveChunks(chunks []chunker.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin chunk save: %w", err)
	}
	defer tx.Rollback()

	for i := range chunks {
		if err := s.saveChunkTx(tx, &chunks[i]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk save: %w", err)
	}
	logging.Store("saved %d chunks", len(chunks))
	return nil
}

func (s *Store) saveChunkTx(tx *sql.Tx, ch *chunker.Chunk) error {
	evs, err := json.Marshal(ch.Events)
	if err != nil {
		return fmt.Errorf("marshal chunk %s events: %w", ch.ID, err)
	}
	content := ch.Content()

	_, err = tx.Exec(`INSERT INTO chunks
		(id, session_id, content, events, start_index, end_index, importance_avg, token_estimate, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			content = excluded.content,
			events = excluded.events,
			start_index = excluded.start_index,
			end_index = excluded.end_index,
			importance_avg = excluded.importance_avg,
			token_estimate = excluded.token_estimate,
			source = excluded.source`,
		ch.ID, ch.SessionID, content, string(evs),
		ch.StartIndex, ch.EndIndex, ch.ImportanceAvg, ch.TokenEstimate,
		ch.Source, nowString())
	if err != nil {
		return fmt.Errorf("upsert chunk %s: %w", ch.ID, err)
	}

	if s.fts {
		if _, err := tx.Exec(`DELETE FROM chunk_fts WHERE chunk_id = ?`, ch.ID); err != nil {
			return fmt.Errorf("refresh fts for %s: %w", ch.ID, err)
		}
		if _, err := tx.Exec(`INSERT INTO chunk_fts (chunk_id, content) VALUES (?, ?)`, ch.ID, content); err != nil {
			return fmt.Errorf("index chunk %s: %w", ch.ID, err)
		}
	}
	return nil
}

// GetChunk loads one chunk by id.
func (s *Store) GetChunk(id string) (chunker.Chunk, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT id, session_id, events, start_index, end_index,
		importance_avg, token_estimate, source FROM chunks WHERE id = ?`, id)

	ch, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return chunker.Chunk{}, false, nil
	}
	if err != nil {
		return chunker.Chunk{}, false, err
	}
	return ch, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (chunker.Chunk, error) {
	var ch chunker.Chunk
	var evsJSON string
	if err := row.Scan(&ch.ID, &ch.SessionID, &evsJSON, &ch.StartIndex, &ch.EndIndex,
		&ch.ImportanceAvg, &ch.TokenEstimate, &ch.Source); err != nil {
		return ch, err
	}
	if err := json.Unmarshal([]byte(evsJSON), &ch.Events); err != nil {
		// A chunk whose events blob is unreadable still has usable scores
		// and indices; leave Events empty rather than failing the read.
		ch.Events = nil
	}
	return ch, nil
}

// Entry pairs a stored chunk with its consensus score for distillation.
type Entry struct {
	Chunk     chunker.Chunk
	Consensus float64
}

// ChunkEntries lists stored chunks with consensus, optionally restricted to
// the given session ids. Chunks never assessed carry consensus 0.
func (s *Store) ChunkEntries(sessionIDs []string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, session_id, events, start_index, end_index,
		importance_avg, token_estimate, source, COALESCE(consensus_score, 0)
		FROM chunks`
	var args []any
	if len(sessionIDs) > 0 {
		query += ` WHERE session_id IN (?` + strings.Repeat(",?", len(sessionIDs)-1) + `)`
		for _, id := range sessionIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY session_id, start_index`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var evsJSON string
		if err := rows.Scan(&e.Chunk.ID, &e.Chunk.SessionID, &evsJSON,
			&e.Chunk.StartIndex, &e.Chunk.EndIndex, &e.Chunk.ImportanceAvg,
			&e.Chunk.TokenEstimate, &e.Chunk.Source, &e.Consensus); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(evsJSON), &e.Chunk.Events); err != nil {
			e.Chunk.Events = nil
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetChunkConsensus records the consensus score on the chunk and cascades it
// to the journal rows tagged with the chunk.
func (s *Store) SetChunkConsensus(chunkID string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`UPDATE chunks SET consensus_score = ? WHERE id = ?`, score, chunkID); err != nil {
		return fmt.Errorf("set consensus on %s: %w", chunkID, err)
	}
	if _, err := s.db.Exec(`UPDATE events SET consensus_score = ? WHERE chunk_id = ?`, score, chunkID); err != nil {
		return fmt.Errorf("cascade consensus to events: %w", err)
	}
	return nil
}

// SearchResult is one full-text match with its stored scores.
type SearchResult struct {
	ChunkID       string
	SessionID     string
	Content       string
	StartIndex    int
	EndIndex      int
	ImportanceAvg float64
	TokenEstimate int
	Consensus     float64
}

// MatchQuery converts free text into an FTS5 OR-query: punctuation is
// stripped, terms of one or two characters are dropped, survivors are
// quoted and OR-joined. Returns "" when nothing survives.
func MatchQuery(text string) string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	var terms []string
	for _, f := range fields {
		if len(f) <= 2 {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

// SearchChunks runs a full-text query derived from the question. Returns an
// empty result when FTS is unavailable, the query yields no usable terms or
// the search itself fails; search problems never propagate.
func (s *Store) SearchChunks(question string, limit int) []SearchResult {
	if !s.fts || limit <= 0 {
		return nil
	}
	match := MatchQuery(question)
	if match == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT c.id, c.session_id, c.content, c.start_index,
		c.end_index, c.importance_avg, c.token_estimate, COALESCE(c.consensus_score, 0)
		FROM chunk_fts f JOIN chunks c ON c.id = f.chunk_id
		WHERE chunk_fts MATCH ? LIMIT ?`, match, limit)
	if err != nil {
		logging.StoreDebug("fts query %q failed: %v", match, err)
		return nil
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ChunkID, &r.SessionID, &r.Content, &r.StartIndex,
			&r.EndIndex, &r.ImportanceAvg, &r.TokenEstimate, &r.Consensus); err != nil {
			logging.StoreDebug("fts scan failed: %v", err)
			return out
		}
		out = append(out, r)
	}
	return out
}
