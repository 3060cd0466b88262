package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"unifiedagent/internal/assess"
)

// SaveAssessment persists one provider verdict. Assessments accumulate; a
// re-assessed chunk keeps its history.
func (s *Store) SaveAssessment(a assess.Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err := s.db.Exec(`INSERT INTO assessments
		(id, chunk_id, provider, score, rationale, model, tokens_used, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			score = excluded.score,
			rationale = excluded.rationale,
			latency_ms = excluded.latency_ms`,
		a.ID, a.ChunkID, a.Provider, a.Score, a.Rationale,
		nullableString(a.Model), a.TokensUsed, a.LatencyMs,
		created.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save assessment for %s: %w", a.ChunkID, err)
	}
	return nil
}

// Assessments returns every stored verdict for a chunk, oldest first.
func (s *Store) Assessments(chunkID string) ([]assess.Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, chunk_id, provider, score, rationale,
		COALESCE(model, ''), COALESCE(tokens_used, 0), latency_ms, created_at
		FROM assessments WHERE chunk_id = ? ORDER BY created_at, id`, chunkID)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	defer rows.Close()

	var out []assess.Assessment
	for rows.Next() {
		var a assess.Assessment
		var created string
		if err := rows.Scan(&a.ID, &a.ChunkID, &a.Provider, &a.Score, &a.Rationale,
			&a.Model, &a.TokensUsed, &a.LatencyMs, &created); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTime(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ProviderStat aggregates one provider's assessment history.
type ProviderStat struct {
	Provider     string  `json:"provider"`
	Assessments  int     `json:"assessments"`
	AvgScore     float64 `json:"avgScore"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
}

// ProviderStats summarizes assessments per provider for the report command.
func (s *Store) ProviderStats() ([]ProviderStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT provider, COUNT(*), AVG(score), AVG(latency_ms)
		FROM assessments GROUP BY provider ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("provider stats: %w", err)
	}
	defer rows.Close()

	var out []ProviderStat
	for rows.Next() {
		var st ProviderStat
		var avgScore, avgLatency sql.NullFloat64
		if err := rows.Scan(&st.Provider, &st.Assessments, &avgScore, &avgLatency); err != nil {
			return nil, err
		}
		st.AvgScore = avgScore.Float64
		st.AvgLatencyMs = avgLatency.Float64
		out = append(out, st)
	}
	return out, rows.Err()
}
