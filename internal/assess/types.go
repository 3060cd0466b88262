// Package assess rates chunk importance by fanning the chunk out to the
// provider CLIs and aggregating their scores. Prompt construction, response
// parsing, the subprocess fan-out and the consensus math live here.
package assess

import "time"

// Assessment is one provider's verdict on one chunk.
type Assessment struct {
	ID         string    `json:"id"`
	ChunkID    string    `json:"chunkId"`
	Provider   string    `json:"provider"`
	Score      int       `json:"score"`
	Rationale  string    `json:"rationale"`
	Model      string    `json:"model,omitempty"`
	TokensUsed int       `json:"tokensUsed,omitempty"`
	LatencyMs  int64     `json:"latencyMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Rating is the wire schema providers must return. The generic variant
// carries relevance/signalDensity/reusability; the question-aware variant
// swaps relevance for contextValue and reusability for questionRelevance.
// Missing keys stay nil.
type Rating struct {
	Relevance         *int   `json:"relevance,omitempty"`
	SignalDensity     *int   `json:"signalDensity,omitempty"`
	Reusability       *int   `json:"reusability,omitempty"`
	QuestionRelevance *int   `json:"questionRelevance,omitempty"`
	ContextValue      *int   `json:"contextValue,omitempty"`
	OverallScore      *int   `json:"overallScore,omitempty"`
	Rationale         string `json:"rationale,omitempty"`
}

// Overall returns the rating's overall score, falling back to the mean of
// the populated axes when the provider omitted it.
func (r *Rating) Overall() int {
	if r.OverallScore != nil {
		return *r.OverallScore
	}
	sum, n := 0, 0
	for _, v := range []*int{r.Relevance, r.SignalDensity, r.Reusability, r.QuestionRelevance, r.ContextValue} {
		if v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return clampScore(sum / n)
}

func clampScore(v int) int {
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}
