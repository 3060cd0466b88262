package scoring

import "unifiedagent/internal/events"

// Recorder persists canonical events. The session journal and the runtime
// store both satisfy it.
type Recorder interface {
	Record(ev *events.CanonicalEvent) error
}

// ScoredRecorder decorates a Recorder so every event is scored on its way
// in. Scoring is synchronous, adds only the importance score and never fails
// the underlying write.
type ScoredRecorder struct {
	next Recorder
}

// NewScoredRecorder wraps next with importance scoring.
func NewScoredRecorder(next Recorder) *ScoredRecorder {
	return &ScoredRecorder{next: next}
}

// Record scores ev unless it already carries a score, then forwards it.
func (r *ScoredRecorder) Record(ev *events.CanonicalEvent) error {
	if ev == nil {
		return nil
	}
	if ev.ImportanceScore == nil {
		ev.SetScore(ScoreEvent(&ev.ParsedEvent))
	}
	return r.next.Record(ev)
}
