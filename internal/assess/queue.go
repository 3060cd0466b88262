package assess

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"unifiedagent/internal/chunker"
	"unifiedagent/internal/logging"
)

// QueueStats is a point-in-time snapshot of the queue counters.
type QueueStats struct {
	Active    int `json:"active"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Queue bounds how many chunk assessments run at once. Submissions past the
// limit wait in FIFO order; each completion admits the next waiter.
type Queue struct {
	assessor *Assessor
	sem      *semaphore.Weighted

	mu    sync.Mutex
	stats QueueStats
}

// NewQueue wraps an assessor in a bounded queue. maxConcurrent <= 0 falls
// back to DefaultMaxConcurrent.
func NewQueue(assessor *Assessor, maxConcurrent int) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	logging.Queue("Assessment queue ready (max %d in flight)", maxConcurrent)
	return &Queue{
		assessor: assessor,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Submit assesses one chunk, waiting for a slot when the queue is at
// capacity. The error is non-nil only when ctx ends first. A chunk that no
// provider could rate resolves with an empty slice and counts as failed.
func (q *Queue) Submit(ctx context.Context, ch *chunker.Chunk) ([]Assessment, error) {
	q.mu.Lock()
	q.stats.Pending++
	q.mu.Unlock()

	if err := q.sem.Acquire(ctx, 1); err != nil {
		q.mu.Lock()
		q.stats.Pending--
		q.stats.Failed++
		q.mu.Unlock()
		logging.QueueDebug("Submission for chunk %s canceled while waiting: %v", ch.ID, err)
		return nil, err
	}
	defer q.sem.Release(1)

	q.mu.Lock()
	q.stats.Pending--
	q.stats.Active++
	q.mu.Unlock()

	logging.QueueDebug("Assessing chunk %s", ch.ID)
	results := q.assessor.AssessChunk(ctx, ch)

	q.mu.Lock()
	q.stats.Active--
	if ctx.Err() != nil || len(results) == 0 {
		q.stats.Failed++
	} else {
		q.stats.Completed++
	}
	q.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}
