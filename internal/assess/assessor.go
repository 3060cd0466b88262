package assess

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"unifiedagent/internal/chunker"
	"unifiedagent/internal/logging"
)

const (
	// DefaultTimeout bounds a single provider attempt.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxConcurrent is how many chunks are assessed at once.
	DefaultMaxConcurrent = 3
)

// Config controls an assessment run.
type Config struct {
	Providers      []Provider    `json:"providers"`
	Timeout        time.Duration `json:"timeout"`
	RetryOnFailure bool          `json:"retryOnFailure"`
	MaxConcurrent  int           `json:"maxConcurrent"`

	// Question switches prompts to the question-aware variant when set.
	Question string `json:"question,omitempty"`
}

// DefaultConfig returns the standard three-provider configuration.
func DefaultConfig() Config {
	return Config{
		Providers:      DefaultProviders(),
		Timeout:        DefaultTimeout,
		RetryOnFailure: true,
		MaxConcurrent:  DefaultMaxConcurrent,
	}
}

// Assessor rates chunks by fanning them out to provider CLIs and parsing the
// returned ratings. Provider failures never abort a run; they just mean
// fewer assessments for that chunk.
type Assessor struct {
	cfg    Config
	runner ProcessRunner
}

// New creates an assessor that shells out to the real provider CLIs.
func New(cfg Config) *Assessor {
	return NewWithRunner(cfg, execRunner{})
}

// NewWithRunner creates an assessor with an injected subprocess driver.
func NewWithRunner(cfg Config, runner ProcessRunner) *Assessor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = DefaultProviders()
	}
	return &Assessor{cfg: cfg, runner: runner}
}

// AssessChunk fans one chunk out to every configured provider in parallel
// and returns the assessments that succeeded, in no particular order.
func (a *Assessor) AssessChunk(ctx context.Context, ch *chunker.Chunk) []Assessment {
	question := a.cfg.Question != ""
	prompt := BuildPrompt(ch)
	if question {
		prompt = BuildQuestionPrompt(ch, a.cfg.Question)
	}

	var (
		mu      sync.Mutex
		results []Assessment
		wg      sync.WaitGroup
	)
	for _, p := range a.cfg.Providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			as, ok := a.assessWithRetry(ctx, p, ch.ID, prompt, question)
			if !ok {
				return
			}
			mu.Lock()
			results = append(results, as)
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	logging.AssessDebug("Chunk %s: %d/%d providers succeeded", ch.ID, len(results), len(a.cfg.Providers))
	return results
}

// AssessChunks rates chunks in batches of MaxConcurrent. Providers inside a
// chunk still fan out in parallel; the batch bounds chunks in flight, not
// provider processes. onProgress fires once per completed chunk.
func (a *Assessor) AssessChunks(ctx context.Context, chunks []*chunker.Chunk, onProgress func(completed, total int)) map[string][]Assessment {
	timer := logging.StartTimer(logging.CategoryAssess, "Assess chunk batch")
	defer timer.Stop()

	total := len(chunks)
	results := make(map[string][]Assessment, total)
	if total == 0 {
		return results
	}

	logging.Assess("Assessing %d chunks with %d providers (batch size %d)",
		total, len(a.cfg.Providers), a.cfg.MaxConcurrent)
	logging.Audit().AssessRun(logging.AuditAssessStart, total, 0, true)
	start := time.Now()

	var (
		mu        sync.Mutex
		completed int
	)
	for lo := 0; lo < total; lo += a.cfg.MaxConcurrent {
		hi := lo + a.cfg.MaxConcurrent
		if hi > total {
			hi = total
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, ch := range chunks[lo:hi] {
			ch := ch
			g.Go(func() error {
				assessments := a.AssessChunk(gctx, ch)
				mu.Lock()
				results[ch.ID] = assessments
				completed++
				if onProgress != nil {
					onProgress(completed, total)
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if ctx.Err() != nil {
			logging.Assess("Assessment run canceled after %d/%d chunks", completed, total)
			break
		}
	}

	logging.Audit().AssessRun(logging.AuditAssessComplete, total, time.Since(start).Milliseconds(), ctx.Err() == nil)
	return results
}

// assessWithRetry makes at most two attempts against one provider.
func (a *Assessor) assessWithRetry(ctx context.Context, p Provider, chunkID, prompt string, question bool) (Assessment, bool) {
	as, ok := a.assessOnce(ctx, p, chunkID, prompt, question)
	if ok || !a.cfg.RetryOnFailure || ctx.Err() != nil {
		return as, ok
	}
	logging.AssessDebug("Provider %s failed on chunk %s, retrying", p.Name, chunkID)
	return a.assessOnce(ctx, p, chunkID, prompt, question)
}

// assessOnce spawns the provider once. Latency spans spawn through parse.
func (a *Assessor) assessOnce(ctx context.Context, p Provider, chunkID, prompt string, question bool) (Assessment, bool) {
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	args := make([]string, 0, len(p.Args)+1)
	args = append(args, p.Args...)
	args = append(args, prompt)

	out, err := a.runner.Run(runCtx, p.Command, args...)
	if err != nil {
		elapsed := time.Since(start).Milliseconds()
		if runCtx.Err() == context.DeadlineExceeded {
			logging.Get(logging.CategoryAssess).Warn("Provider %s timed out on chunk %s after %dms", p.Name, chunkID, elapsed)
			logging.Audit().ProviderTimeout(p.Name, chunkID, elapsed)
		} else {
			logging.AssessDebug("Provider %s failed on chunk %s: %v", p.Name, chunkID, err)
			logging.Audit().ProviderCall(p.Name, chunkID, elapsed, false, err.Error())
		}
		return Assessment{}, false
	}

	rating, ok := ParseRating(out, question)
	elapsed := time.Since(start).Milliseconds()
	if !ok {
		logging.AssessDebug("Provider %s returned no parseable rating for chunk %s (%d bytes)", p.Name, chunkID, len(out))
		logging.Audit().ProviderCall(p.Name, chunkID, elapsed, false, "unparseable rating")
		return Assessment{}, false
	}

	logging.Audit().ProviderCall(p.Name, chunkID, elapsed, true, "")
	return Assessment{
		ID:        uuid.New().String(),
		ChunkID:   chunkID,
		Provider:  p.Name,
		Score:     rating.Overall(),
		Rationale: rating.Rationale,
		LatencyMs: elapsed,
		CreatedAt: time.Now().UTC(),
	}, true
}
