package assess

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"unifiedagent/internal/chunker"
	"unifiedagent/internal/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const goodRating = `{"relevance": 7, "signalDensity": 6, "reusability": 8, "overallScore": 7, "rationale": "useful"}`

type fakeCall struct {
	Name string
	Args []string
}

// fakeRunner records every invocation and delegates to RunFunc.
type fakeRunner struct {
	RunFunc func(ctx context.Context, name string, args ...string) (string, error)

	mu    sync.Mutex
	calls []fakeCall
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{Name: name, Args: append([]string(nil), args...)})
	f.mu.Unlock()
	return f.RunFunc(ctx, name, args...)
}

func (f *fakeRunner) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Name == name {
			n++
		}
	}
	return n
}

func testChunk(id string) *chunker.Chunk {
	ev := events.Canonical(events.ParsedEvent{
		Type:    events.TypeUser,
		Role:    events.RoleUser,
		Content: "please fix the flaky watcher test",
	})
	return &chunker.Chunk{ID: id, SessionID: "sess-1", Events: []events.CanonicalEvent{ev}}
}

func TestAssessChunk_AllProviders(t *testing.T) {
	scores := map[string]string{
		"claude": `{"relevance": 8, "signalDensity": 8, "reusability": 8, "overallScore": 8}`,
		"codex":  `{"relevance": 5, "signalDensity": 5, "reusability": 5, "overallScore": 5}`,
		"gemini": `{"relevance": 9, "signalDensity": 9, "reusability": 9, "overallScore": 9}`,
	}
	runner := &fakeRunner{
		RunFunc: func(ctx context.Context, name string, args ...string) (string, error) {
			return scores[name], nil
		},
	}
	a := NewWithRunner(DefaultConfig(), runner)

	got := a.AssessChunk(context.Background(), testChunk("c-1"))
	require.Len(t, got, 3)

	byProvider := map[string]Assessment{}
	seen := map[string]bool{}
	for _, as := range got {
		assert.Equal(t, "c-1", as.ChunkID)
		assert.NotEmpty(t, as.ID)
		assert.False(t, seen[as.ID], "assessment ids must be unique")
		seen[as.ID] = true
		assert.GreaterOrEqual(t, as.LatencyMs, int64(0))
		byProvider[as.Provider] = as
	}
	assert.Equal(t, 8, byProvider["claude"].Score)
	assert.Equal(t, 5, byProvider["codex"].Score)
	assert.Equal(t, 9, byProvider["gemini"].Score)
}

func TestAssessChunk_PromptIsFinalArg(t *testing.T) {
	runner := &fakeRunner{
		RunFunc: func(ctx context.Context, name string, args ...string) (string, error) {
			return goodRating, nil
		},
	}
	cfg := DefaultConfig()
	cfg.Providers = []Provider{builtinProviders["claude"]}
	a := NewWithRunner(cfg, runner)

	a.AssessChunk(context.Background(), testChunk("c-1"))

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "claude", call.Name)
	require.Len(t, call.Args, 3)
	assert.Equal(t, "-p", call.Args[0])
	assert.Equal(t, "--dangerously-skip-permissions", call.Args[1])
	prompt := call.Args[2]
	assert.Contains(t, prompt, "please fix the flaky watcher test")
	assert.Contains(t, prompt, "relevance")
}

func TestAssessChunk_QuestionPrompt(t *testing.T) {
	runner := &fakeRunner{
		RunFunc: func(ctx context.Context, name string, args ...string) (string, error) {
			return `{"contextValue": 6, "signalDensity": 6, "questionRelevance": 7}`, nil
		},
	}
	cfg := DefaultConfig()
	cfg.Providers = []Provider{builtinProviders["gemini"]}
	cfg.Question = "where is retry handled?"
	a := NewWithRunner(cfg, runner)

	got := a.AssessChunk(context.Background(), testChunk("c-1"))
	require.Len(t, got, 1)

	prompt := runner.calls[0].Args[len(runner.calls[0].Args)-1]
	assert.Contains(t, prompt, "where is retry handled?")
	assert.Contains(t, prompt, "questionRelevance")
}

func TestAssessChunk_FailedProviderDropped(t *testing.T) {
	runner := &fakeRunner{
		RunFunc: func(ctx context.Context, name string, args ...string) (string, error) {
			if name == "codex" {
				return "", assert.AnError
			}
			return goodRating, nil
		},
	}
	a := NewWithRunner(DefaultConfig(), runner)

	got := a.AssessChunk(context.Background(), testChunk("c-1"))
	require.Len(t, got, 2)
	for _, as := range got {
		assert.NotEqual(t, "codex", as.Provider)
	}
	// One retry after the initial failure.
	assert.Equal(t, 2, runner.callCount("codex"))
	assert.Equal(t, 1, runner.callCount("claude"))
}

func TestAssessChunk_RetryRecovers(t *testing.T) {
	var attempts atomic.Int32
	runner := &fakeRunner{
		RunFunc: func(ctx context.Context, name string, args ...string) (string, error) {
			if attempts.Add(1) == 1 {
				return "", assert.AnError
			}
			return goodRating, nil
		},
	}
	cfg := DefaultConfig()
	cfg.Providers = []Provider{builtinProviders["claude"]}
	a := NewWithRunner(cfg, runner)

	got := a.AssessChunk(context.Background(), testChunk("c-1"))
	require.Len(t, got, 1)
	assert.Equal(t, 7, got[0].Score)
	assert.Equal(t, 2, runner.callCount("claude"))
}

func TestAssessChunk_NoRetryWhenDisabled(t *testing.T) {
	runner := &fakeRunner{
		RunFunc: func(ctx context.Context, name string, args ...string) (string, error) {
			return "", assert.AnError
		},
	}
	cfg := DefaultConfig()
	cfg.Providers = []Provider{builtinProviders["claude"]}
	cfg.RetryOnFailure = false
	a := NewWithRunner(cfg, runner)

	got := a.AssessChunk(context.Background(), testChunk("c-1"))
	assert.Empty(t, got)
	assert.Equal(t, 1, runner.callCount("claude"))
}

func TestAssessChunk_UnparseableOutputIsFailure(t *testing.T) {
	runner := &fakeRunner{
		RunFunc: func(ctx context.Context, name string, args ...string) (string, error) {
			return "I refuse to answer in JSON.", nil
		},
	}
	cfg := DefaultConfig()
	cfg.Providers = []Provider{builtinProviders["claude"]}
	a := NewWithRunner(cfg, runner)

	got := a.AssessChunk(context.Background(), testChunk("c-1"))
	assert.Empty(t, got)
	assert.Equal(t, 2, runner.callCount("claude"))
}

func TestAssessChunk_TimeoutKillsProvider(t *testing.T) {
	runner := &fakeRunner{
		RunFunc: func(ctx context.Context, name string, args ...string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	cfg := DefaultConfig()
	cfg.Providers = []Provider{builtinProviders["claude"]}
	cfg.Timeout = 25 * time.Millisecond
	cfg.RetryOnFailure = false
	a := NewWithRunner(cfg, runner)

	start := time.Now()
	got := a.AssessChunk(context.Background(), testChunk("c-1"))
	assert.Empty(t, got)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAssessChunks_BatchesAndProgress(t *testing.T) {
	runner := &fakeRunner{
		RunFunc: func(ctx context.Context, name string, args ...string) (string, error) {
			time.Sleep(2 * time.Millisecond)
			return goodRating, nil
		},
	}
	cfg := DefaultConfig()
	cfg.Providers = []Provider{builtinProviders["claude"]}
	cfg.MaxConcurrent = 2
	a := NewWithRunner(cfg, runner)

	chunks := []*chunker.Chunk{
		testChunk("c-1"), testChunk("c-2"), testChunk("c-3"), testChunk("c-4"), testChunk("c-5"),
	}

	var mu sync.Mutex
	var progress [][2]int
	got := a.AssessChunks(context.Background(), chunks, func(completed, total int) {
		mu.Lock()
		progress = append(progress, [2]int{completed, total})
		mu.Unlock()
	})

	require.Len(t, got, 5)
	for _, ch := range chunks {
		assert.Len(t, got[ch.ID], 1, "chunk %s", ch.ID)
	}

	require.Len(t, progress, 5)
	for i, p := range progress {
		assert.Equal(t, i+1, p[0])
		assert.Equal(t, 5, p[1])
	}
}

func TestAssessChunks_BoundsChunksInFlight(t *testing.T) {
	var inFlight, peak atomic.Int32
	runner := &fakeRunner{
		RunFunc: func(ctx context.Context, name string, args ...string) (string, error) {
			n := inFlight.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return goodRating, nil
		},
	}
	cfg := DefaultConfig()
	cfg.Providers = []Provider{builtinProviders["claude"]}
	cfg.MaxConcurrent = 2
	a := NewWithRunner(cfg, runner)

	chunks := []*chunker.Chunk{
		testChunk("c-1"), testChunk("c-2"), testChunk("c-3"),
		testChunk("c-4"), testChunk("c-5"), testChunk("c-6"),
	}
	a.AssessChunks(context.Background(), chunks, nil)

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestAssessChunks_Empty(t *testing.T) {
	a := NewWithRunner(DefaultConfig(), &fakeRunner{
		RunFunc: func(ctx context.Context, name string, args ...string) (string, error) {
			t.Error("runner should not be called")
			return "", nil
		},
	})

	called := false
	got := a.AssessChunks(context.Background(), nil, func(int, int) { called = true })
	assert.Empty(t, got)
	assert.False(t, called)
}

func TestAssessChunks_CanceledContextStopsBatches(t *testing.T) {
	runner := &fakeRunner{
		RunFunc: func(ctx context.Context, name string, args ...string) (string, error) {
			return "", ctx.Err()
		},
	}
	cfg := DefaultConfig()
	cfg.Providers = []Provider{builtinProviders["claude"]}
	cfg.MaxConcurrent = 2
	cfg.RetryOnFailure = false
	a := NewWithRunner(cfg, runner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chunks := []*chunker.Chunk{testChunk("c-1"), testChunk("c-2"), testChunk("c-3"), testChunk("c-4")}
	got := a.AssessChunks(ctx, chunks, nil)

	// Only the first batch runs before the cancellation is observed.
	assert.Len(t, got, 2)
	for id, assessments := range got {
		assert.Empty(t, assessments, "chunk %s", id)
	}
}

func TestNewWithRunner_Defaults(t *testing.T) {
	a := NewWithRunner(Config{}, &fakeRunner{})
	assert.Equal(t, DefaultTimeout, a.cfg.Timeout)
	assert.Equal(t, DefaultMaxConcurrent, a.cfg.MaxConcurrent)
	assert.Len(t, a.cfg.Providers, 3)
}

func TestResolveProviders(t *testing.T) {
	all, err := ResolveProviders(nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "claude", all[0].Name)

	some, err := ResolveProviders([]string{"gemini", "Claude"})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "gemini", some[0].Name)
	assert.Equal(t, "claude", some[1].Name)

	_, err = ResolveProviders([]string{"copilot"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "copilot"))
}
