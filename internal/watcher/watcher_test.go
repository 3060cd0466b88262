package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"unifiedagent/internal/scanner"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeScanner struct {
	mu       sync.Mutex
	sessions []scanner.Session
	err      error
}

func (f *fakeScanner) Scan(opts scanner.Options) ([]scanner.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]scanner.Session, len(f.sessions))
	copy(out, f.sessions)
	return out, nil
}

func (f *fakeScanner) Dirs() []string { return nil }

func (f *fakeScanner) add(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, scanner.Session{FilePath: path, ModifiedAt: time.Now()})
}

type recorder struct {
	mu    sync.Mutex
	paths []string
	errs  int
}

func (r *recorder) onNew(s scanner.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, s.FilePath)
}

func (r *recorder) onError(error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs++
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.paths))
	copy(out, r.paths)
	return out
}

func (r *recorder) errCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs
}

func TestWatcher_FirstPollSeedsSilently(t *testing.T) {
	scan := &fakeScanner{}
	scan.add("/sessions/old-1.jsonl")
	scan.add("/sessions/old-2.jsonl")

	rec := &recorder{}
	w := New(scan, Config{Interval: 10 * time.Millisecond, OnNew: rec.onNew})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	// A few poll cycles pass without any report for pre-existing files.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.seen())

	scan.add("/sessions/new.jsonl")
	require.Eventually(t, func() bool {
		seen := rec.seen()
		return len(seen) == 1 && seen[0] == "/sessions/new.jsonl"
	}, time.Second, 5*time.Millisecond)

	stats := w.Stats()
	assert.Equal(t, 3, stats.KnownFiles)
	assert.Equal(t, 1, stats.NewReported)
	assert.Equal(t, "/sessions/new.jsonl", stats.LastNewPath)
}

func TestWatcher_ReportsEachNewFileOnce(t *testing.T) {
	scan := &fakeScanner{}
	rec := &recorder{}
	w := New(scan, Config{Interval: 10 * time.Millisecond, OnNew: rec.onNew})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	scan.add("/sessions/a.jsonl")
	require.Eventually(t, func() bool { return len(rec.seen()) == 1 }, time.Second, 5*time.Millisecond)

	// The same file never repeats across later polls.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"/sessions/a.jsonl"}, rec.seen())
}

func TestWatcher_CallbackPanicKeepsLoopAlive(t *testing.T) {
	scan := &fakeScanner{}
	rec := &recorder{}
	w := New(scan, Config{
		Interval: 10 * time.Millisecond,
		OnNew: func(s scanner.Session) {
			rec.onNew(s)
			if s.FilePath == "/sessions/boom.jsonl" {
				panic("callback exploded")
			}
		},
	})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	scan.add("/sessions/boom.jsonl")
	require.Eventually(t, func() bool { return len(rec.seen()) == 1 }, time.Second, 5*time.Millisecond)

	scan.add("/sessions/after.jsonl")
	require.Eventually(t, func() bool { return len(rec.seen()) == 2 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, w.Stats().Errors, 1)
}

func TestWatcher_ScanErrorsReported(t *testing.T) {
	scan := &fakeScanner{err: errors.New("disk on fire")}
	rec := &recorder{}
	w := New(scan, Config{Interval: 10 * time.Millisecond, OnError: rec.onError})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.Eventually(t, func() bool { return rec.errCount() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestWatcher_StartIsIdempotent(t *testing.T) {
	scan := &fakeScanner{}
	scan.add("/sessions/seed.jsonl")

	rec := &recorder{}
	w := New(scan, Config{Interval: 10 * time.Millisecond, OnNew: rec.onNew})
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	assert.True(t, w.Watching())
	scan.add("/sessions/next.jsonl")
	require.Eventually(t, func() bool { return len(rec.seen()) == 1 }, time.Second, 5*time.Millisecond)

	// A second loop would have double-reported.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.seen(), 1)
}

func TestWatcher_StopClearsStateForReseed(t *testing.T) {
	scan := &fakeScanner{}
	scan.add("/sessions/existing.jsonl")

	rec := &recorder{}
	w := New(scan, Config{Interval: 10 * time.Millisecond, OnNew: rec.onNew})
	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool { return w.Stats().KnownFiles == 1 }, time.Second, 5*time.Millisecond)
	w.Stop()
	assert.False(t, w.Watching())

	// Restart seeds again: the pre-existing file stays silent.
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.seen())
}

func TestWatcher_ContextCancelStopsLoop(t *testing.T) {
	scan := &fakeScanner{}
	ctx, cancel := context.WithCancel(context.Background())
	w := New(scan, Config{Interval: 10 * time.Millisecond})
	require.NoError(t, w.Start(ctx))

	polls := func() int { return w.Stats().Polls }
	require.Eventually(t, func() bool { return polls() >= 1 }, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(30 * time.Millisecond)
	settled := polls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, polls())

	// Stop still cleans up after a context cancel.
	w.Stop()
}
