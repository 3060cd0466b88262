package scanner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unifiedagent/internal/events"
)

// writeSession creates a session file with a deterministic mtime.
func writeSession(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func seedSessions(t *testing.T) (home, dataDir string) {
	t.Helper()
	home = t.TempDir()
	dataDir = filepath.Join(home, ".unified-agent")
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	writeSession(t,
		filepath.Join(home, ".claude", "projects", "-work-proj", "aaa.jsonl"),
		`{"type":"user","cwd":"/work/proj","message":{"role":"user","content":"hi"}}`+"\n",
		base.Add(3*time.Hour))
	writeSession(t,
		filepath.Join(home, ".claude", "projects", "-work-proj", "agent_sub.jsonl"),
		`{"type":"user","message":{"role":"user","content":"sidechain"}}`+"\n",
		base.Add(4*time.Hour))
	writeSession(t,
		filepath.Join(home, ".claude", "projects", "-home-other", "bbb.jsonl"),
		`{"type":"user","cwd":"/home/other","message":{"role":"user","content":"hi"}}`+"\n",
		base.Add(1*time.Hour))
	writeSession(t,
		filepath.Join(home, ".codex", "sessions", "2026", "08", "20", "rollout-1.jsonl"),
		`{"type":"metadata","version":1,"cwd":"/work/proj"}`+"\n",
		base.Add(2*time.Hour))
	writeSession(t,
		filepath.Join(home, ".gemini", "sessions", "checkpoint.json"),
		`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`,
		base)
	writeSession(t,
		filepath.Join(dataDir, "sessions", "unified-1.jsonl"),
		`{"type":"user","cwd":"/work/proj","sessionId":"unified-1","message":{"role":"user","content":"hi"}}`+"\n",
		base.Add(5*time.Hour))
	return home, dataDir
}

func TestScanner_ScanAll(t *testing.T) {
	home, dataDir := seedSessions(t)
	s := New(home, dataDir)

	sessions, err := s.Scan(Options{})
	require.NoError(t, err)
	require.Len(t, sessions, 5) // agent_ file excluded

	// Newest first.
	for i := 1; i < len(sessions); i++ {
		assert.False(t, sessions[i].ModifiedAt.After(sessions[i-1].ModifiedAt),
			"results not sorted at %d", i)
	}
	assert.Equal(t, events.PlatformUnified, sessions[0].Platform)
	assert.Equal(t, "unified-1", sessions[0].SessionID)
}

func TestScanner_PlatformFilter(t *testing.T) {
	home, dataDir := seedSessions(t)
	s := New(home, dataDir)

	sessions, err := s.Scan(Options{Platforms: []events.Platform{events.PlatformClaude}})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	for _, sess := range sessions {
		assert.Equal(t, events.PlatformClaude, sess.Platform)
	}
}

func TestScanner_Limit(t *testing.T) {
	home, dataDir := seedSessions(t)
	s := New(home, dataDir)

	sessions, err := s.Scan(Options{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestScanner_CWDFilter(t *testing.T) {
	home, dataDir := seedSessions(t)
	s := New(home, dataDir)

	sessions, err := s.Scan(Options{CWD: "/work/proj"})
	require.NoError(t, err)

	var platforms []events.Platform
	for _, sess := range sessions {
		platforms = append(platforms, sess.Platform)
	}
	// Claude project dir, Codex first-record cwd and the journal match;
	// the Gemini checkpoint records no cwd and the other project is skipped.
	assert.ElementsMatch(t,
		[]events.Platform{events.PlatformClaude, events.PlatformCodex, events.PlatformUnified},
		platforms)
}

func TestScanner_ModifiedAfter(t *testing.T) {
	home, dataDir := seedSessions(t)
	s := New(home, dataDir)

	cutoff := time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC)
	sessions, err := s.Scan(Options{ModifiedAfter: cutoff})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	for _, sess := range sessions {
		assert.True(t, sess.ModifiedAt.After(cutoff))
	}
}

func TestScanner_MissingDirsAreSilent(t *testing.T) {
	home := t.TempDir() // nothing seeded
	s := New(home, filepath.Join(home, ".unified-agent"))

	sessions, err := s.Scan(Options{})
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestScanner_Latest(t *testing.T) {
	home, dataDir := seedSessions(t)
	s := New(home, dataDir)

	latest, ok := s.Latest(events.PlatformClaude)
	require.True(t, ok)
	assert.Contains(t, latest.FilePath, "aaa.jsonl")

	_, ok = New(t.TempDir(), t.TempDir()).Latest(events.PlatformClaude)
	assert.False(t, ok)
}

func TestEncodeProjectDir(t *testing.T) {
	assert.Equal(t, "-work-proj", EncodeProjectDir("/work/proj"))
	assert.Equal(t, "-home-user-dev-app", EncodeProjectDir("/home/user/dev/app"))
}
