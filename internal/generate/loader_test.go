package generate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifact(t *testing.T, dir, name, cwd string, mod time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	line := `{"type":"user","sessionId":"s-` + name + `","cwd":"` + cwd + `","message":{"role":"user","content":"hi"}}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(line), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
	return path
}

func TestFindLatestBuild_PrefersCWDMatch(t *testing.T) {
	dir := t.TempDir()
	older := writeArtifact(t, dir, "2026-03-01T10-00-00-build.jsonl", "/proj/a", time.Now().Add(-2*time.Hour))
	newer := writeArtifact(t, dir, "2026-03-01T11-00-00-build.jsonl", "/proj/b", time.Now().Add(-time.Hour))

	got, err := FindLatestBuild(dir, "/proj/a")
	require.NoError(t, err)
	assert.Equal(t, older, got)

	// No cwd match falls back to the newest artifact.
	got, err = FindLatestBuild(dir, "/proj/elsewhere")
	require.NoError(t, err)
	assert.Equal(t, newer, got)

	// No filter also takes the newest.
	got, err = FindLatestBuild(dir, "")
	require.NoError(t, err)
	assert.Equal(t, newer, got)
}

func TestFindLatestBuild_PicksNewestAmongMatches(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "2026-03-01T10-00-00-build.jsonl", "/proj/a", time.Now().Add(-2*time.Hour))
	newest := writeArtifact(t, dir, "2026-03-02T10-00-00-build.jsonl", "/proj/a", time.Now().Add(-time.Minute))

	got, err := FindLatestBuild(dir, "/proj/a")
	require.NoError(t, err)
	assert.Equal(t, newest, got)
}

func TestFindLatestBuild_EmptyDirErrors(t *testing.T) {
	_, err := FindLatestBuild(t.TempDir(), "/proj/a")
	require.Error(t, err)
}

func TestFindLatestBuild_IgnoresOtherArtifacts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2026-03-01T10-00-00-summary.jsonl"), []byte("{}\n"), 0o644))

	_, err := FindLatestBuild(dir, "")
	require.Error(t, err)
}

func TestLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx-build.jsonl")
	_, err := WriteConversation(testDistilled(), path, Options{SessionID: "round-1", CWD: "/proj/rt", Seed: 11})
	require.NoError(t, err)

	lc, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, lc.Path)
	assert.Equal(t, "round-1", lc.SessionID)
	assert.Equal(t, "/proj/rt", lc.CWD)
	require.Len(t, lc.Turns, 6)
	assert.Equal(t, 2, lc.TopicPairs)
	assert.Equal(t, preamblePrompt, lc.Turns[0].Content)
	assert.Contains(t, lc.Turns[1].Content, "Distilled context")
	assert.Equal(t, path, lc.ResumePath())
}

func TestLoad_MissingFileSurfaces(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent-build.jsonl"))
	require.Error(t, err)
}

func TestLoad_SeededWritesAreReproducible(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a-build.jsonl")
	second := filepath.Join(dir, "b-build.jsonl")
	opts := Options{SessionID: "det-1", CWD: "/proj/det", Seed: 7}
	_, err := WriteConversation(testDistilled(), first, opts)
	require.NoError(t, err)
	_, err = WriteConversation(testDistilled(), second, opts)
	require.NoError(t, err)

	a, err := Load(first)
	require.NoError(t, err)
	b, err := Load(second)
	require.NoError(t, err)

	if diff := cmp.Diff(a.Turns, b.Turns); diff != "" {
		t.Errorf("same seed produced different turns (-first +second):\n%s", diff)
	}
	assert.Equal(t, a.TopicPairs, b.TopicPairs)
}

func TestContextBlock_AssistantTurnsOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx-build.jsonl")
	_, err := WriteConversation(testDistilled(), path, Options{Seed: 5})
	require.NoError(t, err)

	lc, err := Load(path)
	require.NoError(t, err)

	block := lc.ContextBlock()
	assert.True(t, strings.HasPrefix(block, "=== DISTILLED PROJECT CONTEXT ===\n"))
	assert.True(t, strings.HasSuffix(block, "=== END CONTEXT ==="))
	assert.Contains(t, block, "three layers")
	assert.Contains(t, block, "go.mod")
	assert.NotContains(t, block, preamblePrompt)
}
