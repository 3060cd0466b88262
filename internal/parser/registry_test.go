package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unifiedagent/internal/events"
)

func TestRegistry_ByPlatform(t *testing.T) {
	reg := NewRegistry()
	require.Len(t, reg.Parsers(), 3)

	for _, pl := range []events.Platform{events.PlatformClaude, events.PlatformCodex, events.PlatformGemini} {
		p, ok := reg.ByPlatform(pl)
		require.True(t, ok, "no parser for %s", pl)
		assert.Equal(t, pl, p.Platform())
	}

	_, ok := reg.ByPlatform(events.PlatformUnified)
	assert.False(t, ok)
}

func TestRegistry_ForFile_PathHeuristics(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		rel  string
		want events.Platform
	}{
		{".claude/projects/-work-proj/abc.jsonl", events.PlatformClaude},
		{".codex/sessions/2026/08/20/rollout.jsonl", events.PlatformCodex},
		{".gemini/tmp/3f2a/checkpoint.json", events.PlatformGemini},
	}

	reg := NewRegistry()
	for _, tc := range cases {
		path := filepath.Join(dir, filepath.FromSlash(tc.rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

		p, err := reg.ForFile(path)
		require.NoError(t, err, tc.rel)
		assert.Equal(t, tc.want, p.Platform(), tc.rel)
	}
}

func TestRegistry_ForFile_ShapeFallback(t *testing.T) {
	// A Claude-shaped file in an unrecognized location resolves by content.
	dir := t.TempDir()
	path := filepath.Join(dir, "export.jsonl")
	line := `{"type":"user","message":{"role":"user","content":"hi"},"uuid":"u1"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(line), 0o644))

	p, err := NewRegistry().ForFile(path)
	require.NoError(t, err)
	assert.Equal(t, events.PlatformClaude, p.Platform())
}

func TestRegistry_ForContent(t *testing.T) {
	reg := NewRegistry()
	cases := []struct {
		name string
		head string
		want events.Platform
	}{
		{"claude user", `{"type":"user","message":{"role":"user","content":"hi"}}`, events.PlatformClaude},
		{"claude assistant", `{"type":"assistant","message":{"role":"assistant","content":[]}}`, events.PlatformClaude},
		{"claude system", `{"type":"system","content":"compacting"}`, events.PlatformClaude},
		{"claude summary", `{"type":"summary","summary":"s"}`, events.PlatformClaude},
		{"codex item", `{"type":"item.completed","item":{}}`, events.PlatformCodex},
		{"codex metadata", `{"type":"metadata","version":1}`, events.PlatformCodex},
		{"gemini array", `[{"role":"user","parts":[{"text":"hi"}]}]`, events.PlatformGemini},
		{"gemini contents object", `{"metadata":{},"contents":[{"role":"user","parts":[]}]}`, events.PlatformGemini},
		{"gemini typed", `{"type":"message","role":"user","content":"hi"}`, events.PlatformGemini},
		{"gemini parts line", `{"role":"model","parts":[{"text":"hi"}]}`, events.PlatformGemini},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := reg.ForContent(tc.head)
			require.NoError(t, err)
			assert.Equal(t, tc.want, p.Platform())
		})
	}
}

func TestRegistry_ForContent_NoMatch(t *testing.T) {
	reg := NewRegistry()
	for _, head := range []string{"", "not json", `{"kind":"other"}`, `{"type":"user"}`} {
		_, err := reg.ForContent(head)
		assert.ErrorIs(t, err, ErrNoParser, "head=%q", head)
	}
}
