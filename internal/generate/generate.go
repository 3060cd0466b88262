// Package generate renders distilled sessions as replayable artifacts, one
// format per target assistant, and loads them back for context injection.
package generate

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"unifiedagent/internal/distill"
)

// Artifact slugs. The loader keys on the build slug.
const (
	SlugBuild   = "build"
	SlugSummary = "summary"
	SlugCodex   = "codex"
	SlugGemini  = "gemini"
)

// DefaultModel is stamped on generated assistant records.
const DefaultModel = "claude-sonnet-4-20250514"

// DefaultVersion marks the writer version on conversation records.
const DefaultVersion = "1.0.0"

// Options parameterize generation. The zero value is usable: identifiers
// and timestamps are derived from the distilled session.
type Options struct {
	// SessionID is shared by every record of a conversation artifact.
	// Random when empty.
	SessionID string

	// CWD is the project directory recorded on each record; the loader
	// matches on it. Defaults to the process working directory.
	CWD string

	Version   string
	GitBranch string
	Model     string

	// BaseTime anchors the first record's timestamp. Defaults to the
	// session's DistilledAt, then to now.
	BaseTime time.Time

	// BypassSynthesis emits one Q&A pair per chunk instead of per topic.
	BypassSynthesis bool

	// Seed fixes the timestamp jitter. Zero seeds from the clock.
	Seed int64
}

func (o Options) withDefaults(d *distill.DistilledSession) Options {
	if o.SessionID == "" {
		o.SessionID = uuid.New().String()
	}
	if o.CWD == "" {
		if wd, err := os.Getwd(); err == nil {
			o.CWD = wd
		}
	}
	if o.Version == "" {
		o.Version = DefaultVersion
	}
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.BaseTime.IsZero() {
		o.BaseTime = d.DistilledAt
	}
	if o.BaseTime.IsZero() {
		o.BaseTime = time.Now().UTC()
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	return o
}

// ArtifactPath names an artifact inside dir: 2026-03-01T15-04-05-build.jsonl.
func ArtifactPath(dir, slug, ext string, at time.Time) string {
	name := at.UTC().Format("2006-01-02T15-04-05") + "-" + slug + "." + ext
	return filepath.Join(dir, name)
}

// writeJSONLines writes one JSON document per line, creating parent
// directories as needed. Any I/O failure surfaces to the caller.
func writeJSONLines(path string, records []any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// chunkMetadata is the per-chunk annotation shared by the summary and codex
// formats.
type chunkMetadata struct {
	ChunkID       string  `json:"chunkId"`
	SessionID     string  `json:"sessionId"`
	StartIndex    int     `json:"startIndex"`
	EndIndex      int     `json:"endIndex"`
	ImportanceAvg float64 `json:"importanceAvg"`
	TokenEstimate int     `json:"tokenEstimate"`
}
