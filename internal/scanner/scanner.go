// Package scanner enumerates on-disk session files across the supported
// platforms. It walks each platform's session tree, applies caller filters
// and returns results newest first. The directory a file was found under is
// authoritative for platform attribution; content is only inspected when a
// working-directory filter demands it.
package scanner

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"unifiedagent/internal/events"
	"unifiedagent/internal/logging"
)

// Session is one discovered session file.
type Session struct {
	Platform   events.Platform `json:"platform"`
	FilePath   string          `json:"filePath"`
	FileSize   int64           `json:"fileSize"`
	ModifiedAt time.Time       `json:"modifiedAt"`
	SessionID  string          `json:"sessionId,omitempty"`
}

// Options narrow a scan. Zero values mean no filtering.
type Options struct {
	// Platforms restricts results to the listed platforms.
	Platforms []events.Platform

	// Limit caps the number of results after sorting, 0 means all.
	Limit int

	// CWD keeps only sessions attributable to the given working directory.
	// Claude sessions match via their encoded project directory; journal
	// and Codex sessions match via the cwd recorded in their first record.
	// Files carrying no working-directory evidence are excluded.
	CWD string

	// ModifiedAfter drops files not touched since the given time.
	ModifiedAfter time.Time
}

type root struct {
	platform events.Platform
	dir      string
	exts     map[string]bool
}

// Scanner walks the platform session directories.
type Scanner struct {
	roots []root
}

// New returns a scanner over the default platform locations under home plus
// this system's own journal under dataDir.
func New(home, dataDir string) *Scanner {
	jsonl := map[string]bool{".jsonl": true}
	return &Scanner{roots: []root{
		{events.PlatformClaude, filepath.Join(home, ".claude", "projects"), jsonl},
		{events.PlatformCodex, filepath.Join(home, ".codex", "sessions"), jsonl},
		{events.PlatformGemini, filepath.Join(home, ".gemini", "sessions"), map[string]bool{".json": true, ".jsonl": true}},
		{events.PlatformUnified, filepath.Join(dataDir, "sessions"), jsonl},
	}}
}

// Dirs returns the directories this scanner covers, for watchers that poll
// the same locations.
func (s *Scanner) Dirs() []string {
	dirs := make([]string, 0, len(s.roots))
	for _, r := range s.roots {
		dirs = append(dirs, r.dir)
	}
	return dirs
}

// Scan walks every covered directory and returns matching session files
// sorted by modification time descending. Missing platform directories are
// skipped, not errors.
func (s *Scanner) Scan(opts Options) ([]Session, error) {
	timer := logging.StartTimer(logging.CategoryScanner, "scan")
	defer timer.Stop()

	var out []Session
	for _, r := range s.roots {
		if !platformWanted(opts.Platforms, r.platform) {
			continue
		}
		sessions, err := s.scanRoot(r, opts)
		if err != nil {
			logging.ScannerDebug("scan %s failed: %v", r.dir, err)
			continue
		}
		out = append(out, sessions...)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModifiedAt.Equal(out[j].ModifiedAt) {
			return out[i].ModifiedAt.After(out[j].ModifiedAt)
		}
		return out[i].FilePath < out[j].FilePath
	})

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	logging.Scanner("scan found %d sessions", len(out))
	return out, nil
}

// Latest returns the most recently modified session for a platform.
func (s *Scanner) Latest(platform events.Platform) (Session, bool) {
	sessions, err := s.Scan(Options{Platforms: []events.Platform{platform}, Limit: 1})
	if err != nil || len(sessions) == 0 {
		return Session{}, false
	}
	return sessions[0], true
}

func (s *Scanner) scanRoot(r root, opts Options) ([]Session, error) {
	var out []Session
	err := filepath.WalkDir(r.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return nil // unreadable entries are skipped
		}
		if d.IsDir() {
			return nil
		}
		if !r.exts[filepath.Ext(path)] {
			return nil
		}
		// Claude writes subagent transcripts alongside the main session;
		// they duplicate content already present in the parent.
		if r.platform == events.PlatformClaude && strings.HasPrefix(d.Name(), "agent_") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !opts.ModifiedAfter.IsZero() && !info.ModTime().After(opts.ModifiedAfter) {
			return nil
		}
		if opts.CWD != "" && !matchesCWD(r.platform, path, opts.CWD) {
			return nil
		}

		out = append(out, Session{
			Platform:   r.platform,
			FilePath:   path,
			FileSize:   info.Size(),
			ModifiedAt: info.ModTime(),
			SessionID:  sessionIDFromPath(path),
		})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	return out, nil
}

func platformWanted(wanted []events.Platform, pl events.Platform) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		if w == pl {
			return true
		}
	}
	return false
}

// sessionIDFromPath derives the session id from the file name stem.
func sessionIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// EncodeProjectDir converts a working directory to Claude's project
// directory encoding, where every path separator becomes a dash.
func EncodeProjectDir(cwd string) string {
	norm := strings.ReplaceAll(cwd, "\\", "/")
	return strings.ReplaceAll(norm, "/", "-")
}

// matchesCWD decides whether a session file belongs to the given working
// directory. Claude encodes the cwd in the project directory name; journal
// and Codex files record it in their first line.
func matchesCWD(platform events.Platform, path, cwd string) bool {
	switch platform {
	case events.PlatformClaude:
		parent := filepath.Base(filepath.Dir(path))
		return parent == EncodeProjectDir(cwd)
	case events.PlatformUnified, events.PlatformCodex:
		return firstRecordCWD(path) == cwd
	default:
		return false
	}
}

// firstRecordCWD reads the opening of a session file and extracts a recorded
// working directory, if any.
func firstRecordCWD(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, 64*1024)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return ""
	}
	head := string(buf[:n])
	if i := strings.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	head = strings.TrimSpace(head)
	if !gjson.Valid(head) {
		return ""
	}
	for _, key := range []string{"cwd", "payload.cwd", "metadata.cwd"} {
		if v := gjson.Get(head, key).Str; v != "" {
			return v
		}
	}
	return ""
}
