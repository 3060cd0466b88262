package generate

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"unifiedagent/internal/distill"
	"unifiedagent/internal/events"
	"unifiedagent/internal/logging"
)

// LoadedContext is a parsed build artifact ready for injection.
type LoadedContext struct {
	Path       string         `json:"path"`
	SessionID  string         `json:"sessionId"`
	CWD        string         `json:"cwd"`
	Turns      []distill.Turn `json:"turns"`
	TopicPairs int            `json:"topicPairs"`
}

// FindLatestBuild picks the newest build artifact in dir whose first
// record's cwd matches projectPath, falling back to the newest overall.
// No artifacts at all is an error.
func FindLatestBuild(dir, projectPath string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*-"+SlugBuild+".jsonl"))
	if err != nil {
		return "", fmt.Errorf("scan distilled artifacts: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no build artifacts under %s", dir)
	}

	type stamped struct {
		path string
		mod  int64
	}
	ordered := make([]stamped, 0, len(matches))
	for _, p := range matches {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		ordered = append(ordered, stamped{path: p, mod: info.ModTime().UnixNano()})
	}
	if len(ordered) == 0 {
		return "", fmt.Errorf("no readable build artifacts under %s", dir)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].mod > ordered[j].mod })

	if projectPath != "" {
		want := normalizePath(projectPath)
		for _, s := range ordered {
			if normalizePath(firstRecordCWD(s.path)) == want {
				return s.path, nil
			}
		}
		logging.GenerateDebug("No build artifact matches cwd %s; using latest", projectPath)
	}
	return ordered[0].path, nil
}

// Load parses a build artifact into ordered turns. A missing or unreadable
// file surfaces as an error.
func Load(path string) (*LoadedContext, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open distilled artifact: %w", err)
	}
	defer f.Close()

	lc := &LoadedContext{Path: path}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	userTurns := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if lc.SessionID == "" {
			lc.SessionID = gjson.Get(line, "sessionId").String()
		}
		if lc.CWD == "" {
			lc.CWD = gjson.Get(line, "cwd").String()
		}
		switch gjson.Get(line, "type").String() {
		case events.TypeUser:
			lc.Turns = append(lc.Turns, distill.Turn{
				Role:    events.RoleUser,
				Content: gjson.Get(line, "message.content").String(),
			})
			userTurns++
		case events.TypeAssistant:
			lc.Turns = append(lc.Turns, distill.Turn{
				Role:    events.RoleAssistant,
				Content: assistantText(line),
			})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read distilled artifact: %w", err)
	}

	// The first pair is the preamble; the rest are topic Q&A.
	if userTurns > 1 {
		lc.TopicPairs = userTurns - 1
	}

	logging.Generate("Loaded distilled context: %s (%d turns, %d topic pairs)", path, len(lc.Turns), lc.TopicPairs)
	logging.Audit().ContextLoad(path, len(lc.Turns), true)
	return lc, nil
}

// ContextBlock renders the assistant turns as a text block for assistants
// that cannot resume a session file natively.
func (lc *LoadedContext) ContextBlock() string {
	var b strings.Builder
	b.WriteString("=== DISTILLED PROJECT CONTEXT ===\n")
	for _, t := range lc.Turns {
		if t.Role != events.RoleAssistant || t.Content == "" {
			continue
		}
		b.WriteString(t.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("=== END CONTEXT ===")
	return b.String()
}

// ResumePath is the Claude injection mode: resume the artifact natively.
func (lc *LoadedContext) ResumePath() string {
	return lc.Path
}

// assistantText joins the text blocks of an assistant record's message.
func assistantText(line string) string {
	var b strings.Builder
	for _, blk := range gjson.Get(line, "message.content").Array() {
		if blk.Get("type").String() != "text" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(blk.Get("text").String())
	}
	return b.String()
}

// firstRecordCWD reads the cwd of the first record, empty on any problem.
func firstRecordCWD(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		return gjson.Get(line, "cwd").String()
	}
	return ""
}

func normalizePath(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return filepath.Clean(p)
}
