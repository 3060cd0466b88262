// The seed command: writes a small synthetic session file in a platform's
// native location and format, so the pipeline can be exercised end to end
// on a machine with no real agent history.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"unifiedagent/internal/journal"
	"unifiedagent/internal/scanner"
)

var seedDir string

var seedCmd = &cobra.Command{
	Use:   "seed <platform>",
	Short: "Write a synthetic session file for a platform",
	Long: `Writes a short synthetic debugging session in the platform's native
format and location (claude, codex, gemini, or unified). Use --dir to write
somewhere other than the platform's home directory.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"claude", "codex", "gemini", "unified"},
	RunE:      runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedDir, "dir", "", "Target directory (default: the platform's session directory)")

	distillCmd.AddCommand(seedCmd)
}

// seedTurn is one step of the synthetic conversation, shared across the
// platform writers.
type seedTurn struct {
	kind    string // user, assistant, tool_use, tool_result
	text    string
	tool    string
	isError bool
}

func seedScript() []seedTurn {
	return []seedTurn{
		{kind: "user", text: "The importer crashes on empty CSV rows. Can you fix internal/load/reader.go?"},
		{kind: "assistant", text: "Looking at reader.go now. The row loop indexes record[0] without checking the record length first."},
		{kind: "tool_use", tool: "shell", text: "go test ./internal/load/"},
		{kind: "tool_result", tool: "shell", text: "--- FAIL: TestReadEmptyRow (0.00s)\npanic: runtime error: index out of range [0] with length 0", isError: true},
		{kind: "assistant", text: "Confirmed. I decided to skip blank records before field access instead of padding them, because padding would hide malformed input. Patching the loop:\n\n```go\nif len(record) == 0 {\n    continue\n}\n```"},
		{kind: "tool_use", tool: "shell", text: "go test ./internal/load/"},
		{kind: "tool_result", tool: "shell", text: "ok  \tinternal/load\t0.31s"},
		{kind: "user", text: "Great. Note that choice in the changelog so we remember why blank rows are dropped."},
		{kind: "assistant", text: "Done. Added a changelog entry: blank CSV records are skipped, not padded, so malformed exports fail loudly at the field-count check instead of silently importing empty values."},
	}
}

func runSeed(cmd *cobra.Command, args []string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	cwd := effectiveCWD()

	var path string
	switch args[0] {
	case "claude":
		dir := seedDir
		if dir == "" {
			dir = filepath.Join(home, ".claude", "projects", scanner.EncodeProjectDir(cwd))
		}
		path, err = seedJournalStyle(dir, cwd)
	case "unified":
		dir := seedDir
		if dir == "" {
			dir = cfg.SessionsDir()
		}
		path, err = seedJournalStyle(dir, cwd)
	case "codex":
		dir := seedDir
		if dir == "" {
			dir = filepath.Join(home, ".codex", "sessions")
		}
		path, err = seedCodex(dir, cwd)
	case "gemini":
		dir := seedDir
		if dir == "" {
			dir = filepath.Join(home, ".gemini", "sessions")
		}
		path, err = seedGemini(dir)
	default:
		return fmt.Errorf("unknown platform %q (want claude, codex, gemini, unified)", args[0])
	}
	if err != nil {
		return fmt.Errorf("seed %s: %w", args[0], err)
	}

	fmt.Printf("🌱 Seeded %s session: %s\n", args[0], path)
	fmt.Println("Discover it with: unified-agent distill scan")
	return nil
}

// seedJournalStyle writes the script through the meta-session journal, which
// produces Claude-shaped records.
func seedJournalStyle(dir, cwd string) (string, error) {
	sess, err := journal.NewSession(journal.SessionOptions{Dir: dir, CWD: cwd})
	if err != nil {
		return "", err
	}
	for _, turn := range seedScript() {
		switch turn.kind {
		case "user":
			err = sess.User(turn.text)
		case "assistant":
			err = sess.Assistant(turn.text)
		case "tool_use":
			err = sess.ToolUse(turn.tool, turn.text)
		case "tool_result":
			err = sess.ToolResult(turn.text, turn.isError)
		}
		if err != nil {
			sess.Close()
			return "", err
		}
	}
	return sess.Path(), sess.Close()
}

// seedCodex writes the script as a Codex rollout: a metadata record followed
// by item.completed payloads.
func seedCodex(dir, cwd string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "rollout-"+uuid.New().String()+".jsonl")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	ts := time.Now().UTC().Add(-10 * time.Minute)
	stamp := func() string {
		ts = ts.Add(30 * time.Second)
		return ts.Format(time.RFC3339)
	}
	if err := enc.Encode(map[string]any{
		"type": "metadata", "timestamp": stamp(), "cwd": cwd, "id": uuid.New().String(),
	}); err != nil {
		return "", err
	}
	for _, turn := range seedScript() {
		var item map[string]any
		switch turn.kind {
		case "user":
			item = map[string]any{"item_type": "user_message", "text": turn.text}
		case "assistant":
			item = map[string]any{"item_type": "agent_message", "text": turn.text}
		case "tool_use":
			item = map[string]any{"item_type": "command_execution", "command": turn.text, "status": "completed"}
		case "tool_result":
			// Codex folds output into the preceding command record; emit it
			// as an agent message so the content survives parsing.
			item = map[string]any{"item_type": "agent_message", "text": turn.text}
		}
		rec := map[string]any{"type": "item.completed", "timestamp": stamp(), "item": item}
		if err := enc.Encode(rec); err != nil {
			return "", err
		}
	}
	usage := map[string]any{
		"type": "turn.completed", "timestamp": stamp(),
		"usage": map[string]any{"input_tokens": 2400, "output_tokens": 610},
	}
	if err := enc.Encode(usage); err != nil {
		return "", err
	}
	return path, nil
}

// seedGemini writes the script as a Gemini checkpoint: one JSON document
// wrapping a contents array.
func seedGemini(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "checkpoint-"+uuid.New().String()+".json")

	var contents []map[string]any
	for _, turn := range seedScript() {
		switch turn.kind {
		case "user":
			contents = append(contents, map[string]any{
				"role": "user", "parts": []map[string]any{{"text": turn.text}},
			})
		case "assistant":
			contents = append(contents, map[string]any{
				"role": "model", "parts": []map[string]any{{"text": turn.text}},
			})
		case "tool_use":
			contents = append(contents, map[string]any{
				"role": "model", "parts": []map[string]any{{
					"functionCall": map[string]any{
						"name": turn.tool, "args": map[string]any{"command": turn.text},
					},
				}},
			})
		case "tool_result":
			resp := map[string]any{"output": turn.text}
			if turn.isError {
				resp["error"] = turn.text
			}
			contents = append(contents, map[string]any{
				"role": "user", "parts": []map[string]any{{
					"functionResponse": map[string]any{"name": turn.tool, "response": resp},
				}},
			})
		}
	}
	doc := map[string]any{
		"metadata": map[string]any{"startTime": time.Now().UTC().Add(-10 * time.Minute).Format(time.RFC3339)},
		"contents": contents,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return path, os.WriteFile(path, data, 0o644)
}
