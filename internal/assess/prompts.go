package assess

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/tidwall/gjson"

	"unifiedagent/internal/chunker"
)

// BuildPrompt renders the generic assessment prompt: a header, the chunk's
// events labeled by role and tool, the rating rubric and a literal JSON
// schema the provider must answer with.
func BuildPrompt(ch *chunker.Chunk) string {
	var b strings.Builder
	b.WriteString("You are rating an excerpt from a coding assistant session for long-term reuse.\n")
	b.WriteString("Judge only the excerpt below.\n\n")
	b.WriteString(formatEvents(ch))
	b.WriteString("\n\nRate the excerpt on each axis as an integer from 1 (worthless) to 10 (essential):\n")
	b.WriteString("- relevance: how much this matters to the project the session worked on\n")
	b.WriteString("- signalDensity: how much durable information it carries per line\n")
	b.WriteString("- reusability: how useful it would be in a future session on the same project\n\n")
	b.WriteString("Respond with a single JSON object and nothing else:\n")
	b.WriteString(`{"relevance": 1, "signalDensity": 1, "reusability": 1, "overallScore": 1, "rationale": "one sentence"}`)
	return b.String()
}

// BuildQuestionPrompt renders the question-aware variant: the header names
// the user's question and the rubric swaps relevance and reusability for
// contextValue and questionRelevance.
func BuildQuestionPrompt(ch *chunker.Chunk, question string) string {
	var b strings.Builder
	b.WriteString("You are rating an excerpt from a coding assistant session against a user question.\n")
	fmt.Fprintf(&b, "The question: %s\n", question)
	b.WriteString("Judge only the excerpt below.\n\n")
	b.WriteString(formatEvents(ch))
	b.WriteString("\n\nRate the excerpt on each axis as an integer from 1 (worthless) to 10 (essential):\n")
	b.WriteString("- contextValue: how much background it contributes toward answering the question\n")
	b.WriteString("- signalDensity: how much durable information it carries per line\n")
	b.WriteString("- questionRelevance: how directly it bears on the question\n\n")
	b.WriteString("Respond with a single JSON object and nothing else:\n")
	b.WriteString(`{"contextValue": 1, "signalDensity": 1, "questionRelevance": 1, "overallScore": 1, "rationale": "one sentence"}`)
	return b.String()
}

// formatEvents dumps the chunk's events with role and tool labels, separated
// by --- markers.
func formatEvents(ch *chunker.Chunk) string {
	var parts []string
	for i := range ch.Events {
		ev := &ch.Events[i]
		label := ev.Role
		if label == "" {
			label = ev.Type
		}
		if label == "" {
			label = "event"
		}

		var line strings.Builder
		if ev.ToolName != "" {
			fmt.Fprintf(&line, "[%s:%s]", label, ev.ToolName)
		} else {
			fmt.Fprintf(&line, "[%s]", label)
		}
		if ev.Content != "" {
			line.WriteString(" ")
			line.WriteString(ev.Content)
		}
		if ev.ToolOutput != "" && ev.ToolOutput != ev.Content {
			line.WriteString("\n[output] ")
			line.WriteString(ev.ToolOutput)
		}
		if ev.IsError {
			line.WriteString("\n[error]")
		}
		parts = append(parts, line.String())
	}
	return strings.Join(parts, "\n---\n")
}

// wireRating tolerates fractional scores; they are rounded before clamping.
type wireRating struct {
	Relevance         *float64 `json:"relevance"`
	SignalDensity     *float64 `json:"signalDensity"`
	Reusability       *float64 `json:"reusability"`
	QuestionRelevance *float64 `json:"questionRelevance"`
	ContextValue      *float64 `json:"contextValue"`
	OverallScore      *float64 `json:"overallScore"`
	Rationale         string   `json:"rationale"`
}

// ParseRating extracts a rating from provider output. Tried in order: the
// trimmed output as bare JSON, the first fenced code block, and the first
// embedded JSON object carrying the variant's schema key. Returns false when
// no candidate validates; it never panics on malformed output.
func ParseRating(output string, question bool) (*Rating, bool) {
	key := "relevance"
	if question {
		key = "questionRelevance"
	}

	trimmed := strings.TrimSpace(output)
	candidates := []string{trimmed}
	if block, ok := fencedBlock(trimmed); ok {
		candidates = append(candidates, block)
	}
	if obj, ok := embeddedObject(trimmed, key); ok {
		candidates = append(candidates, obj)
	}
	// The generic key also appears in question-mode fallbacks some
	// providers produce.
	if question {
		if obj, ok := embeddedObject(trimmed, "relevance"); ok {
			candidates = append(candidates, obj)
		}
	}

	for _, cand := range candidates {
		if r, ok := parseCandidate(cand); ok {
			return r, true
		}
	}
	return nil, false
}

func parseCandidate(cand string) (*Rating, bool) {
	if cand == "" || !strings.HasPrefix(cand, "{") {
		return nil, false
	}
	var w wireRating
	if err := json.Unmarshal([]byte(cand), &w); err != nil {
		return nil, false
	}

	r := &Rating{
		Relevance:         roundClamp(w.Relevance),
		SignalDensity:     roundClamp(w.SignalDensity),
		Reusability:       roundClamp(w.Reusability),
		QuestionRelevance: roundClamp(w.QuestionRelevance),
		ContextValue:      roundClamp(w.ContextValue),
		OverallScore:      roundClamp(w.OverallScore),
		Rationale:         w.Rationale,
	}
	if r.Relevance == nil && r.SignalDensity == nil && r.Reusability == nil &&
		r.QuestionRelevance == nil && r.ContextValue == nil && r.OverallScore == nil {
		return nil, false
	}
	return r, true
}

func roundClamp(v *float64) *int {
	if v == nil {
		return nil
	}
	n := clampScore(int(math.Round(*v)))
	return &n
}

// fencedBlock returns the body of the first ``` fence, skipping an optional
// language label on the opening line.
func fencedBlock(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// embeddedObject finds the first complete JSON object in s that carries the
// given key.
func embeddedObject(s, key string) (string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		cand := string(raw)
		if gjson.Get(cand, key).Exists() {
			return cand, true
		}
	}
	return "", false
}
