package distill

import (
	"sort"
	"strings"
	"time"

	"unifiedagent/internal/chunker"
	"unifiedagent/internal/events"
	"unifiedagent/internal/logging"
)

// Topics form a fixed narrative order. Generators walk them in this order
// regardless of how the chunks were selected.
const (
	TopicOverview      = "overview"
	TopicArchitecture  = "architecture"
	TopicFileStructure = "file-structure"
	TopicPatterns      = "patterns"
	TopicDependencies  = "dependencies"
	TopicDeployment    = "deployment"
	TopicDecisions     = "decisions"
	TopicRecentChanges = "recent-changes"
	TopicKnownIssues   = "known-issues"
)

var topicOrder = []string{
	TopicOverview,
	TopicArchitecture,
	TopicFileStructure,
	TopicPatterns,
	TopicDependencies,
	TopicDeployment,
	TopicDecisions,
	TopicRecentChanges,
	TopicKnownIssues,
}

// topicKeywords drive classification by hit counting. A chunk lands on the
// topic whose keywords appear most often in its content.
var topicKeywords = map[string][]string{
	TopicOverview:      {"project", "goal", "purpose", "overview", "summary", "readme", "what this"},
	TopicArchitecture:  {"architecture", "component", "module", "service", "layer", "pipeline", "design", "flow"},
	TopicFileStructure: {"directory", "folder", "layout", "file structure", "tree", "path", "package structure"},
	TopicPatterns:      {"pattern", "idiom", "convention", "style", "interface", "abstraction", "approach"},
	TopicDependencies:  {"dependency", "dependencies", "import", "library", "version", "upgrade", "go.mod"},
	TopicDeployment:    {"deploy", "release", "docker", "kubernetes", "build step", "ci/cd", "environment variable"},
	TopicDecisions:     {"decision", "decided", "chose", "tradeoff", "trade-off", "instead of", "alternative"},
	TopicRecentChanges: {"change", "changed", "update", "refactor", "added", "removed", "renamed", "migrate"},
	TopicKnownIssues:   {"bug", "issue", "error", "fail", "broken", "workaround", "todo", "flaky"},
}

// topicQuestions are the templated user turns paired with each topic.
var topicQuestions = map[string]string{
	TopicOverview:      "What is this project about?",
	TopicArchitecture:  "How is the system architected?",
	TopicFileStructure: "How is the codebase laid out?",
	TopicPatterns:      "What patterns and conventions does the code follow?",
	TopicDependencies:  "What does the project depend on?",
	TopicDeployment:    "How is the project built and deployed?",
	TopicDecisions:     "What key decisions were made, and why?",
	TopicRecentChanges: "What changed recently?",
	TopicKnownIssues:   "What known issues or open problems remain?",
}

// DefaultSimilarityThreshold is the Jaccard cutoff for treating two chunks
// in the same topic as the same information.
const DefaultSimilarityThreshold = 0.6

// TopicSection groups the surviving chunks of one topic.
type TopicSection struct {
	Topic  string          `json:"topic"`
	Chunks []chunker.Chunk `json:"chunks"`
}

// Turn is one half of a synthesized Q&A pair.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Topic   string `json:"topic,omitempty"`
}

// Synthesis is the narrative form of a distilled session: topic sections in
// fixed order, empty topics omitted.
type Synthesis struct {
	Sections []TopicSection `json:"sections"`
	Dropped  int            `json:"dropped"`
}

// Synthesize classifies chunks into topics, collapses near-duplicates
// within each topic, and orders the survivors for narration. Chunks never
// mutate; duplicates resolve toward the later timestamp.
func Synthesize(chunks []chunker.Chunk, threshold float64) *Synthesis {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}

	byTopic := make(map[string][]chunker.Chunk, len(topicOrder))
	for _, ch := range chunks {
		topic := classifyTopic(ch.Content())
		byTopic[topic] = append(byTopic[topic], ch)
	}

	syn := &Synthesis{}
	for _, topic := range topicOrder {
		group := byTopic[topic]
		if len(group) == 0 {
			continue
		}
		kept, dropped := dedupeTopic(group, threshold)
		syn.Dropped += dropped
		syn.Sections = append(syn.Sections, TopicSection{Topic: topic, Chunks: kept})
	}

	logging.Distill("Synthesized %d chunks into %d topics (%d duplicates dropped)",
		len(chunks), len(syn.Sections), syn.Dropped)
	return syn
}

// Turns renders the synthesis as alternating user/assistant pairs, one pair
// per non-empty topic.
func (s *Synthesis) Turns() []Turn {
	turns := make([]Turn, 0, len(s.Sections)*2)
	for _, sec := range s.Sections {
		parts := make([]string, 0, len(sec.Chunks))
		for i := range sec.Chunks {
			if c := sec.Chunks[i].Content(); c != "" {
				parts = append(parts, c)
			}
		}
		turns = append(turns,
			Turn{Role: events.RoleUser, Content: topicQuestions[sec.Topic], Topic: sec.Topic},
			Turn{Role: events.RoleAssistant, Content: strings.Join(parts, "\n\n"), Topic: sec.Topic},
		)
	}
	return turns
}

// classifyTopic counts keyword hits per topic over the lowercased content
// and returns the best topic. No hits anywhere defaults to overview.
func classifyTopic(content string) string {
	lowered := strings.ToLower(content)
	best, bestHits := TopicOverview, 0
	for _, topic := range topicOrder {
		hits := 0
		for _, kw := range topicKeywords[topic] {
			hits += strings.Count(lowered, kw)
		}
		if hits > bestHits {
			best, bestHits = topic, hits
		}
	}
	return best
}

// dedupeTopic removes chunks whose token sets overlap at or above the
// threshold with an earlier survivor. On a collision the chunk with the
// later timestamp stays.
func dedupeTopic(group []chunker.Chunk, threshold float64) ([]chunker.Chunk, int) {
	type entry struct {
		chunk  chunker.Chunk
		tokens map[string]struct{}
		at     time.Time
	}

	kept := make([]entry, 0, len(group))
	dropped := 0
	for _, ch := range group {
		tokens := tokenSet(ch.Content())
		at := chunkTimestamp(ch)
		dup := false
		for i := range kept {
			if jaccard(tokens, kept[i].tokens) < threshold {
				continue
			}
			dup = true
			if at.After(kept[i].at) {
				kept[i] = entry{chunk: ch, tokens: tokens, at: at}
			}
			break
		}
		if dup {
			dropped++
			continue
		}
		kept = append(kept, entry{chunk: ch, tokens: tokens, at: at})
	}

	out := make([]chunker.Chunk, len(kept))
	for i := range kept {
		out[i] = kept[i].chunk
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartIndex < out[j].StartIndex
	})
	return out, dropped
}

// chunkTimestamp is the latest event timestamp inside the chunk.
func chunkTimestamp(ch chunker.Chunk) time.Time {
	var at time.Time
	for i := range ch.Events {
		if ch.Events[i].Timestamp.After(at) {
			at = ch.Events[i].Timestamp
		}
	}
	return at
}

// tokenSet lowercases and splits content into its distinct word tokens.
func tokenSet(content string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// jaccard computes |A∩B| / |A∪B|. Two empty sets count as identical.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}
