package distill

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unifiedagent/internal/chunker"
	"unifiedagent/internal/events"
)

func topicChunk(id, content string, at time.Time) chunker.Chunk {
	ev := events.Canonical(events.ParsedEvent{
		Type:      events.TypeMessage,
		Role:      events.RoleAssistant,
		Content:   content,
		Timestamp: at,
	})
	return chunker.Chunk{
		ID:        id,
		SessionID: "sess-1",
		Events:    []events.CanonicalEvent{ev},
	}
}

func sectionTopics(s *Synthesis) []string {
	topics := make([]string, len(s.Sections))
	for i, sec := range s.Sections {
		topics[i] = sec.Topic
	}
	return topics
}

func TestSynthesize_ClassifiesByKeywordHits(t *testing.T) {
	now := time.Now()
	chunks := []chunker.Chunk{
		topicChunk("arch", "the service layer talks to the pipeline component architecture", now),
		topicChunk("bug", "there is a bug: the watcher errors out, workaround below", now),
		topicChunk("plain", "hello there, nothing in particular", now),
	}

	syn := Synthesize(chunks, 0)

	// Narrative order, empty topics omitted.
	require.Equal(t, []string{TopicOverview, TopicArchitecture, TopicKnownIssues}, sectionTopics(syn))
	assert.Equal(t, "plain", syn.Sections[0].Chunks[0].ID)
	assert.Equal(t, "arch", syn.Sections[1].Chunks[0].ID)
	assert.Equal(t, "bug", syn.Sections[2].Chunks[0].ID)
	assert.Zero(t, syn.Dropped)
}

func TestSynthesize_UnmatchedContentDefaultsToOverview(t *testing.T) {
	syn := Synthesize([]chunker.Chunk{topicChunk("x", "zzz qqq", time.Now())}, 0)

	require.Len(t, syn.Sections, 1)
	assert.Equal(t, TopicOverview, syn.Sections[0].Topic)
}

func TestSynthesize_DuplicateResolvesToLaterTimestamp(t *testing.T) {
	early := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	// Same token set, so Jaccard is 1.0 regardless of word order.
	chunks := []chunker.Chunk{
		topicChunk("stale", "the deploy release uses docker and kubernetes", early),
		topicChunk("fresh", "docker and kubernetes uses the deploy release", late),
	}

	syn := Synthesize(chunks, 0)

	require.Equal(t, []string{TopicDeployment}, sectionTopics(syn))
	require.Len(t, syn.Sections[0].Chunks, 1)
	assert.Equal(t, "fresh", syn.Sections[0].Chunks[0].ID)
	assert.Equal(t, 1, syn.Dropped)
}

func TestSynthesize_DistinctContentSurvivesDedup(t *testing.T) {
	now := time.Now()
	chunks := []chunker.Chunk{
		topicChunk("a", "decision: we chose sqlite over postgres for the tradeoff", now),
		topicChunk("b", "decision: the alternative parser was rejected, decided against regex", now),
	}

	syn := Synthesize(chunks, 0)

	require.Equal(t, []string{TopicDecisions}, sectionTopics(syn))
	assert.Len(t, syn.Sections[0].Chunks, 2)
	assert.Zero(t, syn.Dropped)
}

func TestSynthesis_TurnsAlternate(t *testing.T) {
	now := time.Now()
	chunks := []chunker.Chunk{
		topicChunk("arch", "the component architecture has three layers", now),
		topicChunk("dep", "dependencies: the go.mod pins the sqlite library version", now),
	}

	turns := Synthesize(chunks, 0).Turns()

	require.Len(t, turns, 4)
	for i, turn := range turns {
		if i%2 == 0 {
			assert.Equal(t, events.RoleUser, turn.Role)
		} else {
			assert.Equal(t, events.RoleAssistant, turn.Role)
		}
	}
	assert.Equal(t, topicQuestions[TopicArchitecture], turns[0].Content)
	assert.Contains(t, turns[1].Content, "three layers")
	assert.Equal(t, topicQuestions[TopicDependencies], turns[2].Content)
	assert.Contains(t, turns[3].Content, "go.mod")
}

func TestJaccard(t *testing.T) {
	a := tokenSet("alpha beta gamma")
	b := tokenSet("beta gamma delta")
	assert.InDelta(t, 0.5, jaccard(a, b), 1e-9)

	assert.Equal(t, 1.0, jaccard(tokenSet(""), tokenSet("")))
	assert.Equal(t, 0.0, jaccard(tokenSet("alpha"), tokenSet("")))
	assert.Equal(t, 1.0, jaccard(a, a))
}

func TestClassifyTopic_PicksHighestHitCount(t *testing.T) {
	// One architecture hit, two dependency hits.
	got := classifyTopic("the module imports a library and pins a library version")
	assert.Equal(t, TopicDependencies, got)
}
