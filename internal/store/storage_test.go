package store

import (
	"path/filepath"
	"testing"
	"time"

	"unifiedagent/internal/assess"
	"unifiedagent/internal/chunker"
	"unifiedagent/internal/events"
	"unifiedagent/internal/scanner"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testChunk(id, session, content string, start, end int) chunker.Chunk {
	ev := events.ParsedEvent{Type: events.TypeUser, Role: events.RoleUser, Content: content}
	ce := events.Canonical(ev)
	ce.SetScore(60)
	return chunker.Chunk{
		ID:            id,
		SessionID:     session,
		Events:        []events.CanonicalEvent{ce},
		StartIndex:    start,
		EndIndex:      end,
		ImportanceAvg: 60,
		TokenEstimate: events.EstimateTokens(content),
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("First open failed: %v", err)
	}
	if !s1.FTSAvailable() {
		t.Error("FTS should be available with the bundled driver")
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("Second open failed: %v", err)
	}
	defer s2.Close()

	if !columnExists(s2.db, "events", "importance_score") {
		t.Error("events.importance_score missing after reopen")
	}
	if !columnExists(s2.db, "events", "chunk_id") {
		t.Error("events.chunk_id missing after reopen")
	}
	if !columnExists(s2.db, "events", "consensus_score") {
		t.Error("events.consensus_score missing after reopen")
	}
}

func TestSaveAndGetChunk(t *testing.T) {
	s := openTestStore(t)

	ch := testChunk("c1", "s1", "the scanner walks project directories", 0, 0)
	if err := s.SaveChunks([]chunker.Chunk{ch}); err != nil {
		t.Fatalf("SaveChunks failed: %v", err)
	}

	got, ok, err := s.GetChunk("c1")
	if err != nil {
		t.Fatalf("GetChunk failed: %v", err)
	}
	if !ok {
		t.Fatal("chunk not found")
	}
	if got.SessionID != "s1" || got.TokenEstimate != ch.TokenEstimate {
		t.Errorf("chunk round-trip mismatch: %+v", got)
	}
	if len(got.Events) != 1 || got.Events[0].Content != ch.Events[0].Content {
		t.Errorf("chunk events not preserved: %+v", got.Events)
	}

	if _, ok, _ := s.GetChunk("missing"); ok {
		t.Error("GetChunk should miss for unknown id")
	}
}

func TestChunkUpsertPreservesConsensus(t *testing.T) {
	s := openTestStore(t)

	ch := testChunk("c1", "s1", "original content", 0, 0)
	if err := s.SaveChunks([]chunker.Chunk{ch}); err != nil {
		t.Fatalf("SaveChunks failed: %v", err)
	}
	if err := s.SetChunkConsensus("c1", 7.5); err != nil {
		t.Fatalf("SetChunkConsensus failed: %v", err)
	}

	// A rebuild overwrites the row by id but keeps the consensus.
	ch.Events[0].Content = "rebuilt content"
	if err := s.SaveChunks([]chunker.Chunk{ch}); err != nil {
		t.Fatalf("re-save failed: %v", err)
	}

	entries, err := s.ChunkEntries([]string{"s1"})
	if err != nil {
		t.Fatalf("ChunkEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Consensus != 7.5 {
		t.Errorf("consensus not preserved on upsert: %v", entries[0].Consensus)
	}
	if entries[0].Chunk.Events[0].Content != "rebuilt content" {
		t.Errorf("content not updated on upsert")
	}
}

func TestConsensusCascadesToEvents(t *testing.T) {
	s := openTestStore(t)

	ev := events.ParsedEvent{Type: events.TypeUser, Role: events.RoleUser, Content: "x"}
	ce := events.Canonical(ev)
	id, err := s.InsertEvent("s1", events.PlatformClaude, &ce)
	if err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}
	if err := s.TagEventChunk([]int64{id}, "c1"); err != nil {
		t.Fatalf("TagEventChunk failed: %v", err)
	}
	if err := s.SaveChunks([]chunker.Chunk{testChunk("c1", "s1", "x", 0, 0)}); err != nil {
		t.Fatalf("SaveChunks failed: %v", err)
	}
	if err := s.SetChunkConsensus("c1", 6.25); err != nil {
		t.Fatalf("SetChunkConsensus failed: %v", err)
	}

	evs, err := s.SessionEvents("s1")
	if err != nil {
		t.Fatalf("SessionEvents failed: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].ChunkID != "c1" {
		t.Errorf("chunk id not applied: %q", evs[0].ChunkID)
	}
	if evs[0].ConsensusScore == nil || *evs[0].ConsensusScore != 6.25 {
		t.Errorf("consensus not cascaded: %v", evs[0].ConsensusScore)
	}
}

func TestSearchChunks(t *testing.T) {
	s := openTestStore(t)

	chunks := []chunker.Chunk{
		testChunk("c1", "s1", "configured the file watcher to poll session directories", 0, 0),
		testChunk("c2", "s1", "database migrations add consensus columns", 1, 1),
		testChunk("c3", "s2", "unrelated discussion about lunch", 0, 0),
	}
	if err := s.SaveChunks(chunks); err != nil {
		t.Fatalf("SaveChunks failed: %v", err)
	}

	results := s.SearchChunks("how does the watcher poll directories?", 10)
	if len(results) != 1 {
		t.Fatalf("expected 1 match, got %d", len(results))
	}
	if results[0].ChunkID != "c1" {
		t.Errorf("wrong match: %s", results[0].ChunkID)
	}

	if got := s.SearchChunks("a an it", 10); len(got) != 0 {
		t.Errorf("short terms should yield no query, got %d results", len(got))
	}
	if got := s.SearchChunks("", 10); len(got) != 0 {
		t.Errorf("empty question should yield no results, got %d", len(got))
	}
	if got := s.SearchChunks("watcher", 0); got != nil {
		t.Errorf("zero limit should yield nil, got %v", got)
	}
}

func TestMatchQuery(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"how does the watcher work?", `"how" OR "does" OR "the" OR "watcher" OR "work"`},
		{"a an it", ""},
		{"", ""},
		{"fix race-condition in poll()", `"fix" OR "race" OR "condition" OR "poll"`},
	}
	for _, tc := range cases {
		if got := MatchQuery(tc.in); got != tc.want {
			t.Errorf("MatchQuery(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAssessmentsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	for i, provider := range []string{"claude", "codex"} {
		err := s.SaveAssessment(assess.Assessment{
			ChunkID:   "c1",
			Provider:  provider,
			Score:     7 + i,
			Rationale: "dense technical content",
			LatencyMs: int64(100 * (i + 1)),
		})
		if err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}
	}

	got, err := s.Assessments("c1")
	if err != nil {
		t.Fatalf("Assessments failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 assessments, got %d", len(got))
	}
	for _, a := range got {
		if a.ID == "" {
			t.Error("assessment id not assigned")
		}
		if a.CreatedAt.IsZero() {
			t.Error("createdAt not set")
		}
	}

	stats, err := s.ProviderStats()
	if err != nil {
		t.Fatalf("ProviderStats failed: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 provider rows, got %d", len(stats))
	}
	if stats[0].Provider != "claude" || stats[0].AvgScore != 7 {
		t.Errorf("unexpected provider stat: %+v", stats[0])
	}
}

func TestExternalSessions(t *testing.T) {
	s := openTestStore(t)

	mtime := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	sess := scanner.Session{
		Platform:   events.PlatformClaude,
		FilePath:   "/home/u/.claude/projects/-p/a.jsonl",
		FileSize:   100,
		ModifiedAt: mtime,
		SessionID:  "a",
	}
	if err := s.UpsertExternalSessions([]scanner.Session{sess}); err != nil {
		t.Fatalf("UpsertExternalSessions failed: %v", err)
	}
	if err := s.MarkSessionIngested(sess.FilePath, 42); err != nil {
		t.Fatalf("MarkSessionIngested failed: %v", err)
	}

	// Rescan with a newer mtime must keep the ingestion marker.
	sess.FileSize = 180
	sess.ModifiedAt = mtime.Add(time.Hour)
	if err := s.UpsertExternalSessions([]scanner.Session{sess}); err != nil {
		t.Fatalf("re-upsert failed: %v", err)
	}

	rows, err := s.ExternalSessions(0)
	if err != nil {
		t.Fatalf("ExternalSessions failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.FileSize != 180 {
		t.Errorf("size not refreshed: %d", row.FileSize)
	}
	if row.IngestedAt == nil || row.EventCount != 42 {
		t.Errorf("ingestion state lost: %+v", row)
	}
}

func TestSyncQueue(t *testing.T) {
	s := openTestStore(t)

	var ids []int64
	for _, payload := range []string{"p1", "p2", "p3"} {
		id, err := s.EnqueueSync("store_observation", payload)
		if err != nil {
			t.Fatalf("EnqueueSync failed: %v", err)
		}
		ids = append(ids, id)
	}

	n, err := s.SyncQueueSize()
	if err != nil || n != 3 {
		t.Fatalf("SyncQueueSize = %d, %v; want 3", n, err)
	}

	pending, err := s.PendingSync(0)
	if err != nil {
		t.Fatalf("PendingSync failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	for i := 1; i < len(pending); i++ {
		if pending[i].ID <= pending[i-1].ID {
			t.Error("pending entries not in id order")
		}
	}

	if err := s.MarkSynced(ids[1]); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}
	pending, _ = s.PendingSync(0)
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending after sync, got %d", len(pending))
	}
	if pending[0].Payload != "p1" || pending[1].Payload != "p3" {
		t.Errorf("wrong pending order: %+v", pending)
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)

	ev := events.ParsedEvent{Type: events.TypeUser, Role: events.RoleUser, Content: "x"}
	ce := events.Canonical(ev)
	if _, err := s.InsertEvent("s1", events.PlatformClaude, &ce); err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}
	if err := s.SaveChunks([]chunker.Chunk{testChunk("c1", "s1", "x", 0, 0)}); err != nil {
		t.Fatalf("SaveChunks failed: %v", err)
	}
	if err := s.SetChunkConsensus("c1", 8); err != nil {
		t.Fatalf("SetChunkConsensus failed: %v", err)
	}
	if _, err := s.EnqueueSync("store_observation", "{}"); err != nil {
		t.Fatalf("EnqueueSync failed: %v", err)
	}

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Events != 1 || st.Chunks != 1 || st.AssessedChunks != 1 || st.PendingSync != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if st.AvgConsensus != 8 {
		t.Errorf("avg consensus = %v, want 8", st.AvgConsensus)
	}
}
