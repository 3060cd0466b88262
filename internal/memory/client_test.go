package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unifiedagent/internal/store"
)

// memoryService fakes the HTTP surface the client depends on.
type memoryService struct {
	mu           sync.Mutex
	failWrites   bool
	failText     string // writes containing this substring fail
	observations []observationRequest
	searchBody   string
	searchStatus int
}

func (m *memoryService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/context/inject", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "project context for %s", r.URL.Query().Get("project"))
	})
	mux.HandleFunc("/api/sessions/observations", func(w http.ResponseWriter, r *http.Request) {
		var body observationRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.failWrites || (m.failText != "" && strings.Contains(body.ToolResponse, m.failText)) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		m.observations = append(m.observations, body)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		status, body := m.searchStatus, m.searchBody
		m.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	})
	return mux
}

func (m *memoryService) stored() []observationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]observationRequest, len(m.observations))
	copy(out, m.observations)
	return out
}

func (m *memoryService) setFailWrites(v bool) {
	m.mu.Lock()
	m.failWrites = v
	m.mu.Unlock()
}

func newTestClient(t *testing.T) (*Client, *memoryService, *store.Store) {
	t.Helper()

	svc := &memoryService{}
	server := httptest.NewServer(svc.handler())
	t.Cleanup(server.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "distill.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	c := NewClient(st, Options{
		BaseURL:   server.URL,
		SessionID: "meta-1",
		CWD:       "/work/proj",
		Project:   "proj",
	})
	return c, svc, st
}

func TestStoreObservation_OnlineDeliversAndMarks(t *testing.T) {
	c, svc, _ := newTestClient(t)

	require.NoError(t, c.StoreObservation(context.Background(), "watcher poll interval decided at 5s"))

	obs := svc.stored()
	require.Len(t, obs, 1)
	assert.Equal(t, "meta-1", obs[0].ContentSessionID)
	assert.Equal(t, "/work/proj", obs[0].CWD)
	assert.Equal(t, "observation", obs[0].ToolName)
	assert.Equal(t, "watcher poll interval decided at 5s", obs[0].ToolResponse)

	size, err := c.SyncQueueSize()
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestStoreObservation_OfflineQueuesEverything(t *testing.T) {
	c, svc, _ := newTestClient(t)
	svc.setFailWrites(true)

	texts := []string{"first note", "second note", "third note"}
	for _, text := range texts {
		require.NoError(t, c.StoreObservation(context.Background(), text))
	}

	size, err := c.SyncQueueSize()
	require.NoError(t, err)
	assert.Equal(t, 3, size)
	assert.Empty(t, svc.stored())

	// Service comes back; the flush delivers every payload in queue order.
	svc.setFailWrites(false)
	flushed, err := c.FlushSyncQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, flushed)

	size, err = c.SyncQueueSize()
	require.NoError(t, err)
	assert.Equal(t, 0, size)

	obs := svc.stored()
	require.Len(t, obs, 3)
	for i, text := range texts {
		assert.Equal(t, text, obs[i].ToolResponse)
	}
}

func TestFlushSyncQueue_FailureDoesNotStopSweep(t *testing.T) {
	c, svc, _ := newTestClient(t)
	svc.setFailWrites(true)
	for _, text := range []string{"good one", "bad apple", "good two"} {
		require.NoError(t, c.StoreObservation(context.Background(), text))
	}

	svc.mu.Lock()
	svc.failWrites = false
	svc.failText = "bad"
	svc.mu.Unlock()

	flushed, err := c.FlushSyncQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, flushed)

	size, err := c.SyncQueueSize()
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	// The stuck entry delivers once the service accepts it.
	svc.mu.Lock()
	svc.failText = ""
	svc.mu.Unlock()
	flushed, err = c.FlushSyncQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, flushed)
}

func TestFlushSyncQueue_Empty(t *testing.T) {
	c, _, _ := newTestClient(t)

	flushed, err := c.FlushSyncQueue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, flushed)
}

func TestFlushSyncQueue_RetiresMalformedPayloads(t *testing.T) {
	c, _, st := newTestClient(t)
	_, err := st.EnqueueSync(OpStoreObservation, "{not json")
	require.NoError(t, err)

	flushed, err := c.FlushSyncQueue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, flushed)

	size, err := c.SyncQueueSize()
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestSearchAsChunks(t *testing.T) {
	c, svc, _ := newTestClient(t)
	svc.searchBody = `{"content":[
		{"type":"text","text":"decision: poll every five seconds"},
		{"type":"text","text":"the store keeps one writer"},
		{"type":"image","text":"ignored"},
		{"type":"text","text":"   "}
	]}`

	chunks := c.SearchAsChunks(context.Background(), "watcher design", 10)
	require.Len(t, chunks, 2)

	first := chunks[0]
	assert.Equal(t, SourceName, first.Source)
	assert.Equal(t, SourceName, first.SessionID)
	assert.Equal(t, 0, first.StartIndex)
	assert.Equal(t, 100.0, first.ImportanceAvg)
	assert.Equal(t, "decision: poll every five seconds", first.Content())
	assert.Equal(t, (len(first.Content())+3)/4, first.TokenEstimate)

	second := chunks[1]
	assert.Equal(t, 1, second.StartIndex)
	assert.Equal(t, 95.0, second.ImportanceAvg)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestSearchAsChunks_RespectsMax(t *testing.T) {
	c, svc, _ := newTestClient(t)
	svc.searchBody = `{"content":[
		{"type":"text","text":"one"},
		{"type":"text","text":"two"},
		{"type":"text","text":"three"}
	]}`

	chunks := c.SearchAsChunks(context.Background(), "q", 2)
	assert.Len(t, chunks, 2)
}

func TestSearchAsChunks_ErrorsReturnEmpty(t *testing.T) {
	c, svc, _ := newTestClient(t)

	svc.mu.Lock()
	svc.searchStatus = http.StatusInternalServerError
	svc.mu.Unlock()
	assert.Empty(t, c.SearchAsChunks(context.Background(), "q", 5))

	svc.mu.Lock()
	svc.searchStatus = http.StatusOK
	svc.searchBody = `{"content":[{"type":"text","text":"x"}],"isError":true}`
	svc.mu.Unlock()
	assert.Empty(t, c.SearchAsChunks(context.Background(), "q", 5))

	svc.mu.Lock()
	svc.searchBody = `not json at all`
	svc.mu.Unlock()
	assert.Empty(t, c.SearchAsChunks(context.Background(), "q", 5))
}

func TestSearchAsChunks_ServiceDown(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "distill.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	c := NewClient(st, Options{BaseURL: base})
	assert.Empty(t, c.SearchAsChunks(context.Background(), "q", 5))
	assert.False(t, c.Health(context.Background()))
	assert.Equal(t, "", c.InjectContext(context.Background(), "proj"))
}

func TestHealthAndInject(t *testing.T) {
	c, _, _ := newTestClient(t)

	assert.True(t, c.Health(context.Background()))
	assert.Equal(t, "project context for proj", c.InjectContext(context.Background(), "proj"))
}

func TestRankSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, rankSimilarity(0))
	assert.InDelta(t, 0.95, rankSimilarity(1), 1e-9)
	assert.InDelta(t, 0.05, rankSimilarity(19), 1e-9)
	assert.Equal(t, 0.05, rankSimilarity(40))
}
