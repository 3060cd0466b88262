// Package memory wraps the external semantic-memory HTTP service. Writes are
// journaled to the local sync queue before the network is touched, so an
// offline service never blocks or loses work; reads degrade to empty results.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"unifiedagent/internal/chunker"
	"unifiedagent/internal/events"
	"unifiedagent/internal/logging"
	"unifiedagent/internal/store"
)

const (
	// DefaultBaseURL is where the memory service listens locally.
	DefaultBaseURL = "http://127.0.0.1:37777"

	// DefaultSearchLimit caps SearchAsChunks results.
	DefaultSearchLimit = 20

	// SourceName tags synthetic chunks built from memory search hits.
	SourceName = "claudemem"

	// OpStoreObservation is the sync queue operation for observation writes.
	OpStoreObservation = "store_observation"
)

// Client talks to the memory service on behalf of one meta-session.
type Client struct {
	baseURL   string
	sessionID string
	cwd       string
	project   string
	http      *http.Client
	store     *store.Store
	limiter   *rate.Limiter
}

// Options configure the client. Zero values select defaults.
type Options struct {
	BaseURL   string
	SessionID string
	CWD       string
	Project   string
	Timeout   time.Duration
}

// NewClient builds a memory client backed by the given store's sync queue.
func NewClient(st *store.Store, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		sessionID: opts.SessionID,
		cwd:       opts.CWD,
		project:   opts.Project,
		http:      &http.Client{Timeout: opts.Timeout},
		store:     st,
		limiter:   rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
}

// Health reports whether the service answers its health endpoint.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		logging.MemoryDebug("health check failed: %v", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// InjectContext fetches the service's rendered context block for a project.
// Returns "" when the service is unreachable or errors.
func (c *Client) InjectContext(ctx context.Context, project string) string {
	q := url.Values{}
	q.Set("project", project)
	q.Set("colors", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/context/inject?"+q.Encode(), nil)
	if err != nil {
		return ""
	}
	resp, err := c.http.Do(req)
	if err != nil {
		logging.MemoryDebug("context inject failed: %v", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return ""
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}
	return string(body)
}

// queuedObservation is the sync queue payload for one observation.
type queuedObservation struct {
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

// observationRequest is the service's observation wire shape.
type observationRequest struct {
	ContentSessionID string `json:"contentSessionId"`
	CWD              string `json:"cwd"`
	ToolName         string `json:"tool_name"`
	ToolInput        string `json:"tool_input"`
	ToolResponse     string `json:"tool_response"`
}

// StoreObservation journals the text locally, then attempts delivery. The
// only error surface is the local queue write; network failures leave the
// entry pending for the next flush.
func (c *Client) StoreObservation(ctx context.Context, text string) error {
	payload, err := json.Marshal(queuedObservation{Text: text, TS: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	id, err := c.store.EnqueueSync(OpStoreObservation, string(payload))
	if err != nil {
		return err
	}

	if err := c.postObservation(ctx, text); err != nil {
		logging.MemoryDebug("observation %d stays queued: %v", id, err)
		return nil
	}
	if err := c.store.MarkSynced(id); err != nil {
		logging.Get(logging.CategoryMemory).Warn("observation %d delivered but not marked synced: %v", id, err)
	}
	return nil
}

// QueueObservation journals the text locally without attempting delivery.
// Hot paths that must never wait on the network use this; the background
// sync loop or the next explicit flush delivers the entry.
func (c *Client) QueueObservation(text string) error {
	payload, err := json.Marshal(queuedObservation{Text: text, TS: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	_, err = c.store.EnqueueSync(OpStoreObservation, string(payload))
	return err
}

// FlushSyncQueue retries every pending entry in id order. Entries that fail
// again stay queued; one bad row never stops the sweep. Pending rows are
// read up front so no database handle is held across network waits. Returns
// the number of entries delivered.
func (c *Client) FlushSyncQueue(ctx context.Context) (int, error) {
	pending, err := c.store.PendingSync(0)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	logging.Memory("Flushing %d pending memory operation(s)", len(pending))
	flushed := 0
	for _, entry := range pending {
		if err := c.limiter.Wait(ctx); err != nil {
			return flushed, err
		}

		var obs queuedObservation
		if err := json.Unmarshal([]byte(entry.Payload), &obs); err != nil {
			// A malformed payload can never deliver; retire it.
			logging.Get(logging.CategoryMemory).Warn("dropping malformed sync entry %d: %v", entry.ID, err)
			_ = c.store.MarkSynced(entry.ID)
			continue
		}
		if err := c.postObservation(ctx, obs.Text); err != nil {
			logging.MemoryDebug("sync entry %d still pending: %v", entry.ID, err)
			continue
		}
		if err := c.store.MarkSynced(entry.ID); err != nil {
			return flushed, err
		}
		flushed++
	}
	return flushed, nil
}

// RunSyncLoop flushes the queue every interval until ctx ends.
func (c *Client) RunSyncLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.FlushSyncQueue(ctx)
			if err != nil {
				logging.MemoryDebug("background flush: %v", err)
				continue
			}
			if n > 0 {
				logging.Memory("Background flush delivered %d operation(s)", n)
			}
		}
	}
}

// SyncQueueSize reports pending undelivered operations.
func (c *Client) SyncQueueSize() (int, error) {
	return c.store.SyncQueueSize()
}

func (c *Client) postObservation(ctx context.Context, text string) error {
	start := time.Now()
	body, err := json.Marshal(observationRequest{
		ContentSessionID: c.sessionID,
		CWD:              c.cwd,
		ToolName:         "observation",
		ToolResponse:     text,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sessions/observations", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		logging.Audit().MemoryOp(logging.AuditMemorySync, "observations", time.Since(start).Milliseconds(), false, err.Error())
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("memory service returned %d", resp.StatusCode)
		logging.Audit().MemoryOp(logging.AuditMemorySync, "observations", time.Since(start).Milliseconds(), false, err.Error())
		return err
	}
	logging.Audit().MemoryOp(logging.AuditMemorySync, "observations", time.Since(start).Milliseconds(), true, "")
	return nil
}

// searchResponse mirrors the service's batched search reply.
type searchResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// SearchAsChunks queries the service and adapts each returned text block
// into a synthetic chunk. Rank drives both ordering and the derived
// similarity. Any failure returns an empty slice.
func (c *Client) SearchAsChunks(ctx context.Context, query string, max int) []chunker.Chunk {
	if max <= 0 {
		max = DefaultSearchLimit
	}
	start := time.Now()

	q := url.Values{}
	q.Set("query", query)
	q.Set("limit", strconv.Itoa(max))
	if c.project != "" {
		q.Set("project", c.project)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/search?"+q.Encode(), nil)
	if err != nil {
		return nil
	}
	resp, err := c.http.Do(req)
	if err != nil {
		logging.MemoryDebug("memory search failed: %v", err)
		logging.Audit().MemoryOp(logging.AuditMemorySearch, query, time.Since(start).Milliseconds(), false, err.Error())
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		logging.Audit().MemoryOp(logging.AuditMemorySearch, query, time.Since(start).Milliseconds(), false,
			fmt.Sprintf("status %d", resp.StatusCode))
		return nil
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil || sr.IsError {
		logging.MemoryDebug("memory search returned unusable body: err=%v isError=%v", err, sr.IsError)
		return nil
	}

	chunks := make([]chunker.Chunk, 0, len(sr.Content))
	rank := 0
	for _, block := range sr.Content {
		if block.Type != "" && block.Type != "text" {
			continue
		}
		text := strings.TrimSpace(block.Text)
		if text == "" {
			continue
		}
		if rank >= max {
			break
		}
		chunks = append(chunks, syntheticChunk(text, rank))
		rank++
	}

	logging.Audit().MemoryOp(logging.AuditMemorySearch, query, time.Since(start).Milliseconds(), true, "")
	logging.MemoryDebug("memory search %q -> %d block(s)", query, len(chunks))
	return chunks
}

// syntheticChunk wraps one memory block as a chunk the distillers can rank
// alongside stored ones.
func syntheticChunk(text string, rank int) chunker.Chunk {
	sim := rankSimilarity(rank)
	ev := events.Canonical(events.ParsedEvent{Type: "memory", Role: "memory", Content: text})
	return chunker.Chunk{
		ID:            uuid.New().String(),
		SessionID:     SourceName,
		Events:        []events.CanonicalEvent{ev},
		StartIndex:    rank,
		EndIndex:      rank,
		ImportanceAvg: math.Round(sim * 100),
		TokenEstimate: events.EstimateTokens(text),
		Source:        SourceName,
	}
}

// rankSimilarity maps result rank to (0,1]: 1.0 for the top hit, stepping
// down 0.05 per rank, floored at 0.05.
func rankSimilarity(rank int) float64 {
	sim := 1.0 - 0.05*float64(rank)
	if sim < 0.05 {
		return 0.05
	}
	return sim
}
