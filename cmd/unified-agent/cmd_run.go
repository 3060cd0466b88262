// The run command: the full ingest half of the pipeline. Session files are
// parsed into canonical events, scored, chunked, persisted, and the new
// chunks are assessed by the provider CLIs down to a consensus score.
package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"unifiedagent/internal/assess"
	"unifiedagent/internal/chunker"
	"unifiedagent/internal/events"
	"unifiedagent/internal/logging"
	"unifiedagent/internal/parser"
	"unifiedagent/internal/scanner"
	"unifiedagent/internal/scoring"
	"unifiedagent/internal/store"
)

var (
	runPlatforms []string
	runLimit     int
	runCWDOnly   bool
	runProviders []string
	runNoAssess  bool
	runReingest  bool
)

var runCmd = &cobra.Command{
	Use:   "run [sessionId...]",
	Short: "Ingest session files and assess their chunks",
	Long: `Runs the ingest half of the distillation pipeline:

  1. Scan the platform session directories
  2. Parse each new session into canonical events
  3. Score events for importance and persist them
  4. Group surviving events into chunks
  5. Fan each chunk out to the assessment providers
  6. Merge provider ratings into a consensus score per chunk

Positional arguments restrict the run to the named session ids. Already
ingested files are skipped unless --reingest is given. Use 'distill build'
afterwards to render an artifact from the stored chunks.`,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringSliceVar(&runPlatforms, "platform", nil, "Restrict to platforms (claude, codex, gemini, unified)")
	runCmd.Flags().IntVar(&runLimit, "limit", 5, "Maximum sessions to ingest (0 = all)")
	runCmd.Flags().BoolVar(&runCWDOnly, "here", false, "Only sessions for the current project directory")
	runCmd.Flags().StringSliceVar(&runProviders, "providers", nil, "Assessment providers (default: configured set)")
	runCmd.Flags().BoolVar(&runNoAssess, "no-assess", false, "Ingest and chunk only; skip provider assessment")
	runCmd.Flags().BoolVar(&runReingest, "reingest", false, "Ingest files even if previously ingested")

	distillCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	platforms, err := parsePlatforms(runPlatforms)
	if err != nil {
		return err
	}
	opts := scanner.Options{Platforms: platforms, Limit: runLimit}
	if runCWDOnly || cwdFlag != "" {
		opts.CWD = effectiveCWD()
	}

	sessions, err := newScanner().Scan(opts)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if err := st.UpsertExternalSessions(sessions); err != nil {
		logger.Warn("failed to record scan results", zap.Error(err))
	}
	if len(args) > 0 {
		sessions = filterSessionIDs(sessions, args)
		if len(sessions) == 0 {
			fmt.Println("No discovered session matches the given session ids.")
			return nil
		}
	}
	if len(sessions) == 0 {
		fmt.Println("No session files found.")
		return nil
	}
	if !runReingest {
		sessions = dropIngested(st, sessions)
		if len(sessions) == 0 {
			fmt.Println("All discovered sessions are already ingested. Use --reingest to force.")
			return nil
		}
	}

	fmt.Printf("🔄 Ingesting %d session(s)\n", len(sessions))
	rule()

	var newChunks []chunker.Chunk
	totalEvents := 0
	for _, sess := range sessions {
		evCount, chunks, err := ingestSession(st, sess)
		if err != nil {
			logger.Warn("session ingest failed", zap.String("path", sess.FilePath), zap.Error(err))
			fmt.Printf("  ⚠️  %s: %v\n", sess.FilePath, err)
			continue
		}
		totalEvents += evCount
		newChunks = append(newChunks, chunks...)
		fmt.Printf("  ✅ [%-7s] %d events -> %d chunks  %s\n",
			sess.Platform, evCount, len(chunks), sess.FilePath)
	}
	rule()
	fmt.Printf("Ingested %d event(s) into %d chunk(s)\n", totalEvents, len(newChunks))

	if runNoAssess || len(newChunks) == 0 {
		if len(newChunks) > 0 {
			fmt.Println("\nAssessment skipped. Run: unified-agent distill build --assess")
		}
		return nil
	}

	fmt.Printf("\n🧠 Assessing %d chunk(s)\n", len(newChunks))
	assessed, err := assessAndScore(ctx, st, newChunks, runProviders)
	if err != nil {
		return err
	}
	fmt.Printf("Consensus recorded for %d/%d chunk(s)\n", assessed, len(newChunks))
	fmt.Println("\nNext: unified-agent distill build")
	return ctx.Err()
}

// filterSessionIDs keeps only sessions with one of the given ids.
func filterSessionIDs(sessions []scanner.Session, ids []string) []scanner.Session {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := sessions[:0]
	for _, s := range sessions {
		if want[s.SessionID] {
			out = append(out, s)
		}
	}
	return out
}

// dropIngested filters out sessions whose files were already ingested.
func dropIngested(st *store.Store, sessions []scanner.Session) []scanner.Session {
	known, err := st.ExternalSessions(0)
	if err != nil {
		return sessions
	}
	ingested := make(map[string]bool, len(known))
	for _, k := range known {
		if k.IngestedAt != nil {
			ingested[k.FilePath] = true
		}
	}
	out := sessions[:0]
	for _, s := range sessions {
		if !ingested[s.FilePath] {
			out = append(out, s)
		}
	}
	return out
}

// ingestSession parses, scores, stores and chunks one session file.
func ingestSession(st *store.Store, sess scanner.Session) (int, []chunker.Chunk, error) {
	p, err := sessionParser(sess)
	if err != nil {
		return 0, nil, err
	}
	parsed, err := parser.ParseFile(p, sess.FilePath)
	if err != nil {
		return 0, nil, fmt.Errorf("parse: %w", err)
	}
	if len(parsed) == 0 {
		if err := st.MarkSessionIngested(sess.FilePath, 0); err != nil {
			return 0, nil, err
		}
		return 0, nil, nil
	}

	scored := scoring.ScoreAll(parsed)
	rowIDs := make([]int64, len(scored))
	for i := range scored {
		scored[i].SourceSessionID = sess.SessionID
		scored[i].SourcePlatform = sess.Platform
		id, err := st.InsertEvent(sess.SessionID, sess.Platform, &scored[i])
		if err != nil {
			return 0, nil, fmt.Errorf("persist event: %w", err)
		}
		rowIDs[i] = id
	}

	ccfg := chunker.Config{
		MinImportance: cfg.Distill.ImportanceThreshold,
		MaxEvents:     cfg.Distill.MaxChunkEvents,
		MaxTokens:     cfg.Distill.MaxChunkTokens,
		Overlap:       cfg.Distill.ChunkOverlap,
	}
	chunks := chunker.New(ccfg).Chunk(sess.SessionID, scored)
	if err := st.SaveChunks(chunks); err != nil {
		return 0, nil, fmt.Errorf("persist chunks: %w", err)
	}

	// Chunk indices address the filtered (above-threshold) sequence; map
	// them back to journal rows for tagging.
	var survivorRows []int64
	for i := range scored {
		if scored[i].Score() >= ccfg.MinImportance {
			survivorRows = append(survivorRows, rowIDs[i])
		}
	}
	for i := range chunks {
		ch := &chunks[i]
		if ch.StartIndex < 0 || ch.EndIndex >= len(survivorRows) {
			continue
		}
		if err := st.TagEventChunk(survivorRows[ch.StartIndex:ch.EndIndex+1], ch.ID); err != nil {
			logging.Get(logging.CategoryStore).Warn("tagging events for chunk %s failed: %v", ch.ID, err)
		}
	}

	if err := st.MarkSessionIngested(sess.FilePath, len(scored)); err != nil {
		return 0, nil, err
	}
	logging.Audit().SessionIngest(string(sess.Platform), sess.FilePath, len(scored))
	return len(scored), chunks, nil
}

// sessionParser resolves the parser for a scanned session. The agent's own
// journal uses the Claude record shape.
func sessionParser(sess scanner.Session) (parser.Parser, error) {
	reg := parser.NewRegistry()
	platform := sess.Platform
	if platform == events.PlatformUnified {
		platform = events.PlatformClaude
	}
	if p, ok := reg.ByPlatform(platform); ok {
		return p, nil
	}
	return reg.ForFile(sess.FilePath)
}

// assessAndScore fans chunks out to the providers, persists every verdict
// and records the consensus per chunk. Returns how many chunks reached a
// non-zero consensus.
func assessAndScore(ctx context.Context, st *store.Store, chunks []chunker.Chunk, providerNames []string) (int, error) {
	acfg, err := assessorConfig(providerNames)
	if err != nil {
		return 0, err
	}
	assessor := assess.New(acfg)

	ptrs := make([]*chunker.Chunk, len(chunks))
	for i := range chunks {
		ptrs[i] = &chunks[i]
	}
	results := assessor.AssessChunks(ctx, ptrs, func(completed, total int) {
		fmt.Printf("\r  progress: %d/%d", completed, total)
		if completed == total {
			fmt.Println()
		}
	})

	ccfg := assess.ConsensusConfig{
		MinAssessments:  cfg.Distill.MinQuorum,
		DiscardOutliers: true,
	}
	reached := 0
	for i := range chunks {
		ch := &chunks[i]
		verdicts := results[ch.ID]
		for _, a := range verdicts {
			if err := st.SaveAssessment(a); err != nil {
				logger.Warn("failed to save assessment", zap.String("chunk", ch.ID), zap.Error(err))
			}
		}
		consensus := assess.ComputeConsensus(verdicts, ccfg)
		if err := st.SetChunkConsensus(ch.ID, consensus); err != nil {
			logger.Warn("failed to record consensus", zap.String("chunk", ch.ID), zap.Error(err))
			continue
		}
		if consensus > 0 {
			reached++
		}
	}
	return reached, nil
}
