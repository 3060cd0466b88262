// The build command: renders stored chunks into a distilled artifact under
// the token budget, in any of the platform output formats.
package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"unifiedagent/internal/chunker"
	"unifiedagent/internal/distill"
	"unifiedagent/internal/generate"
	"unifiedagent/internal/store"
)

var (
	buildSessions     []string
	buildBudget       int
	buildLimit        int
	buildMinConsensus float64
	buildSort         string
	buildFormats      []string
	buildDryRun       bool
	buildAssess       bool
	buildBypass       bool
	buildProviders    []string
	buildFilter       string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Distill stored chunks into a context artifact",
	Long: `Selects the highest-consensus chunks that fit the token budget and
writes them as a resumable session artifact.

Formats:
  conversation  full Claude-style session transcript (.jsonl)
  summary       compact boundary form (.jsonl)
  codex         Codex session log (.jsonl)
  gemini        Gemini checkpoint (.json)
  all           every format in one pass

Use --dry-run to preview the selection without writing anything, and
--assess to score any not-yet-assessed chunks first. --filter routes the
selection through the question pipeline so the artifact only carries
material relevant to the given text.`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringSliceVar(&buildSessions, "session", nil, "Restrict to source session ids")
	buildCmd.Flags().IntVar(&buildBudget, "budget", 0, "Token budget (default: configured)")
	buildCmd.Flags().IntVar(&buildLimit, "limit", 0, "Maximum chunks in the artifact (0 = budget only)")
	buildCmd.Flags().Float64Var(&buildMinConsensus, "min-consensus", -1, "Minimum consensus score (default: configured)")
	buildCmd.Flags().StringVar(&buildSort, "sort", "", "Ranking: consensus, chronological, hybrid (default: configured)")
	buildCmd.Flags().StringSliceVar(&buildFormats, "format", []string{"conversation"}, "Output formats (conversation, summary, codex, gemini, all)")
	buildCmd.Flags().BoolVar(&buildDryRun, "dry-run", false, "Preview the selection without writing artifacts")
	buildCmd.Flags().BoolVar(&buildAssess, "assess", false, "Assess unscored chunks before distilling")
	buildCmd.Flags().BoolVar(&buildBypass, "bypass-synthesis", false, "Emit one pair per chunk instead of per topic")
	buildCmd.Flags().StringSliceVar(&buildProviders, "providers", nil, "Assessment providers for --assess and --filter")
	buildCmd.Flags().StringVar(&buildFilter, "filter", "", "Select only chunks relevant to this text")

	distillCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	formats, err := parseFormats(buildFormats)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var (
		d          *distill.DistilledSession
		candidates int
	)
	if buildFilter != "" {
		res, err := filteredSelection(ctx, st)
		if err != nil {
			return err
		}
		candidates = res.SearchStats.TotalCandidates
		d = &res.DistilledSession
		if len(d.Chunks) == 0 {
			fmt.Printf("Nothing matched %q (%d candidates considered).\n", buildFilter, candidates)
			return nil
		}
	} else {
		entries, err := st.ChunkEntries(buildSessions)
		if err != nil {
			return fmt.Errorf("load chunks: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No chunks stored. Run: unified-agent distill run")
			return nil
		}

		if buildAssess {
			var unscored []chunker.Chunk
			for _, e := range entries {
				if e.Consensus == 0 {
					unscored = append(unscored, e.Chunk)
				}
			}
			if len(unscored) > 0 {
				fmt.Printf("🧠 Assessing %d unscored chunk(s)\n", len(unscored))
				if _, err := assessAndScore(ctx, st, unscored, buildProviders); err != nil {
					return err
				}
				entries, err = st.ChunkEntries(buildSessions)
				if err != nil {
					return fmt.Errorf("reload chunks: %w", err)
				}
			}
		}

		candidates = len(entries)
		d = distill.Distill(entries, budgetConfig())
		if len(d.Chunks) == 0 {
			fmt.Printf("No chunks passed the consensus threshold (%d candidates, %d dropped).\n",
				len(entries), d.DroppedChunks)
			fmt.Println("Lower --min-consensus or run with --assess.")
			return nil
		}
	}

	if buildDryRun {
		printSelection(d, candidates)
		return nil
	}

	opts := generate.Options{
		CWD:             effectiveCWD(),
		BypassSynthesis: buildBypass,
	}
	fmt.Printf("📦 Distilled %d chunk(s), %d tokens (%d dropped)\n", len(d.Chunks), d.TotalTokens, d.DroppedChunks)
	rule()
	for _, f := range formats {
		path, err := writeArtifact(f, d, opts)
		if err != nil {
			return fmt.Errorf("write %s artifact: %w", f, err)
		}
		fmt.Printf("  ✅ %-12s %s\n", f, path)
	}
	rule()
	fmt.Println("Load the artifact into a session with: unified-agent distill load")
	return nil
}

// filteredSelection routes the build through the question distiller so only
// chunks relevant to the filter text survive.
func filteredSelection(ctx context.Context, st *store.Store) (*distill.QueryDistillResult, error) {
	qcfg, err := questionConfig(buildBudget, false, buildProviders)
	if err != nil {
		return nil, err
	}
	qcfg.MaxChunks = buildLimit
	qd := distill.NewQuestionDistiller(st, newMemoryClient(st), qcfg)
	return qd.Distill(ctx, buildFilter), nil
}

// budgetConfig merges the build flags over the configured defaults.
func budgetConfig() distill.BudgetConfig {
	bc := distill.BudgetConfig{
		MaxTokens:             cfg.Distill.TokenBudget,
		MaxChunks:             buildLimit,
		MinConsensusScore:     cfg.Distill.MinConsensus,
		SortBy:                distill.SortMode(cfg.Distill.SortMode),
		HybridConsensusWeight: cfg.Distill.HybridConsensusWeight,
		HybridRecencyWeight:   cfg.Distill.HybridRecencyWeight,
	}
	if buildBudget > 0 {
		bc.MaxTokens = buildBudget
	}
	if buildMinConsensus >= 0 {
		bc.MinConsensusScore = buildMinConsensus
	}
	if buildSort != "" {
		bc.SortBy = distill.SortMode(buildSort)
	}
	return bc
}

func parseFormats(raw []string) ([]string, error) {
	valid := map[string]bool{"conversation": true, "summary": true, "codex": true, "gemini": true}
	seen := map[string]bool{}
	var out []string
	for _, f := range raw {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "all" {
			return []string{"conversation", "summary", "codex", "gemini"}, nil
		}
		if !valid[f] {
			return nil, fmt.Errorf("unknown format %q (want conversation, summary, codex, gemini, all)", f)
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

func writeArtifact(format string, d *distill.DistilledSession, opts generate.Options) (string, error) {
	dir := cfg.DistilledDir()
	switch format {
	case "conversation":
		path := generate.ArtifactPath(dir, generate.SlugBuild, "jsonl", d.DistilledAt)
		_, err := generate.WriteConversation(d, path, opts)
		return path, err
	case "summary":
		path := generate.ArtifactPath(dir, generate.SlugSummary, "jsonl", d.DistilledAt)
		_, err := generate.WriteSummary(d, path, opts)
		return path, err
	case "codex":
		path := generate.ArtifactPath(dir, generate.SlugCodex, "jsonl", d.DistilledAt)
		_, err := generate.WriteCodex(d, path, opts)
		return path, err
	case "gemini":
		path := generate.ArtifactPath(dir, generate.SlugGemini, "json", d.DistilledAt)
		_, err := generate.WriteGemini(d, path, opts)
		return path, err
	}
	return "", fmt.Errorf("unknown format %q", format)
}

func printSelection(d *distill.DistilledSession, candidates int) {
	fmt.Printf("📦 Dry run: %d/%d chunk(s) selected, %d tokens\n", len(d.Chunks), candidates, d.TotalTokens)
	rule()
	for i := range d.Chunks {
		ch := &d.Chunks[i]
		fmt.Printf("%2d. %-14s events %3d-%-3d  ~%5d tok  imp %5.1f  %s\n",
			i+1, ch.ID, ch.StartIndex, ch.EndIndex, ch.TokenEstimate, ch.ImportanceAvg,
			truncate(firstUserText(ch), 48))
	}
	rule()
	fmt.Printf("Sources: %s\n", strings.Join(d.SourceSessionIDs, ", "))
}

// firstUserText pulls a short label for a chunk from its first user event,
// falling back to the first event of any type.
func firstUserText(ch *chunker.Chunk) string {
	for i := range ch.Events {
		if ch.Events[i].Type == "user" && ch.Events[i].Content != "" {
			return ch.Events[i].Content
		}
	}
	if len(ch.Events) > 0 {
		return ch.Events[0].Content
	}
	return ""
}
