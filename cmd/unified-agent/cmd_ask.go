// The ask command: question-driven distillation across the local chunk
// store and the memory service.
package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"unifiedagent/internal/distill"
	"unifiedagent/internal/generate"
)

var (
	askBudget    int
	askNoRerank  bool
	askWrite     bool
	askPlatform  string
	askProviders []string
)

var askCmd = &cobra.Command{
	Use:   "ask <question...>",
	Short: "Distill stored context relevant to a question",
	Long: `Searches the chunk store (full-text) and the memory service for
material relevant to the question, optionally re-ranks candidates with the
assessment providers, and prints the chunks that fit the budget.

With --write the result is also saved as an artifact in the target
platform's session format so it can be loaded into a session.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().IntVar(&askBudget, "budget", 0, "Token budget (default: configured)")
	askCmd.Flags().BoolVar(&askNoRerank, "no-rerank", false, "Skip provider re-ranking of candidates")
	askCmd.Flags().BoolVar(&askWrite, "write", false, "Also write the result as a session artifact")
	askCmd.Flags().StringVar(&askPlatform, "platform", "claude", "Artifact target for --write (claude, codex, gemini)")
	askCmd.Flags().StringSliceVar(&askProviders, "providers", nil, "Re-ranking providers (default: configured set)")

	distillCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("empty question")
	}
	format, err := platformFormat(askPlatform)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	qcfg, err := questionConfig(askBudget, askNoRerank, askProviders)
	if err != nil {
		return err
	}

	qd := distill.NewQuestionDistiller(st, newMemoryClient(st), qcfg)
	res := qd.Distill(ctx, question)

	stats := res.SearchStats
	fmt.Printf("❓ %s\n", question)
	rule()
	fmt.Printf("fts: %d  memory: %d  candidates: %d  after rerank: %d  selected: %d (~%d tokens)\n",
		stats.FTSMatches, stats.MemoryMatches, stats.TotalCandidates, stats.AfterReRank,
		len(res.Chunks), res.TotalTokens)
	rule()

	if len(res.Chunks) == 0 {
		fmt.Println("Nothing relevant found. Ingest sessions first: unified-agent distill run")
		return nil
	}
	for i := range res.Chunks {
		ch := &res.Chunks[i]
		fmt.Printf("\n── chunk %d/%d  (%s, ~%d tok) ", i+1, len(res.Chunks), ch.ID, ch.TokenEstimate)
		fmt.Println(strings.Repeat("─", 20))
		fmt.Println(ch.Content())
	}

	if askWrite {
		path, err := writeArtifact(format, &res.DistilledSession, generate.Options{CWD: effectiveCWD()})
		if err != nil {
			return fmt.Errorf("write artifact: %w", err)
		}
		fmt.Printf("\n✅ Saved: %s\n", path)
	}
	return nil
}

// platformFormat maps an injection target onto its artifact format.
func platformFormat(platform string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(platform)) {
	case "claude", "":
		return "conversation", nil
	case "codex":
		return "codex", nil
	case "gemini":
		return "gemini", nil
	}
	return "", fmt.Errorf("unknown platform %q (want claude, codex, gemini)", platform)
}
