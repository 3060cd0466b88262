// The assess command: run (or show) the provider verdicts for one chunk.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"unifiedagent/internal/assess"
)

var (
	assessProviders []string
	assessShow      bool
)

var assessCmd = &cobra.Command{
	Use:   "assess <chunk-id>",
	Short: "Assess a single chunk with the provider CLIs",
	Long: `Submits one chunk through the assessment queue, persists every
provider verdict, and records the consensus score.

With --show the stored verdicts are printed without invoking any provider.`,
	Args: cobra.ExactArgs(1),
	RunE: runAssessChunk,
}

func init() {
	assessCmd.Flags().StringSliceVar(&assessProviders, "providers", nil, "Assessment providers (default: configured set)")
	assessCmd.Flags().BoolVar(&assessShow, "show", false, "Print stored verdicts instead of re-assessing")

	distillCmd.AddCommand(assessCmd)
}

func runAssessChunk(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	chunkID := args[0]
	ch, ok, err := st.GetChunk(chunkID)
	if err != nil {
		return fmt.Errorf("load chunk: %w", err)
	}
	if !ok {
		return fmt.Errorf("chunk %q not found (list candidates with 'distill query')", chunkID)
	}

	if assessShow {
		verdicts, err := st.Assessments(chunkID)
		if err != nil {
			return err
		}
		printVerdicts(chunkID, verdicts)
		return nil
	}

	acfg, err := assessorConfig(assessProviders)
	if err != nil {
		return err
	}
	queue := assess.NewQueue(assess.New(acfg), cfg.Distill.MaxConcurrent)
	verdicts, err := queue.Submit(ctx, &ch)
	if err != nil {
		return fmt.Errorf("assessment failed: %w", err)
	}

	for _, a := range verdicts {
		if err := st.SaveAssessment(a); err != nil {
			logger.Warn("failed to save assessment", zap.String("chunk", chunkID), zap.Error(err))
		}
	}
	consensus := assess.ComputeConsensus(verdicts, assess.ConsensusConfig{
		MinAssessments:  cfg.Distill.MinQuorum,
		DiscardOutliers: true,
	})
	if err := st.SetChunkConsensus(chunkID, consensus); err != nil {
		return fmt.Errorf("record consensus: %w", err)
	}

	printVerdicts(chunkID, verdicts)
	fmt.Printf("Consensus: %.1f\n", consensus)
	return nil
}

func printVerdicts(chunkID string, verdicts []assess.Assessment) {
	fmt.Printf("🧠 Chunk %s\n", chunkID)
	rule()
	if len(verdicts) == 0 {
		fmt.Println("No verdicts recorded.")
		return
	}
	for _, a := range verdicts {
		fmt.Printf("  [%-7s] score %2d  %5dms  %s\n",
			a.Provider, a.Score, a.LatencyMs, truncate(a.Rationale, 60))
	}
	rule()
	fmt.Printf("Total: %d\n", len(verdicts))
}
