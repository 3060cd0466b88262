// The report command: pipeline statistics out of the local store.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show pipeline statistics",
	RunE:  runReport,
}

func init() {
	distillCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats()
	if err != nil {
		return fmt.Errorf("read stats: %w", err)
	}

	fmt.Println("📊 Distillation Report")
	rule()
	fmt.Printf("  database           %s\n", st.Path())
	fmt.Printf("  full-text search   %v\n", st.FTSAvailable())
	fmt.Printf("  events             %d\n", stats.Events)
	fmt.Printf("  chunks             %d (%d assessed)\n", stats.Chunks, stats.AssessedChunks)
	fmt.Printf("  assessments        %d\n", stats.Assessments)
	if stats.AssessedChunks > 0 {
		fmt.Printf("  avg consensus      %.1f\n", stats.AvgConsensus)
	}
	fmt.Printf("  external sessions  %d\n", stats.ExternalSessions)
	fmt.Printf("  pending sync       %d\n", stats.PendingSync)

	providers, err := st.ProviderStats()
	if err != nil {
		return fmt.Errorf("read provider stats: %w", err)
	}
	if len(providers) > 0 {
		fmt.Println()
		fmt.Println("  Provider verdicts")
		for _, p := range providers {
			fmt.Printf("    [%-7s] %4d verdicts  avg score %4.1f  avg latency %6.0fms\n",
				p.Provider, p.Assessments, p.AvgScore, p.AvgLatencyMs)
		}
	}
	rule()

	if stats.Chunks == 0 {
		fmt.Println("Nothing ingested yet. Start with: unified-agent distill scan")
	} else if stats.AssessedChunks < stats.Chunks {
		fmt.Printf("%d chunk(s) unassessed. Run: unified-agent distill build --assess\n",
			stats.Chunks-stats.AssessedChunks)
	}
	return nil
}
