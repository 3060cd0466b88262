// The query command: raw full-text search over stored chunks, without the
// distillation layering of 'ask'.
package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var queryLimit int

var queryCmd = &cobra.Command{
	Use:   "query <terms...>",
	Short: "Full-text search over stored chunks",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().IntVar(&queryLimit, "limit", 10, "Maximum results")

	distillCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if !st.FTSAvailable() {
		return fmt.Errorf("full-text search unavailable (FTS5 missing from the SQLite build)")
	}

	terms := strings.Join(args, " ")
	results := st.SearchChunks(terms, queryLimit)

	fmt.Printf("🔍 %q\n", terms)
	rule()
	if len(results) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%2d. %-14s session %-12s cons %4.1f  %s\n",
			i+1, r.ChunkID, truncate(r.SessionID, 12), r.Consensus,
			truncate(strings.ReplaceAll(r.Content, "\n", " "), 60))
	}
	rule()
	fmt.Printf("Total: %d\n", len(results))
	fmt.Println("Inspect a chunk's verdicts with: unified-agent distill assess <chunk-id>")
	return nil
}
