// Session discovery commands: scan the platform session directories and
// track what has been seen and ingested.
package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"unifiedagent/internal/scanner"
	"unifiedagent/internal/store"
)

var (
	scanPlatforms []string
	scanLimit     int
	scanCWDOnly   bool
	scanStored    bool
)

// scanCmd discovers session files across platforms.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover session files across assistant platforms",
	Long: `Walks the session directories of every supported platform (Claude Code,
Codex CLI, Gemini CLI and this agent's own journal), records what it finds
in the local database, and prints the results newest first.

Use --stored to list previously recorded sessions with their ingestion
state instead of re-walking the disk.`,
	RunE: runScanSessions,
}

func init() {
	scanCmd.Flags().StringSliceVar(&scanPlatforms, "platform", nil, "Restrict to platforms (claude, codex, gemini, unified)")
	scanCmd.Flags().IntVar(&scanLimit, "limit", 20, "Maximum sessions to show (0 = all)")
	scanCmd.Flags().BoolVar(&scanCWDOnly, "here", false, "Only sessions for the current project directory")
	scanCmd.Flags().BoolVar(&scanStored, "stored", false, "List recorded sessions from the database instead of scanning")

	distillCmd.AddCommand(scanCmd)
}

func runScanSessions(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if scanStored {
		return printStoredSessions(st)
	}

	platforms, err := parsePlatforms(scanPlatforms)
	if err != nil {
		return err
	}

	opts := scanner.Options{Platforms: platforms, Limit: scanLimit}
	if scanCWDOnly || cwdFlag != "" {
		opts.CWD = effectiveCWD()
	}

	sessions, err := newScanner().Scan(opts)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if err := st.UpsertExternalSessions(sessions); err != nil {
		logger.Warn("failed to record scan results", zap.Error(err))
	}

	if len(sessions) == 0 {
		fmt.Println("No session files found.")
		return nil
	}

	fmt.Println("📋 Discovered Sessions")
	rule()
	for i, s := range sessions {
		fmt.Printf("  %2d. [%-7s] %s  %s\n", i+1, s.Platform,
			s.ModifiedAt.Format("2006-01-02 15:04"), formatBytes(s.FileSize))
		fmt.Printf("      %s\n", s.FilePath)
	}
	rule()
	fmt.Printf("Total: %d session(s)\n", len(sessions))
	fmt.Println("\nUse: unified-agent distill run   to ingest and assess them")
	return nil
}

func printStoredSessions(st *store.Store) error {
	sessions, err := st.ExternalSessions(scanLimit)
	if err != nil {
		return fmt.Errorf("failed to list recorded sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded yet. Run: unified-agent distill scan")
		return nil
	}

	fmt.Println("📋 Recorded Sessions")
	rule()
	for i, s := range sessions {
		state := "not ingested"
		if s.IngestedAt != nil {
			state = fmt.Sprintf("%d events @ %s", s.EventCount, s.IngestedAt.Format("2006-01-02 15:04"))
		}
		fmt.Printf("  %2d. [%-7s] %s  %s\n", i+1, s.Platform, modifiedLabel(s.ModifiedAt), state)
		fmt.Printf("      %s\n", s.FilePath)
	}
	rule()
	fmt.Printf("Total: %d session(s)\n", len(sessions))
	return nil
}

func modifiedLabel(t time.Time) string {
	if t.IsZero() {
		return "unknown mtime   "
	}
	return t.Format("2006-01-02 15:04")
}
