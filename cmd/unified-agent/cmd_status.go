// The status command: environment health check across the store, the
// memory service, the provider CLIs, and the distilled artifacts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"unifiedagent/internal/assess"
	"unifiedagent/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the health of the distillation environment",
	RunE:  runStatus,
}

func init() {
	distillCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	fmt.Println("🩺 Environment Status")
	rule()

	// Data directory and persisted config.
	dir := cfg.DataDir()
	if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
		fmt.Printf("  ✅ data dir        %s\n", dir)
	} else {
		fmt.Printf("  ⚠️  data dir        %s (missing; created on first run)\n", dir)
	}
	ucPath := config.UserConfigPath(dir)
	uc, err := config.LoadUserConfig(ucPath)
	switch {
	case err != nil:
		fmt.Printf("  ❌ config          %s (%v)\n", ucPath, err)
	case uc.IsWatchEnabled():
		fmt.Printf("  ✅ config          %s (watch on)\n", ucPath)
	default:
		fmt.Printf("  ✅ config          %s (watch off)\n", ucPath)
	}

	// Store.
	st, err := openStore()
	if err != nil {
		fmt.Printf("  ❌ store           %v\n", err)
	} else {
		stats, serr := st.Stats()
		if serr != nil {
			fmt.Printf("  ⚠️  store           open, stats failed: %v\n", serr)
		} else {
			fts := "fts5"
			if !st.FTSAvailable() {
				fts = "no fts5"
			}
			fmt.Printf("  ✅ store           %d events, %d chunks, %d pending sync (%s)\n",
				stats.Events, stats.Chunks, stats.PendingSync, fts)
		}
	}

	// Memory service.
	if st != nil {
		mem := newMemoryClient(st)
		hctx, hcancel := context.WithTimeout(cmd.Context(), 2*time.Second)
		healthy := mem.Health(hctx)
		hcancel()
		queued, _ := mem.SyncQueueSize()
		if healthy {
			fmt.Printf("  ✅ memory          %s reachable, %d queued\n", cfg.Memory.BaseURL, queued)
		} else {
			fmt.Printf("  ⚠️  memory          %s unreachable, %d queued (sync deferred)\n", cfg.Memory.BaseURL, queued)
		}
		st.Close()
	}

	// Provider CLIs.
	providers, err := assess.ResolveProviders(cfg.Distill.Providers)
	if err != nil {
		fmt.Printf("  ❌ providers       %v\n", err)
	} else {
		var found, missing []string
		for _, p := range providers {
			if _, err := exec.LookPath(p.Command); err == nil {
				found = append(found, p.Name)
			} else {
				missing = append(missing, p.Name)
			}
		}
		if len(missing) == 0 {
			fmt.Printf("  ✅ providers       %s\n", strings.Join(found, ", "))
		} else if len(found) >= cfg.Distill.MinQuorum {
			fmt.Printf("  ⚠️  providers       %s available; missing: %s\n",
				strings.Join(found, ", "), strings.Join(missing, ", "))
		} else {
			fmt.Printf("  ❌ providers       below quorum (%d needed): missing %s\n",
				cfg.Distill.MinQuorum, strings.Join(missing, ", "))
		}
	}

	// Distilled artifacts and the active context pointer.
	distilled := cfg.DistilledDir()
	entries, _ := filepath.Glob(filepath.Join(distilled, "*-*.json*"))
	fmt.Printf("  %s artifacts       %d in %s\n", countMark(len(entries)), len(entries), distilled)
	if active, err := os.ReadFile(activePointerPath()); err == nil {
		path := strings.TrimSpace(string(active))
		if _, err := os.Stat(path); err == nil {
			fmt.Printf("  ✅ active          %s\n", path)
		} else {
			fmt.Printf("  ⚠️  active          %s (missing file)\n", path)
		}
	}
	rule()
	return nil
}

func countMark(n int) string {
	if n > 0 {
		return "✅"
	}
	return "⚠️ "
}

// activePointerPath is where 'distill load' records the loaded artifact.
func activePointerPath() string {
	return filepath.Join(cfg.DistilledDir(), "ACTIVE")
}
