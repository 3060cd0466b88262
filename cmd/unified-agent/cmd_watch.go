// The watch command: toggles and runs the session-directory watcher. 'on'
// persists the toggle and watches in the foreground until interrupted;
// 'off' just clears the toggle.
package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"unifiedagent/internal/config"
	"unifiedagent/internal/scanner"
	"unifiedagent/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch on|off",
	Short: "Watch platform session directories for new files",
	Long: `'watch on' records the watch preference and polls the platform
session directories, reporting each new session file as it appears. New
files are recorded in the store so 'distill run' picks them up.

'watch off' clears the preference. The foreground watcher stops on Ctrl-C.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE:      runWatch,
}

func init() {
	distillCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ucPath := config.UserConfigPath(cfg.DataDir())
	uc, err := config.LoadUserConfig(ucPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	switch args[0] {
	case "off":
		uc.SetWatchEnabled(false)
		if err := uc.Save(ucPath); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println("✅ Watch disabled.")
		return nil
	case "on":
		uc.SetWatchEnabled(true)
		if err := uc.Save(ucPath); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
	default:
		return fmt.Errorf("expected 'on' or 'off', got %q", args[0])
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	w := watcher.New(newScanner(), watcher.Config{
		Interval: time.Duration(cfg.Watcher.PollIntervalMs) * time.Millisecond,
		OnNew: func(s scanner.Session) {
			if err := st.UpsertExternalSessions([]scanner.Session{s}); err != nil {
				logger.Warn("failed to record new session", zap.String("path", s.FilePath), zap.Error(err))
			}
			fmt.Printf("  🆕 [%-7s] %s\n", s.Platform, s.FilePath)
		},
		OnError: func(err error) {
			fmt.Printf("  ⚠️  %v\n", err)
		},
	})
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	fmt.Printf("👀 Watching session directories (poll every %dms). Ctrl-C to stop.\n",
		cfg.Watcher.PollIntervalMs)
	<-ctx.Done()
	w.Stop()

	stats := w.Stats()
	fmt.Printf("\nStopped after %d poll(s): %d new session(s), %d error(s).\n",
		stats.Polls, stats.NewReported, stats.Errors)
	if stats.NewReported > 0 {
		fmt.Println("Ingest them with: unified-agent distill run")
	}
	return nil
}
