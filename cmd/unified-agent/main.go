// Package main is the unified-agent CLI: a session orchestrator whose
// distill command tree scans coding-assistant session files, scores and
// chunks their events, fans chunks out to provider CLIs for assessment, and
// renders the consensus survivors as replayable context artifacts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"unifiedagent/internal/assess"
	"unifiedagent/internal/config"
	"unifiedagent/internal/distill"
	"unifiedagent/internal/events"
	"unifiedagent/internal/logging"
	"unifiedagent/internal/memory"
	"unifiedagent/internal/scanner"
	"unifiedagent/internal/store"
)

var (
	// Global flags
	verbose   bool
	dataDir   string
	cwdFlag   string
	opTimeout time.Duration

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "unified-agent",
	Short: "Unified coding-assistant session orchestrator",
	Long: `unified-agent orchestrates coding-assistant sessions across Claude Code,
Codex CLI and Gemini CLI.

Its core is the conversation distillation pipeline: session files are
scanned and parsed into a canonical event stream, events are scored for
importance and grouped into chunks, chunks are rated by the assistant CLIs
themselves acting as assessment agents, and the consensus survivors are
distilled into compact context artifacts that any of the assistants can
replay at startup.

See 'unified-agent distill --help' for the pipeline commands.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.LoadDefault()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if dataDir != "" {
			cfg.Storage.DataDir = dataDir
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		// File logging is config-gated; both calls are no-ops unless the
		// user enabled debug_mode in <dataDir>/config.json.
		if err := logging.Initialize(cfg.DataDir()); err != nil {
			logger.Debug("file logging unavailable", zap.Error(err))
		}
		if err := logging.InitAudit(); err != nil {
			logger.Debug("audit logging unavailable", zap.Error(err))
		}
		logging.Boot("unified-agent %s starting (data dir %s)", cfg.Version, cfg.DataDir())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// distillCmd groups the distillation pipeline commands.
var distillCmd = &cobra.Command{
	Use:   "distill",
	Short: "Conversation distillation pipeline",
	Long: `Commands for the conversation distillation pipeline.

Typical flow:
  unified-agent distill scan            # discover session files
  unified-agent distill run             # ingest, assess, build consensus
  unified-agent distill build           # render a context artifact
  unified-agent distill load            # inject the latest build

Question-driven:
  unified-agent distill ask "how does the retry loop work?"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default: ~/.unified-agent)")
	rootCmd.PersistentFlags().StringVar(&cwdFlag, "cwd", "", "Project working directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&opTimeout, "timeout", 10*time.Minute, "Operation timeout")

	rootCmd.AddCommand(distillCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext returns a context bounded by the global timeout and canceled
// on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// openStore opens the configured database.
func openStore() (*store.Store, error) {
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return st, nil
}

// newScanner builds a scanner over the platform session directories.
func newScanner() *scanner.Scanner {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return scanner.New(home, cfg.DataDir())
}

// newMemoryClient builds a memory client for the configured service.
func newMemoryClient(st *store.Store) *memory.Client {
	wd := effectiveCWD()
	return memory.NewClient(st, memory.Options{
		BaseURL: cfg.Memory.BaseURL,
		CWD:     wd,
		Project: wd,
		Timeout: cfg.Memory.Timeout(),
	})
}

// assessorConfig resolves provider labels (empty means the configured set)
// into an assessment configuration.
func assessorConfig(names []string) (assess.Config, error) {
	if len(names) == 0 {
		names = cfg.Distill.Providers
	}
	providers, err := assess.ResolveProviders(names)
	if err != nil {
		return assess.Config{}, err
	}
	return assess.Config{
		Providers:      providers,
		Timeout:        cfg.Distill.AssessmentTimeout(),
		RetryOnFailure: cfg.Distill.MaxRetries > 0,
		MaxConcurrent:  cfg.Distill.MaxConcurrent,
	}, nil
}

// questionConfig resolves question-distiller settings: configured defaults
// overridden by the given budget, re-rank and provider controls.
func questionConfig(budget int, noRerank bool, providerNames []string) (distill.QuestionConfig, error) {
	acfg, err := assessorConfig(providerNames)
	if err != nil {
		return distill.QuestionConfig{}, err
	}
	qcfg := distill.QuestionConfig{
		MaxTokens:      cfg.Distill.TokenBudget,
		SearchLimit:    cfg.Distill.MemorySearchMax,
		ReRank:         cfg.Distill.Rerank && !noRerank,
		QuestionWeight: cfg.Distill.QueryWeight,
		StaticWeight:   cfg.Distill.StaticWeight,
		Providers:      acfg.Providers,
		Timeout:        acfg.Timeout,
	}
	if budget > 0 {
		qcfg.MaxTokens = budget
	}
	return qcfg, nil
}

// effectiveCWD resolves the project directory: the --cwd flag, else the
// process working directory.
func effectiveCWD() string {
	if cwdFlag != "" {
		return cwdFlag
	}
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return wd
}

// parsePlatforms validates platform labels.
func parsePlatforms(names []string) ([]events.Platform, error) {
	out := make([]events.Platform, 0, len(names))
	for _, name := range names {
		switch pl := events.Platform(strings.ToLower(strings.TrimSpace(name))); pl {
		case events.PlatformClaude, events.PlatformCodex, events.PlatformGemini, events.PlatformUnified:
			out = append(out, pl)
		default:
			return nil, fmt.Errorf("unknown platform %q (known: claude, codex, gemini, unified)", name)
		}
	}
	return out, nil
}

// rule prints the section separator used by command output.
func rule() {
	fmt.Println(strings.Repeat("─", 50))
}

// truncate shortens s to max runes for table output.
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

// formatBytes renders a file size for human output.
func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
