// The load and unload commands: activate a distilled artifact for the next
// session, or clear the active pointer.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"unifiedagent/internal/generate"
)

var (
	loadPath  string
	loadPrint bool
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Activate the latest distilled artifact for this project",
	Long: `Finds the newest build artifact for the current project, validates
it, and records it as the active context. Claude resumes the artifact file
natively; for other assistants use --print to emit an injectable text block.`,
	RunE: runLoad,
}

var unloadCmd = &cobra.Command{
	Use:   "unload",
	Short: "Clear the active distilled context",
	RunE:  runUnload,
}

func init() {
	loadCmd.Flags().StringVar(&loadPath, "path", "", "Load a specific artifact instead of the newest")
	loadCmd.Flags().BoolVar(&loadPrint, "print", false, "Print the context block for non-resuming assistants")

	distillCmd.AddCommand(loadCmd)
	distillCmd.AddCommand(unloadCmd)
}

func runLoad(cmd *cobra.Command, args []string) error {
	path := loadPath
	if path == "" {
		var err error
		path, err = generate.FindLatestBuild(cfg.DistilledDir(), effectiveCWD())
		if err != nil {
			return fmt.Errorf("no loadable artifact: %w (build one with 'distill build')", err)
		}
	}

	lc, err := generate.Load(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	if err := os.MkdirAll(cfg.DistilledDir(), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(activePointerPath(), []byte(lc.Path+"\n"), 0o644); err != nil {
		return fmt.Errorf("record active context: %w", err)
	}

	fmt.Printf("✅ Active context: %s\n", lc.Path)
	fmt.Printf("   %d turn(s), %d topic pair(s), session %s\n", len(lc.Turns), lc.TopicPairs, lc.SessionID)
	rule()
	fmt.Printf("Resume in Claude:  claude --resume %s\n", lc.ResumePath())
	fmt.Println("Other assistants:  unified-agent distill load --print")
	if loadPrint {
		fmt.Println()
		fmt.Println(lc.ContextBlock())
	}
	return nil
}

func runUnload(cmd *cobra.Command, args []string) error {
	pointer := activePointerPath()
	data, err := os.ReadFile(pointer)
	if os.IsNotExist(err) {
		fmt.Println("No active context.")
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.Remove(pointer); err != nil {
		return err
	}
	fmt.Printf("✅ Unloaded: %s\n", strings.TrimSpace(string(data)))
	return nil
}
