package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mergequeue/mqd/internal/advisor"
	"github.com/mergequeue/mqd/internal/config"
	"github.com/mergequeue/mqd/internal/dispatcher"
)

var adviseCmd = &cobra.Command{
	Use:   "advise",
	Short: "Suggest resolutions for an agent's conflicted files (read-only, does not write)",
	Long: `advise asks mqd which files are conflicted for --agent, reads those
files from the current worktree, and asks the configured model for a
suggested resolution. It never edits the files or touches the
repository; the suggestion is printed for a human or the owning agent
to act on. Run it from within the agent's own worktree, where the
conflict markers from a locally retried merge are actually present —
the daemon itself always aborts a failed merge, so the shared
repository never carries them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAgentID(cmd); err != nil {
			return err
		}

		resp, err := send(dispatcher.Request{Type: dispatcher.ReqConflicts, AgentID: flagAgentID})
		if err != nil {
			return err
		}
		if resp.Error != "" {
			return fmt.Errorf("%s", resp.Error)
		}
		if len(resp.Files) == 0 {
			fmt.Println("no conflicts recorded for this agent")
			return nil
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		a, err := advisor.New(cfg)
		if err != nil {
			return fmt.Errorf("build advisor: %w", err)
		}

		var files []advisor.ConflictFile
		for _, path := range resp.Files {
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			files = append(files, advisor.ConflictFile{Path: path, Content: string(content)})
		}

		suggestions, err := a.Advise(cmd.Context(), flagBranch, flagTargetBranch, files)
		if err != nil {
			return err
		}

		for _, s := range suggestions {
			fmt.Printf("%s %s\n\n%s\n\n", color.CyanString("▸"), s.Path, s.Resolution)
		}
		return nil
	},
}

func init() {
	adviseCmd.Flags().StringVar(&flagAgentID, "agent", "", "agent identifier")
	adviseCmd.Flags().StringVar(&flagBranch, "branch", "", "conflicted branch (for context)")
	adviseCmd.Flags().StringVar(&flagTargetBranch, "target", "", "target branch (for context)")
}
