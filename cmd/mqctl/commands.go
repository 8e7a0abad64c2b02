package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mergequeue/mqd/internal/dispatcher"
)

var flagJSON bool

var (
	flagAgentID      string
	flagSessionID    string
	flagBranch       string
	flagWorktree     string
	flagTargetBranch string
)

func requireAgentID(cmd *cobra.Command) error {
	if flagAgentID == "" {
		return fmt.Errorf("--agent is required")
	}
	return nil
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Submit a branch for merging",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAgentID(cmd); err != nil {
			return err
		}
		if flagBranch == "" || flagTargetBranch == "" {
			return fmt.Errorf("--branch and --target are required")
		}
		resp, err := send(dispatcher.Request{
			Type:         dispatcher.ReqEnqueue,
			AgentID:      flagAgentID,
			SessionID:    flagSessionID,
			Branch:       flagBranch,
			Worktree:     flagWorktree,
			TargetBranch: flagTargetBranch,
		})
		if err != nil {
			return err
		}
		if resp.Error != "" {
			return fmt.Errorf("%s", resp.Error)
		}
		position := 0
		if resp.Position != nil {
			position = *resp.Position
		}
		fmt.Printf("%s queued at position %d\n", color.GreenString("✓"), position)
		return nil
	},
}

var dequeueCmd = &cobra.Command{
	Use:   "dequeue",
	Short: "Withdraw an agent's queued entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAgentID(cmd); err != nil {
			return err
		}
		resp, err := send(dispatcher.Request{Type: dispatcher.ReqDequeue, AgentID: flagAgentID})
		if err != nil {
			return err
		}
		if resp.Error != "" {
			return fmt.Errorf("%s", resp.Error)
		}
		fmt.Printf("%s dequeued\n", color.GreenString("✓"))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue occupancy",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := send(dispatcher.Request{Type: dispatcher.ReqStatus})
		if err != nil {
			return err
		}
		if flagJSON {
			enc := json.NewEncoder(os.Stdout)
			return enc.Encode(resp)
		}
		fmt.Printf("queue length: %d\n", resp.QueueLength)
		fmt.Printf("pending:      %d\n", resp.Pending)
		fmt.Printf("processing:   %d\n", resp.Processing)
		if len(resp.Agents) > 0 {
			fmt.Printf("agents:       %v\n", resp.Agents)
		}
		return nil
	},
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List conflicted files for an agent's entry",
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
			fmt.Println("no conflicts")
			return nil
		}
		for _, f := range resp.Files {
			fmt.Println(f)
		}
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-queue a conflicted or failed entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAgentID(cmd); err != nil {
			return err
		}
		resp, err := send(dispatcher.Request{Type: dispatcher.ReqRetry, AgentID: flagAgentID})
		if err != nil {
			return err
		}
		if resp.Error != "" {
			return fmt.Errorf("%s", resp.Error)
		}
		position := 0
		if resp.Position != nil {
			position = *resp.Position
		}
		fmt.Printf("%s re-queued at position %d\n", color.GreenString("✓"), position)
		return nil
	},
}

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Block until an agent's entry resolves (not yet implemented)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAgentID(cmd); err != nil {
			return err
		}
		resp, err := send(dispatcher.Request{Type: dispatcher.ReqWait, AgentID: flagAgentID})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%s %s\n", color.YellowString("⚠"), resp.Details)
		fmt.Println(resp.Result)
		return nil
	},
}

var sessionEndCmd = &cobra.Command{
	Use:   "session-end",
	Short: "Notify the daemon that a session has ended (informational only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagSessionID == "" {
			return fmt.Errorf("--session is required")
		}
		resp, err := send(dispatcher.Request{Type: dispatcher.ReqSessionEnd, SessionID: flagSessionID})
		if err != nil {
			return err
		}
		if resp.Error != "" {
			return fmt.Errorf("%s", resp.Error)
		}
		fmt.Printf("%s session end recorded\n", color.GreenString("✓"))
		return nil
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop the daemon from claiming further work",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := send(dispatcher.Request{Type: dispatcher.ReqShutdown})
		if err != nil {
			return err
		}
		if resp.Error != "" {
			return fmt.Errorf("%s", resp.Error)
		}
		fmt.Printf("%s shutdown requested\n", color.GreenString("✓"))
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{enqueueCmd, dequeueCmd, conflictsCmd, retryCmd, waitCmd} {
		cmd.Flags().StringVar(&flagAgentID, "agent", "", "agent identifier")
	}
	enqueueCmd.Flags().StringVar(&flagSessionID, "session", "", "session identifier")
	enqueueCmd.Flags().StringVar(&flagBranch, "branch", "", "branch to merge")
	enqueueCmd.Flags().StringVar(&flagWorktree, "worktree", "", "agent's worktree path")
	enqueueCmd.Flags().StringVar(&flagTargetBranch, "target", "", "branch to merge into")
	sessionEndCmd.Flags().StringVar(&flagSessionID, "session", "", "session identifier")
	statusCmd.Flags().BoolVar(&flagJSON, "json", false, "print status as JSON")
}
