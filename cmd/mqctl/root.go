package main

import (
	"github.com/spf13/cobra"
)

var socketPath string

var rootCmd = &cobra.Command{
	Use:   "mqctl",
	Short: "Client for the merge queue daemon",
	Long: `mqctl talks to a running mqd over its Unix domain socket.

Use "mqctl [command] --help" for more information about a command.`,
}

func init() {
	rootCmd.Version = Version()
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "daemon socket path (default: from config)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(dequeueCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(waitCmd)
	rootCmd.AddCommand(sessionEndCmd)
	rootCmd.AddCommand(shutdownCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(adviseCmd)
}
