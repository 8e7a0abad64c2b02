package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mqd",
	Short: "Merge queue daemon",
	Long: `mqd serializes concurrent agent merges into a single shared repository.

Agents enqueue their branch once their work is done; mqd merges entries
one at a time in FIFO order, persists queue state so a restart recovers
in-flight work, and reports conflicts back to the agent that caused them
instead of blocking every other agent behind it.

Use "mqd [command] --help" for more information about a command.`,
}

func init() {
	rootCmd.Version = Version()
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: project or user config)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}
