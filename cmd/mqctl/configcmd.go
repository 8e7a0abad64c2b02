package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mergequeue/mqd/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved configuration, including Anthropic key status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		key, err := config.GetAPIKey(cfg)
		switch {
		case err != nil:
			fmt.Printf("anthropic api key: %s (source: %s)\n", "(not set)", config.GetAPIKeySource(cfg))
		default:
			if verr := config.ValidateAPIKey(key); verr != nil {
				fmt.Printf("anthropic api key: %s, but invalid: %v (source: %s)\n", config.MaskAPIKey(key), verr, config.GetAPIKeySource(cfg))
			} else {
				fmt.Printf("anthropic api key: %s (source: %s)\n", config.MaskAPIKey(key), config.GetAPIKeySource(cfg))
			}
		}

		fmt.Printf("repo path:         %s\n", cfg.Daemon.RepoPath)
		fmt.Printf("socket path:       %s\n", cfg.Daemon.SocketPath)
		fmt.Printf("merge strategy:    %s\n", cfg.Queue.MergeStrategy)
		fmt.Printf("max queue size:    %d\n", cfg.Queue.MaxQueueSize)
		fmt.Printf("max retries:       %d\n", cfg.Queue.MaxRetries)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
