package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mergequeue/mqd/internal/config"
	"github.com/mergequeue/mqd/internal/dispatcher"
	"github.com/mergequeue/mqd/internal/git"
	"github.com/mergequeue/mqd/internal/merger"
	"github.com/mergequeue/mqd/internal/mergequeue"
	"github.com/mergequeue/mqd/internal/store"
)

var (
	verbose        bool
	flagSocketPath string
	flagRepoPath   string
	flagDBPath     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the merge queue daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&verbose, "verbose", false, "print debug logging")
	serveCmd.Flags().StringVar(&flagSocketPath, "socket", "", "override daemon socket path")
	serveCmd.Flags().StringVar(&flagRepoPath, "repo", "", "override shared repository path")
	serveCmd.Flags().StringVar(&flagDBPath, "db", "", "override Store database path")
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flagSocketPath != "" {
		cfg.Daemon.SocketPath = flagSocketPath
	}
	if flagRepoPath != "" {
		cfg.Daemon.RepoPath = flagRepoPath
	}
	if flagDBPath != "" {
		cfg.Daemon.DBPath = flagDBPath
	}

	dbPath := cfg.Daemon.DBPath
	if dbPath == "" {
		dbPath = store.DefaultDBPath()
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store at %s: %w", dbPath, err)
	}
	defer st.Close()

	repoPath, err := filepath.Abs(cfg.Daemon.RepoPath)
	if err != nil {
		return fmt.Errorf("resolve repo path: %w", err)
	}

	runner := git.NewRunner(repoPath)

	mergeStrategy := merger.Strategy(cfg.Queue.MergeStrategy)
	if !mergeStrategy.Valid() {
		return fmt.Errorf("invalid queue.merge_strategy %q", cfg.Queue.MergeStrategy)
	}
	m := merger.New(runner, mergeStrategy)
	if verbose {
		m.DebugLog = debugLog
	}

	queue := mergequeue.NewQueue(st, mergequeue.Config{
		MaxQueueSize:      cfg.Queue.MaxQueueSize,
		MaxRetries:        cfg.Queue.MaxRetries,
		TerminalRetention: cfg.Queue.TerminalRetention,
	})

	if err := queue.Recover(); err != nil {
		return fmt.Errorf("recover queue: %w", err)
	}

	proc := mergequeue.NewProcessor(queue, m)
	if verbose {
		proc.DebugLog = debugLog
	}

	socketPath := cfg.Daemon.SocketPath
	srv := dispatcher.New(socketPath, queue)
	if verbose {
		srv.DebugLog = debugLog
	}

	watcher, err := startConfigWatcher(queue, m, cfg.Queue.MaxQueueSize, cfg.Queue.TerminalRetention)
	if err != nil && verbose {
		debugLog("config watcher unavailable: %v", err)
	}
	if watcher != nil {
		defer watcher.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nreceived interrupt, shutting down...")
		queue.Shutdown()
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	fmt.Printf("%s mqd listening on %s, repo %s\n", color.GreenString("✓"), socketPath, repoPath)

	proc.Run(ctx)

	srv.Close()
	return <-errCh
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// startConfigWatcher applies only the keys config.IsHotReloadable allows:
// queue.max_retries and queue.merge_strategy. max_queue_size and
// terminal_retention keep the value the daemon started with.
func startConfigWatcher(queue *mergequeue.Queue, m *merger.Merger, maxQueueSize int, terminalRetention time.Duration) (*config.Watcher, error) {
	path := configPath
	if path == "" {
		path = config.GetProjectConfigPath()
	}
	if path == "" {
		path = config.GetUserConfigPath()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	return config.NewWatcher(path, func(reloaded *config.Config) {
		queue.SetConfig(mergequeue.Config{
			MaxQueueSize:      maxQueueSize,
			MaxRetries:        reloaded.Queue.MaxRetries,
			TerminalRetention: terminalRetention,
		})

		strategy := merger.Strategy(reloaded.Queue.MergeStrategy)
		if strategy.Valid() {
			m.SetStrategy(strategy)
		}
	})
}

func debugLog(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[debug] "+format+"\n", args...)
}
