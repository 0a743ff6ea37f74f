package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"amese/labsync/internal/failsink"
	"amese/labsync/pkg/config"
	"amese/labsync/pkg/logger"
)

var (
	replayDir    string
	replayFiles  []string
	replayLimit  int
	replaySend   bool
	replayMoveOK bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-deliver orders from the failure directory",
	Long: `Reads failure records and pushes them through the transform and
delivery pipeline again. Without --send nothing leaves the machine: each
record is transformed and the outcome reported, which is enough to tell
whether a fixed test map or catalog entry unblocks it.`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayDir, "dir", "", "failure directory (default: monitor.failed_dir from config)")
	replayCmd.Flags().StringArrayVar(&replayFiles, "file", nil, "replay only these record files (repeatable)")
	replayCmd.Flags().IntVar(&replayLimit, "limit", 0, "stop after N records (0 = all)")
	replayCmd.Flags().BoolVar(&replaySend, "send", false, "actually deliver instead of dry-running")
	replayCmd.Flags().BoolVar(&replayMoveOK, "move-ok", false, "move successfully delivered records into a sent/ subdirectory")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !replaySend {
		cfg.Bemsoft.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	zapLogger, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer zapLogger.Sync()

	ctx := context.Background()

	tf, client, err := buildPipeline(ctx, cfg, zapLogger)
	if err != nil {
		return err
	}

	opts := failsink.ReplayOptions{
		Dir:   cfg.Monitor.FailedDir,
		Files: replayFiles,
		Limit: replayLimit,
	}
	if replayDir != "" {
		opts.Dir = replayDir
	}
	if replayMoveOK {
		opts.MoveTo = filepath.Join(opts.Dir, "sent")
	}

	if !replaySend {
		cmd.Println("Dry run: records are transformed but not delivered. Use --send to deliver.")
	}

	res, err := failsink.Replay(ctx, opts, tf, client, zapLogger)
	if err != nil {
		return err
	}

	cmd.Printf("Replay finished: processed=%d succeeded=%d failed=%d\n",
		res.Processed, res.Succeeded, res.Failed)
	if res.Failed > 0 {
		return fmt.Errorf("%d record(s) still failing", res.Failed)
	}
	return nil
}
