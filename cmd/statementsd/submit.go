package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/statement-pipeline/internal/async"
	"github.com/joseph-ayodele/statement-pipeline/internal/ingest"
)

var (
	submitProcess bool
	skipHidden    bool
	watchInitial  bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <file-or-dir>...",
	Short: "Ingest statements: large ones are queued, small ones are extracted directly",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireLLM(); err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		failed := 0
		for _, p := range args {
			info, err := os.Stat(p)
			if err != nil {
				return err
			}
			if info.IsDir() {
				results, stats, err := a.ingest.IngestDirectory(ctx, p, skipHidden)
				if err != nil {
					return err
				}
				failed += int(stats.Failed)
				if err := enc.Encode(map[string]any{"root": p, "stats": stats, "results": results}); err != nil {
					return err
				}
				continue
			}
			res, err := a.ingest.IngestPath(ctx, p)
			if err != nil {
				failed++
				res.Err = err.Error()
			}
			if err := enc.Encode(res); err != nil {
				return err
			}
		}

		if submitProcess {
			res, err := a.scheduler.Trigger(ctx)
			if err != nil {
				return err
			}
			if err := enc.Encode(res); err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d file(s) failed", failed)
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <dir>...",
	Short: "Ingest statements as they appear under the given directories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireLLM(); err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		paths, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
			Roots:       args,
			InitialScan: watchInitial,
			SkipHidden:  skipHidden,
			Debounce:    500 * time.Millisecond,
		}, logger)
		if err != nil {
			return err
		}
		go func() {
			for range errs {
				// already logged by the watcher
			}
		}()
		logger.Info("ingest.watch.started", "roots", args)
		q := async.NewWorkerQueue(a.ingest.Handle, logger, async.WithWorkers(ingestWorkers))
		a.ingest.Follow(ctx, paths, q)
		q.Shutdown(context.WithoutCancel(ctx))
		return nil
	},
}

func init() {
	submitCmd.Flags().BoolVar(&submitProcess, "process", false, "Run a processing pass after submitting")
	submitCmd.Flags().BoolVar(&skipHidden, "skip-hidden", true, "Skip hidden files and directories")
	watchCmd.Flags().BoolVar(&skipHidden, "skip-hidden", true, "Skip hidden files and directories")
	watchCmd.Flags().IntVar(&ingestWorkers, "workers", 2, "Concurrent ingestions")
	watchCmd.Flags().BoolVar(&watchInitial, "initial-scan", false, "Ingest files already present under the roots")
}
