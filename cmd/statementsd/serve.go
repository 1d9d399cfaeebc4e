package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/statement-pipeline/internal/async"
	"github.com/joseph-ayodele/statement-pipeline/internal/ingest"
	"github.com/joseph-ayodele/statement-pipeline/internal/server"
)

var (
	serveWatch      []string
	serveSkipHidden bool
	healthInterval  time.Duration
	ingestWorkers   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the admin gRPC server",
	Args:  cobra.NoArgs,
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

		hs := server.NewHealth(a.db, cfg.Database.DialTimeout, logger)
		if err := hs.Probe(ctx); err != nil {
			return fmt.Errorf("database health: %w", err)
		}
		logger.Info("DB health OK")

		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		srv := server.NewGRPCServer(a.admin, hs, logger)

		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
		defer a.scheduler.Stop()

		g, gctx := errgroup.WithContext(ctx)
		if len(serveWatch) > 0 {
			paths, _, err := ingest.StartWatcher(gctx, ingest.WatchConfig{
				Roots:       serveWatch,
				InitialScan: true,
				SkipHidden:  serveSkipHidden,
				Debounce:    500 * time.Millisecond,
			}, logger)
			if err != nil {
				_ = lis.Close()
				return fmt.Errorf("watch: %w", err)
			}
			q := async.NewWorkerQueue(a.ingest.Handle, logger, async.WithWorkers(ingestWorkers))
			g.Go(func() error {
				a.ingest.Follow(gctx, paths, q)
				q.Shutdown(context.WithoutCancel(gctx))
				return nil
			})
		}
		g.Go(func() error { return server.Serve(gctx, srv, lis, logger) })
		g.Go(func() error {
			hs.Watch(gctx, healthInterval)
			return nil
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().StringSliceVar(&serveWatch, "watch", nil, "Directories to watch for new statements")
	serveCmd.Flags().BoolVar(&serveSkipHidden, "skip-hidden", true, "Ignore hidden files and directories when watching")
	serveCmd.Flags().IntVar(&ingestWorkers, "workers", 2, "Concurrent ingestions of watched files")
	serveCmd.Flags().DurationVar(&healthInterval, "health-interval", 30*time.Second, "How often the database is probed for the health service")
}
