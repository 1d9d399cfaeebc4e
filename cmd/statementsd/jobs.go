package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joseph-ayodele/statement-pipeline/internal/server"
)

var statusFilter string

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one processing pass over the pending queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(cmd, true, func(ctx context.Context, api server.JobAdminServer) error {
			res, err := api.ProcessNow(ctx, &emptypb.Empty{})
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <filename>",
	Short: "Reset one failed job to pending if it has retry budget left",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(cmd, false, func(ctx context.Context, api server.JobAdminServer) error {
			ok, err := api.RetryJob(ctx, wrapperspb.String(args[0]))
			if err != nil {
				return err
			}
			if !ok.GetValue() {
				return fmt.Errorf("%s is not retry-eligible", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s reset to pending\n", args[0])
			return nil
		})
	},
}

var retryAllCmd = &cobra.Command{
	Use:   "retry-all",
	Short: "Reset every retry-eligible failed job and process the queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(cmd, true, func(ctx context.Context, api server.JobAdminServer) error {
			res, err := api.RetryAllFailed(ctx, &emptypb.Empty{})
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var setMaxRetriesCmd = &cobra.Command{
	Use:   "set-max-retries <filename> <n>",
	Short: "Change the retry budget of one job",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("max retries must be an integer: %w", err)
		}
		req, err := structpb.NewStruct(map[string]any{"filename": args[0], "max_retries": n})
		if err != nil {
			return err
		}
		return withAdmin(cmd, false, func(ctx context.Context, api server.JobAdminServer) error {
			if _, err := api.SetMaxRetries(ctx, req); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s max_retries=%d\n", args[0], n)
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <filename>",
	Short: "Delete a job and its stored chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(cmd, false, func(ctx context.Context, api server.JobAdminServer) error {
			ok, err := api.DeleteJob(ctx, wrapperspb.String(args[0]))
			if err != nil {
				return err
			}
			if !ok.GetValue() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no such job\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", args[0])
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show job counts, and the jobs themselves when --status is given",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(cmd, false, func(ctx context.Context, api server.JobAdminServer) error {
			sum, err := api.GetSummary(ctx, &emptypb.Empty{})
			if err != nil {
				return err
			}
			if err := printJSON(sum); err != nil {
				return err
			}
			if statusFilter == "" {
				return nil
			}
			req, err := structpb.NewStruct(map[string]any{"status": statusFilter})
			if err != nil {
				return err
			}
			jobs, err := api.ListJobs(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(jobs)
		})
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "List jobs in this status (pending, processing, completed, failed)")
}
