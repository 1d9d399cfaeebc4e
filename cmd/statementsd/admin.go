package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/joseph-ayodele/statement-pipeline/internal/server"
)

// withAdmin hands fn the admin API of a running daemon (--server) or of a local app
// built against the configured database.
func withAdmin(cmd *cobra.Command, needLLM bool, fn func(ctx context.Context, api server.JobAdminServer) error) error {
	ctx := cmd.Context()
	if serverAddr != "" {
		conn, err := grpc.NewClient(serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("dial %s: %w", serverAddr, err)
		}
		defer conn.Close()
		return fn(ctx, server.NewClient(conn))
	}

	if needLLM {
		if err := cfg.RequireLLM(); err != nil {
			return err
		}
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a.admin)
}

func printJSON(m proto.Message) error {
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(b))
	return err
}
