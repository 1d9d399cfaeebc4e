package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/statement-pipeline/internal/server"
)

var (
	exportOut      string
	exportFrom     string
	exportTo       string
	exportFilename string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write transactions and jobs to an XLSX workbook",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := structpb.NewStruct(map[string]any{
			"from":     exportFrom,
			"to":       exportTo,
			"filename": exportFilename,
		})
		if err != nil {
			return err
		}
		return withAdmin(cmd, false, func(ctx context.Context, api server.JobAdminServer) error {
			out, err := api.ExportXLSX(ctx, req)
			if err != nil {
				return err
			}
			if err := os.WriteFile(exportOut, out.GetValue(), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", exportOut, len(out.GetValue()))
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "statements.xlsx", "Output file")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "First transaction date, YYYY-MM-DD")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Last transaction date, YYYY-MM-DD")
	exportCmd.Flags().StringVar(&exportFilename, "filename", "", "Only this statement")
}
