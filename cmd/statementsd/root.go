package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/statement-pipeline/internal/common"
)

var (
	configFile string
	envFile    string
	serverAddr string

	cfg    *common.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "statementsd",
	Short:         "Background extraction of bank statement transactions",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := common.LoadConfig(configFile, envFile)
		if err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c
		logger = common.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file (ignored when missing)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "Address of a running statementsd; job commands go through its admin API")

	rootCmd.AddCommand(serveCmd, submitCmd, watchCmd, exportCmd)
	rootCmd.AddCommand(processCmd, retryCmd, retryAllCmd, setMaxRetriesCmd, deleteCmd, statusCmd)
}
