package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/candidate-intake/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "candidate-intake",
	Short: "Recruiting email intake for the CRM",
	Long:  "Filters vendor application emails, extracts candidate fields, and upserts customers with their initial status. Backlogs are reprocessed by a resumable, checkpointed batch job.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
