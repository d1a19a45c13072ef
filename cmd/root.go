package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sightings/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "sightings",
	Short: "Maritime sighting enrichment pipeline",
	Long:  "Accepts crowdsourced ship sightings, enriches them on Temporal with a report number, visibility, nearby vessels, a trust score and a narrative, and exposes the results as Prometheus metrics.",
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
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
