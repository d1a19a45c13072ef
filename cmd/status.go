package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/sells-group/sightings/internal/engine"
	"github.com/sells-group/sightings/internal/metrics"
)

var statusMetrics bool

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the state of a submitted report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("status"); err != nil {
			return err
		}

		tc, err := engine.Dial(ctx, cfg.Temporal)
		if err != nil {
			return err
		}
		defer tc.Close()

		svc := newSubmissionService(tc, nil, nil)
		if statusMetrics {
			snaps, err := svc.Snapshots(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), metrics.Exposition(snaps))
			return err
		}

		job, err := svc.Status(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), job)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusMetrics, "metrics", false, "print the run's metrics snapshots instead of its status")
	rootCmd.AddCommand(statusCmd)
}
