package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/sightings/internal/engine"
	"github.com/sells-group/sightings/internal/model"
	"github.com/sells-group/sightings/internal/storage"
	"github.com/sells-group/sightings/internal/submission"
)

var (
	submitWait         bool
	submitPollInterval time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit <report-file>",
	Short: "Submit a sighting report from a YAML or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("submit"); err != nil {
			return err
		}

		raw, err := loadReport(args[0])
		if err != nil {
			return err
		}

		tc, err := engine.Dial(ctx, cfg.Temporal)
		if err != nil {
			return err
		}
		defer tc.Close()

		var uploader *storage.Uploader
		if cfg.Storage.Enabled() && storage.IsDataURI(raw.PictureURL) {
			if uploader, err = initUploader(); err != nil {
				return err
			}
		}
		svc := newSubmissionService(tc, uploader, nil)

		handle, err := svc.Submit(ctx, raw, nil)
		if err != nil {
			return err
		}
		if !submitWait {
			return printJSON(cmd.OutOrStdout(), handle)
		}

		job, err := waitForJob(ctx, svc, handle.JobID, submitPollInterval)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), job)
	},
}

// loadReport reads a report file. JSON is accepted as a subset of YAML.
func loadReport(path string) (model.RawReport, error) {
	var raw model.RawReport
	data, err := os.ReadFile(path)
	if err != nil {
		return raw, eris.Wrapf(err, "read report %s", path)
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return raw, eris.Wrapf(err, "parse report %s", path)
	}
	return raw, nil
}

// waitForJob polls until the job reaches a terminal status.
func waitForJob(ctx context.Context, svc *submission.Service, jobID string, interval time.Duration) (*model.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := svc.Status(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, eris.Wrapf(ctx.Err(), "wait for %s", jobID)
		case <-ticker.C:
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}

func init() {
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "wait for enrichment to finish and print the result")
	submitCmd.Flags().DurationVar(&submitPollInterval, "poll-interval", 2*time.Second, "status poll interval with --wait")
	rootCmd.AddCommand(submitCmd)
}
