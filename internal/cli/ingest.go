package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dvloznov/txingest/internal/artifact"
	"github.com/dvloznov/txingest/internal/jobs"
	"github.com/spf13/cobra"
)

// IngestReport is the outcome of one file.
type IngestReport struct {
	File   string       `json:"file"`
	TaskID string       `json:"task_id,omitempty"`
	Status jobs.Payload `json:"status"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest files and wait for the results",
		Long: `Ingest one or more CSV, JSON or XML files through the job queue and
print the outcome of every job once all of them finished. Exits non-zero
when any job failed.

Example:
  txingest ingest trades.csv positions.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, rootOpts, args)
		},
	}
}

func runIngest(cmd *cobra.Command, opts *RootOptions, paths []string) error {
	ctx := cmd.Context()
	a, err := opts.openApp(ctx)
	if err != nil {
		return err
	}
	if err := a.Start(context.WithoutCancel(ctx)); err != nil {
		a.Shutdown(ctx)
		return err
	}

	reports := make([]IngestReport, 0, len(paths))
	for _, path := range paths {
		name := filepath.Base(path)
		report := IngestReport{File: name}

		id, err := submitFile(ctx, a.Artifacts, a.Tracker, path)
		if err != nil {
			msg := err.Error()
			report.Status = jobs.Payload{Status: "error", Error: &msg}
		}
		report.TaskID = id
		reports = append(reports, report)
	}

	// Shutdown drains the queue, so every submitted job is terminal afterwards.
	if err := a.Shutdown(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	failed := 0
	for i := range reports {
		if reports[i].TaskID != "" {
			job, err := a.Tracker.Status(ctx, reports[i].TaskID)
			if err != nil {
				return err
			}
			reports[i].Status = job.Payload()
		}
		if reports[i].Status.Status != "success" {
			failed++
		}
	}

	if err := writeJSON(cmd.OutOrStdout(), reports); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(reports))
	}
	return nil
}

func submitFile(ctx context.Context, artifacts artifact.Store, tracker *jobs.Tracker, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", errors.New("is a directory")
	}

	ref, err := artifacts.Save(ctx, filepath.Base(path), f)
	if err != nil {
		return "", err
	}
	return tracker.Submit(ctx, ref, filepath.Base(path))
}
