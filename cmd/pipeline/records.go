package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/bfd-etl/pipeline/internal/pipeline"
	"github.com/bfd-etl/pipeline/pkg/jobs"
	"github.com/bfd-etl/pipeline/pkg/jobs/record"
)

func newRecordsCmd() *cobra.Command {
	var (
		jobType string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "records",
		Short: "List pending job records, or the latest record of one job",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, db, err := pipeline.OpenStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}

			var records []*record.JobRecord
			if jobType != "" {
				rec, err := store.FindMostRecent(cmd.Context(), jobs.JobType(jobType))
				if err != nil {
					return err
				}
				records = append(records, rec)
			} else {
				records, err = store.FindPendingJobs(cmd.Context(), limit)
				if err != nil {
					return err
				}
			}

			printRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}

	cmd.Flags().StringVar(&jobType, "job", "", "Show the most recent record of this job type")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum pending records to list")
	cmd.AddCommand(newRecordsWaitCmd())
	return cmd
}

func newRecordsWaitCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait ID...",
		Short: "Block until the given job records reach a terminal status",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, db, err := pipeline.OpenStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return waitForRecords(ctx, cmd.OutOrStdout(), store, args)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Give up after this long")
	return cmd
}

// waitForRecords waits on the records named by args and prints them once
// they are all terminal.
func waitForRecords(ctx context.Context, w io.Writer, store record.Store, args []string) error {
	ids := make([]record.ID, 0, len(args))
	for _, arg := range args {
		id, err := record.ParseID(arg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	if err := record.WaitForJobs(ctx, store, ids...); err != nil {
		return err
	}

	records := make([]*record.JobRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	printRecords(w, records)
	return nil
}

func printRecords(w io.Writer, records []*record.JobRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No job records found.")
		return
	}

	fmt.Fprintf(w, "%-36s  %-24s  %-10s  %-20s  %s\n", "ID", "JOB", "STATUS", "CREATED", "DETAIL")
	fmt.Fprintf(w, "%-36s  %-24s  %-10s  %-20s  %s\n", "--", "---", "------", "-------", "------")
	for _, rec := range records {
		detail := ""
		switch {
		case rec.Failure != nil:
			detail = rec.Failure.Message
		case rec.Outcome.Valid():
			detail = rec.Outcome.String()
		}
		fmt.Fprintf(w, "%-36s  %-24s  %-10s  %-20s  %s\n",
			rec.ID, rec.JobType, rec.Status, rec.CreatedAt.Format(time.RFC3339), detail)
	}
}
