package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bfd-etl/pipeline/internal/pipeline"
	"github.com/bfd-etl/pipeline/pkg/jobs"
	"github.com/bfd-etl/pipeline/pkg/metrics"
)

func newRunCmd() *cobra.Command {
	var once string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run all jobs until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opts := []pipeline.Option{pipeline.WithLogger(log)}
			if cfg.Metrics.Addr != "" {
				m, handler, err := metrics.New(ctx)
				if err != nil {
					return err
				}
				opts = append(opts, pipeline.WithMetrics(m, handler))
			}

			p, err := pipeline.New(ctx, cfg, opts...)
			if err != nil {
				return err
			}
			defer p.Close()

			if once != "" {
				return runOnce(ctx, p, jobs.JobType(once))
			}

			log.Info().
				Str("action", "pipeline_start").
				Int("job_count", len(p.JobTypes())).
				Str("record_store", cfg.Records.Store).
				Msg("Pipeline started")

			if err := p.Run(ctx); err != nil {
				return err
			}
			log.Info().
				Str("action", "pipeline_stopped").
				Msg("Pipeline stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&once, "once", "", "Run a single job once by type and exit")
	return cmd
}

func runOnce(ctx context.Context, p *pipeline.Pipeline, jobType jobs.JobType) error {
	log.Info().
		Str("action", "job_run_once").
		Str("job_type", jobType.String()).
		Msg("Running job once")

	outcome, err := p.RunOnce(ctx, jobType)
	if err != nil {
		return err
	}

	log.Info().
		Str("action", "job_run_once_complete").
		Str("job_type", jobType.String()).
		Str("outcome", outcome.String()).
		Msg("Job completed")
	return nil
}
