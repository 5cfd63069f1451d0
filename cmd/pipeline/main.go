package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/bfd-etl/pipeline/internal/config"
	"github.com/bfd-etl/pipeline/internal/pipeline"
	"github.com/bfd-etl/pipeline/pkg/errors"
	"github.com/bfd-etl/pipeline/pkg/logger"
)

// Exit codes
const (
	exitFailure    = 1
	exitJobsFailed = 2
)

var (
	cfg *config.Config
	log *logger.Logger
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, pipeline.ErrJobsFailed) {
		return exitJobsFailed
	}
	return exitFailure
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pipeline",
		Short: "BFD data pipeline job scheduler",
		Long:  "Runs the pipeline's jobs on their schedules and tracks every run in the job record store.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return errors.Wrap(err, "invalid configuration")
			}
			cfg = loaded

			logger.Setup(cfg.Environment, cfg.LogLevel)
			log = logger.New("pipeline")
			return nil
		},
		SilenceUsage: true,
	}

	root.AddCommand(
		newRunCmd(),
		newMigrateCmd(),
		newRecordsCmd(),
	)

	return root
}
