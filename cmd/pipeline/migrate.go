package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bfd-etl/pipeline/internal/config"
	"github.com/bfd-etl/pipeline/pkg/database/pool"
	"github.com/bfd-etl/pipeline/pkg/jobs/record"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the job record schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Records.Store != config.StorePostgres {
				fmt.Fprintf(cmd.OutOrStdout(), "Record store %q needs no migration.\n", cfg.Records.Store)
				return nil
			}

			db, err := pool.New(cmd.Context(), cfg.DatabaseURL(), cfg.PoolConfig())
			if err != nil {
				return err
			}
			defer db.Close()

			store := record.NewPostgresStore(db, cfg.Records.Schema)
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %s.\n", store.Table())
			return nil
		},
	}
}
