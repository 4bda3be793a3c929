package main

import (
	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/xenking/cake-heaven/internal/storage/postgres"
)

func (r *root) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			pool, err := r.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgres.RunMigrations(ctx, pool); err != nil {
				return errors.Wrap(err, "migrate")
			}
			r.lg.Info("Schema is up to date")
			return nil
		},
	}
}
