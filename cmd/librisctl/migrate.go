package main

import (
	"fmt"

	"github.com/AfshinJalili/libris/libs/schema"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			pool, err := connectDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := schema.Apply(ctx, pool)
			if err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			version, err := schema.Current(ctx, pool)
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migrations, schema at version %d\n", applied, version)
			return nil
		},
	}
}
