package main

import (
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply store migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}

			logger.Info("migrations applied")
			return nil
		},
	}
}
