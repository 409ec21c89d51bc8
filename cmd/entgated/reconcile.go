package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation sweep and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			engine, err := buildEngine(logger)
			if err != nil {
				return err
			}
			if err := engine.Start(cmd.Context()); err != nil {
				return err
			}
			defer engine.Stop() //nolint:errcheck

			report, err := engine.Scan(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
