package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/ledgercore/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Example: `  # Apply everything not yet applied
  ledgerctl migrate

  # Show which migrations are applied
  ledgerctl migrate --status`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("status", false, "List migrations and whether they are applied")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := connect(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	status, _ := cmd.Flags().GetBool("status")
	if status {
		all, err := migrations.List()
		if err != nil {
			return err
		}
		done, err := migrations.Applied(ctx, e.pool)
		if err != nil {
			return err
		}
		for _, m := range all {
			if at, ok := done[m.Version]; ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%-32s applied %s\n", m.Version, at.Format("2006-01-02 15:04"))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%-32s pending\n", m.Version)
			}
		}
		return nil
	}

	applied, err := migrations.Apply(ctx, e.pool)
	for _, v := range applied {
		fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", v)
	}
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
	}
	return nil
}
