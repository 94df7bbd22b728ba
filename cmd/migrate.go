package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sudhirig/mfscore/internal/navsync"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if cfg.Store.Driver == "sqlite" {
			fmt.Printf("SQLite schema ready at %s\n", cfg.Store.SQLitePath)
			return nil
		}
		names, err := navsync.MigrationNames()
		if err != nil {
			return err
		}
		fmt.Printf("Postgres schema at %d migrations:\n", len(names))
		for _, n := range names {
			fmt.Printf("  %s\n", n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
