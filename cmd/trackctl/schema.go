package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/syssam/tracker/dialect"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create the demo tables",
	Args:  cobra.NoArgs,
	RunE:  runSchema,
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}

func runSchema(cmd *cobra.Command, _ []string) error {
	drv, err := open()
	if err != nil {
		return err
	}
	defer drv.Close()
	stmts, ok := ddl[dialect.Name(driverName)]
	if !ok {
		return fmt.Errorf("no schema for driver %q", driverName)
	}
	for _, stmt := range stmts {
		if _, err := drv.DB().ExecContext(cmd.Context(), stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %d tables\n", len(stmts))
	return nil
}
