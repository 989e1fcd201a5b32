package main

import (
	"fmt"

	"github.com/jingkaihe/enhancer/pkg/db"
	"github.com/jingkaihe/enhancer/pkg/db/migrations"
	"github.com/jingkaihe/enhancer/pkg/presenter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management commands",
	Long:  `Commands for managing the enhancer storage database (migrations, status).`,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database migration status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		path, err := databasePath()
		if err != nil {
			return err
		}
		applied, err := db.GetMigrationStatus(ctx, path)
		if err != nil {
			return errors.Wrap(err, "failed to get migration status")
		}

		all := migrations.All()
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Database Migration Status")
		fmt.Fprintln(out, "=========================")
		fmt.Fprintf(out, "Database: %s\n\n", path)

		appliedSet := make(map[int64]bool, len(applied))
		for _, v := range applied {
			appliedSet[v] = true
		}
		count := 0
		for _, m := range all {
			status := "[ ]"
			if appliedSet[m.Version] {
				status = "[x]"
				count++
			}
			fmt.Fprintf(out, "%s %d - %s\n", status, m.Version, m.Description)
		}
		fmt.Fprintf(out, "\nApplied: %d/%d migrations\n", count, len(all))
		return nil
	},
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back the last database migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		path, err := databasePath()
		if err != nil {
			return err
		}
		applied, err := db.GetMigrationStatus(ctx, path)
		if err != nil {
			return errors.Wrap(err, "failed to get migration status")
		}
		if len(applied) == 0 {
			presenter.Warning("No migrations to roll back")
			return nil
		}

		last := applied[len(applied)-1]
		presenter.Info(fmt.Sprintf("Rolling back migration %d: %s", last, migrationDescription(migrations.All(), last)))

		if err := db.RollbackMigration(ctx, path, migrations.All()); err != nil {
			return errors.Wrap(err, "failed to roll back migration")
		}
		presenter.Success(fmt.Sprintf("Rolled back migration %d", last))
		return nil
	},
}

func migrationDescription(all []db.Migration, version int64) string {
	for _, m := range all {
		if m.Version == version {
			return m.Description
		}
	}
	return "unknown"
}

func init() {
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbRollbackCmd)
}
