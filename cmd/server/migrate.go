package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/unwatchhq/unwatch/internal/db"
)

var migrateSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := connectFromEnv()
		if err != nil {
			return err
		}
		defer database.Close()

		if err := db.MigrateUp(database.Conn()); err != nil {
			return err
		}
		return printVersion(cmd, database)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := connectFromEnv()
		if err != nil {
			return err
		}
		defer database.Close()

		if err := db.MigrateDown(database.Conn(), migrateSteps); err != nil {
			return err
		}
		return printVersion(cmd, database)
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := connectFromEnv()
		if err != nil {
			return err
		}
		defer database.Close()
		return printVersion(cmd, database)
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateSteps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd)
}

// connectFromEnv connects to DATABASE_URL for one-shot commands.
func connectFromEnv() (*db.DB, error) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("missing required env var DATABASE_URL")
	}
	return db.Connect(databaseURL)
}

func printVersion(cmd *cobra.Command, database *db.DB) error {
	version, dirty, err := db.MigrationVersion(database.Conn())
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty)\n", version)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
	return nil
}
