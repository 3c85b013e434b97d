package main

import (
	"errors"
	"fmt"

	"chatflow-access-api/internal/config"
	"chatflow-access-api/internal/database"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Apply pending migrations (the default), move to a given version, roll back,
print the schema version, or force the version after repairing a failed migration.`,
	RunE: runMigrate,
}

var (
	migrateDown    int
	migrateTo      uint
	migrateForce   int
	migrateVersion bool
)

func init() {
	f := migrateCmd.Flags()
	f.IntVar(&migrateDown, "down", 0, "roll back this many migrations")
	f.UintVar(&migrateTo, "to", 0, "migrate up or down to this version")
	f.IntVar(&migrateForce, "force", -1, "mark this version as applied and clear the dirty flag")
	f.BoolVar(&migrateVersion, "version", false, "print the current and latest schema version")
	migrateCmd.MarkFlagsMutuallyExclusive("down", "to", "force", "version")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out := cmd.OutOrStdout()
	flags := cmd.Flags()

	switch {
	case migrateVersion:
		current, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		latest, err := database.LatestVersion()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "schema version %d of %d (dirty=%t)\n", current, latest, dirty)
		return nil

	case flags.Changed("force"):
		if migrateForce < 0 {
			return errors.New("--force needs a version >= 0")
		}
		if err := database.ForceVersion(cfg.DatabaseURL, migrateForce); err != nil {
			return err
		}
		fmt.Fprintf(out, "schema version forced to %d\n", migrateForce)
		return nil

	case flags.Changed("to"):
		if err := database.MigrateTo(cfg.DatabaseURL, migrateTo); err != nil {
			return err
		}
		fmt.Fprintf(out, "schema at version %d\n", migrateTo)
		return nil

	case migrateDown > 0:
		if err := database.RollbackMigrations(cfg.DatabaseURL, migrateDown); err != nil {
			return err
		}
		fmt.Fprintf(out, "rolled back %d migration(s)\n", migrateDown)
		return nil
	}

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return err
	}
	fmt.Fprintln(out, "migrations applied")
	return nil
}
