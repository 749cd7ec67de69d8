package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var f configFlags

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the wallboard database",
		Long:  "Migrates all tables and seeds the company settings and default alert rules. Existing rows are kept.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, &f)
		},
	}

	f.register(cmd)
	return cmd
}

func runDBInit(cmd *cobra.Command, f *configFlags) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(f)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s database\n", cfg.Database.Driver)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	if err := db.SeedDefaults(gormDB); err != nil {
		return err
	}
	fmt.Fprintln(out, "Seeded company settings and default alert rules")

	fmt.Fprintln(out, "\nWallboard database initialized successfully.")
	return nil
}
