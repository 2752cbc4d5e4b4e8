package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|status]",
		Short: "Apply or inspect the metadata schema migrations",
		Long: `Create the metadata schema and apply the embedded migrations for the
tablespec, valuespec, relationspec and load_history tables. "status" prints
the current migration version without changing anything.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}
			return runMigrate(cmd, action)
		},
	}
	return cmd
}

func runMigrate(cmd *cobra.Command, action string) error {
	if action != "up" && action != "status" {
		return fmt.Errorf("unknown migrate action %q: want up or status", action)
	}

	ctx := cmd.Context()
	cfg := configFrom(ctx)
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if action == "up" {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}

	version, err := db.MigrationVersion(ctx)
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: migration version %d\n", cfg.Schema.Metadata, version)
	return nil
}
