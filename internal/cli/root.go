// Package cli provides the surveyload command line.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/JonMunkholm/surveyload/internal/config"
	"github.com/JonMunkholm/surveyload/internal/logging"
	"github.com/JonMunkholm/surveyload/internal/store"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

// configKey stores the loaded config in the command context.
type configKey struct{}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "surveyload",
		Short: "Load DHS survey dictionaries and fixed-width data into PostgreSQL",
		Long: `surveyload parses CSPro dictionaries (.DCF), splits the fixed-width data
files they describe (.DAT) into one rowset per record type, evolves the
destination tables additively and loads the rows.

Every command that can write is a dry run unless --live is given or
load.dry_run is set to false.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, configKey{}, cfg))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "YAML config file")
	pf.String("database-url", "", "PostgreSQL connection string (env DATABASE_URL)")
	pf.String("data-schema", "", "schema holding the data tables (default dhs_data_tables)")
	pf.String("meta-schema", "", "schema holding metadata and load history (default dhs_metadata)")
	pf.String("encoding", "", "fallback encoding for files that are not UTF-8 (default windows-1252)")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.String("log-format", "", "text or json")

	_ = rootCmd.RegisterFlagCompletionFunc("log-format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(newParseCmd())
	rootCmd.AddCommand(newSplitCmd())
	rootCmd.AddCommand(newLoadCmd())
	rootCmd.AddCommand(newMetadataCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// configFrom returns the config loaded by the root command.
func configFrom(ctx context.Context) *config.Config {
	if c, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return c
	}
	return &config.Config{}
}

// openStore connects to the configured database.
func openStore(ctx context.Context, cfg *config.Config) (*store.DB, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	return store.Open(ctx, store.Options{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		DataSchema:      cfg.Schema.Data,
		MetadataSchema:  cfg.Schema.Metadata,
		BatchSize:       cfg.Load.BatchSize,
	})
}
