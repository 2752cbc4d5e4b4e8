package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/surveyload/internal/core"
	"github.com/JonMunkholm/surveyload/internal/load"
	"github.com/JonMunkholm/surveyload/internal/reconcile"
	"github.com/spf13/cobra"
)

type loadOptions struct {
	dictPath string
	pairs    []string
}

func newLoadCmd() *cobra.Command {
	opts := &loadOptions{}

	cmd := &cobra.Command{
		Use:   "load [--dictionary DCF DAT... | --pair DIR]",
		Short: "Reconcile the destination tables and load survey data",
		Long: `Parse the dictionaries, split the data files and load every record type
into its own table in the data schema.

Tables are created on first sight and only ever grow: missing columns are
added and too-narrow columns widened. Tables declaring more columns than
--pack-threshold are created packed, with the non-key columns in one jsonb
document.

For each survey and table the rows already stored are compared with the
file: an empty table is inserted, a larger file replaces the survey's rows,
anything else is skipped unless --reload-on-modification is set and the
table changed in this run.

Nothing is written unless --live is given (or load.dry_run is false in the
config file or SURVEYLOAD_DRY_RUN=false). A dry run reports the DDL and the
load actions it would perform.`,
		Example: `  # Plan a load
  surveyload load --dictionary 524.KEHR7A.DCF 524.KEHR7A.DAT

  # Load every dictionary/data pair of a directory
  surveyload load --pair extracted/ --live`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.dictPath, "dictionary", "d", "", "dictionary (.DCF) describing the data files")
	f.StringSliceVar(&opts.pairs, "pair", nil, "directory whose .DCF and .DAT files are paired by file code")
	f.Bool("live", false, "execute DDL and writes (default is a dry run)")
	f.Bool("reload-on-modification", false, "replace a survey's rows when its table changed in this run")
	f.Int("workers", 0, "tables of one file loaded concurrently (default 1)")
	f.Int("batch-size", 0, "rows per INSERT statement (default 1000)")
	f.Int("issue-limit", 0, "line issues kept per file (default 100)")
	f.Duration("timeout", 0, "bound on the whole run (default 30m)")
	f.Int("pack-threshold", 0, "declared column count above which new tables are packed (default 500)")
	f.StringSlice("country-specific", nil, "tables that are always packed")

	return cmd
}

func runLoad(cmd *cobra.Command, opts *loadOptions, args []string) error {
	ctx := cmd.Context()
	cfg := configFrom(ctx)

	jobs, err := collectJobs(opts.dictPath, args, opts.pairs)
	if err != nil {
		return err
	}
	fallback, _, err := parseSettings(cfg)
	if err != nil {
		return err
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	mode := load.ModeFromDryRun(cfg.Load.DryRun)
	if mode == load.Live {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}

	reconciler := reconcile.New(db, reconcile.Policy{
		Threshold:       cfg.Packing.Threshold,
		CountrySpecific: cfg.Packing.CountrySpecific,
	}, reconcile.WithLogger(slog.Default()))

	coord := load.NewCoordinator(db, reconciler, load.Options{
		Mode:                 mode,
		ReloadOnModification: cfg.Load.ReloadOnModification,
	})

	svc := core.NewService(coord, db, core.Options{
		Workers:         cfg.Load.Workers,
		IssueLimit:      cfg.Load.IssueLimit,
		Fallback:        fallback,
		CountrySpecific: cfg.Packing.CountrySpecific,
		Timeout:         cfg.Load.Timeout,
	})

	report, runErr := svc.Run(ctx, jobs)
	renderReport(cmd.OutOrStdout(), report)
	if runErr != nil {
		return runErr
	}
	if failures := report.Failures(); len(failures) > 0 {
		return fmt.Errorf("%d failures in run %s", len(failures), report.RunID)
	}
	return nil
}

// collectJobs builds the batch from an explicit dictionary with its data
// files and from paired directories.
func collectJobs(dictPath string, data, pairs []string) ([]core.Job, error) {
	var jobs []core.Job
	for _, dir := range pairs {
		found, err := core.DiscoverJobs(dir)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			slog.Warn("no dictionaries found", "dir", dir)
		}
		jobs = append(jobs, found...)
	}

	switch {
	case dictPath != "":
		if len(data) == 0 {
			return nil, errors.New("--dictionary needs at least one data file")
		}
		jobs = append(jobs, core.Job{Dictionary: dictPath, Data: data})
	case len(data) > 0:
		return nil, errors.New("data files given without --dictionary")
	}

	if len(jobs) == 0 {
		return nil, errors.New("nothing to load: give --dictionary with data files or --pair")
	}
	return jobs, nil
}
