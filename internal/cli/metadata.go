package cli

import (
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/surveyload/internal/core"
	"github.com/JonMunkholm/surveyload/internal/dictionary"
	"github.com/JonMunkholm/surveyload/internal/store"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newMetadataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metadata DCF...",
		Short: "Publish flattened dictionaries to the metadata schema",
		Long: `Flatten each dictionary and replace its rows in the tablespec, valuespec
and relationspec tables of the metadata schema. Rows are replaced per
survey and file code in one transaction.

Nothing is written unless --live is given or load.dry_run is false.`,
		Example: `  surveyload metadata 524.KEHR7A.DCF --live`,
		Args:    cobra.MinimumNArgs(1),
		RunE:    runMetadata,
	}

	cmd.Flags().Bool("live", false, "write to the database (default is a dry run)")
	cmd.Flags().String("expand-ranges", "", "range expansion: All, Multiple or None")
	cmd.Flags().Int("range-limit", 0, "largest range expanded value by value (default 10000)")

	return cmd
}

func runMetadata(cmd *cobra.Command, paths []string) error {
	ctx := cmd.Context()
	cfg := configFrom(ctx)
	fallback, flatOpts, err := parseSettings(cfg)
	if err != nil {
		return err
	}

	var db *store.DB
	if !cfg.Load.DryRun {
		if db, err = openStore(ctx, cfg); err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}

	t := newTable(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Survey", "File code", "Columns", "Values", "Relations", "Replaced", "Status"})

	var failed int
	for _, path := range paths {
		d, err := core.ReadDictionary(path, fallback)
		if err != nil {
			failed++
			reportError(cmd.ErrOrStderr(), path, err)
			continue
		}
		spec := dictionary.Flatten(d.Model, flatOpts)

		if db == nil {
			t.AppendRow(table.Row{d.FileCode.SurveyID, d.FileCode.Code, len(spec.Columns), len(spec.Values), len(spec.Relations), "", "planned"})
			continue
		}

		res, err := db.PublishSpec(ctx, d.FileCode.SurveyID, d.FileCode.Code, spec)
		if err != nil {
			failed++
			reportError(cmd.ErrOrStderr(), path, err)
			t.AppendRow(table.Row{d.FileCode.SurveyID, d.FileCode.Code, "", "", "", "", status(err)})
			continue
		}
		slog.Info("metadata published", "survey", d.FileCode.SurveyID, "file_code", d.FileCode.Code,
			"columns", res.Columns, "values", res.Values, "relations", res.Relations)
		t.AppendRow(table.Row{d.FileCode.SurveyID, d.FileCode.Code, res.Columns, res.Values, res.Relations, res.Deleted, "ok"})
	}
	t.Render()

	if db == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Dry run: no metadata was written. Re-run with --live to apply.")
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d dictionaries failed", failed, len(paths))
	}
	return nil
}
