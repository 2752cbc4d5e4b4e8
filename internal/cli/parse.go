package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/JonMunkholm/surveyload/internal/config"
	"github.com/JonMunkholm/surveyload/internal/core"
	"github.com/JonMunkholm/surveyload/internal/dictionary"
	"github.com/JonMunkholm/surveyload/internal/textio"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/text/encoding"
)

func newParseCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "parse DCF...",
		Short: "Flatten dictionaries into column, value and relation CSV files",
		Long: `Parse each dictionary and write three CSV files per survey into --out:

  <survey>.<code>.FlatRecordSpec.csv     one row per column
  <survey>.<code>.FlatValuesSpec.csv     one row per legal value
  <survey>.<code>.RelationshipsSpec.csv  one row per relation link

Dictionaries are independent: a rejected dictionary does not stop the others.`,
		Example: `  surveyload parse 511.CMMR71.DCF 524.KEHR7A.DCF --out specs/
  surveyload parse *.DCF --expand-ranges Multiple`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(cmd, args, out)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", ".", "output directory")
	cmd.Flags().String("expand-ranges", "", "range expansion: All, Multiple or None")
	cmd.Flags().Int("range-limit", 0, "largest range expanded value by value (default 10000)")

	return cmd
}

func runParse(cmd *cobra.Command, paths []string, out string) error {
	cfg := configFrom(cmd.Context())
	fallback, flatOpts, err := parseSettings(cfg)
	if err != nil {
		return err
	}

	t := newTable(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Survey", "File code", "Encoding", "Tables", "Columns", "Values", "Relations", "Warnings"})

	var failed int
	for _, path := range paths {
		d, err := core.ReadDictionary(path, fallback)
		if err != nil {
			failed++
			reportError(cmd.ErrOrStderr(), path, err)
			continue
		}

		spec := dictionary.Flatten(d.Model, flatOpts)
		written, err := spec.WriteFiles(out, d.FileCode.String())
		if err != nil {
			failed++
			reportError(cmd.ErrOrStderr(), path, err)
			continue
		}
		for _, w := range d.Model.Warnings {
			slog.Warn("dictionary warning", "path", path, "line", w.Line, "warning", w.Message)
		}
		slog.Debug("spec written", "path", path, "files", written)

		t.AppendRow(table.Row{d.FileCode.SurveyID, d.FileCode.Code, d.Encoding, len(d.Model.Tables),
			len(spec.Columns), len(spec.Values), len(spec.Relations), len(d.Model.Warnings)})
	}
	t.Render()

	if failed > 0 {
		return fmt.Errorf("%d of %d dictionaries failed", failed, len(paths))
	}
	return nil
}

// parseSettings resolves the decoding and flattening settings. Config
// validation has already rejected bad names.
func parseSettings(cfg *config.Config) (encoding.Encoding, dictionary.FlattenOptions, error) {
	fallback, err := textio.LookupEncoding(cfg.Parse.FallbackEncoding)
	if err != nil {
		return nil, dictionary.FlattenOptions{}, err
	}
	strategy, err := dictionary.ParseExpandStrategy(cfg.Parse.ExpandRanges)
	if err != nil {
		return nil, dictionary.FlattenOptions{}, err
	}
	return fallback, dictionary.FlattenOptions{Expand: strategy, RangeLimit: cfg.Parse.RangeLimit}, nil
}

// reportError prints the user-facing form of err for one input file.
func reportError(w io.Writer, path string, err error) {
	fmt.Fprintf(w, "%s: %s\n", path, core.FormatUserError(err))
	slog.Debug("input failed", "path", path, "error", err)
}
