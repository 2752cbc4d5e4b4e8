package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/surveyload/internal/core"
	"github.com/JonMunkholm/surveyload/internal/fixedwidth"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newSplitCmd() *cobra.Command {
	var (
		dictPath string
		out      string
	)

	cmd := &cobra.Command{
		Use:   "split --dictionary DCF DAT...",
		Short: "Split fixed-width data files into one CSV per record type",
		Long: `Split each data file with the layout of --dictionary and write one
<file>.<TABLE>.csv per record type into --out. Lines whose record type is
unknown or that end before a declared field are counted and skipped.`,
		Example: `  surveyload split --dictionary 524.KEHR7A.DCF 524.KEHR7A.DAT --out csv/`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSplit(cmd, dictPath, args, out)
		},
	}

	cmd.Flags().StringVarP(&dictPath, "dictionary", "d", "", "dictionary (.DCF) describing the data files")
	cmd.Flags().StringVarP(&out, "out", "o", ".", "output directory")
	cmd.Flags().Int("issue-limit", 0, "line issues kept per file (default 100)")
	_ = cmd.MarkFlagRequired("dictionary")

	return cmd
}

func runSplit(cmd *cobra.Command, dictPath string, paths []string, out string) error {
	cfg := configFrom(cmd.Context())
	fallback, _, err := parseSettings(cfg)
	if err != nil {
		return err
	}

	d, err := core.ReadDictionary(dictPath, fallback)
	if err != nil {
		reportError(cmd.ErrOrStderr(), dictPath, err)
		return fmt.Errorf("dictionary %s rejected", filepath.Base(dictPath))
	}

	t := newTable(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"File", "Encoding", "Table", "Rows", "Lines", "Skipped"})

	var failed int
	for _, path := range paths {
		res, dec, err := core.SplitFile(cmd.Context(), d.Model, path, fallback, cfg.Load.IssueLimit)
		if err != nil {
			if cmd.Context().Err() != nil {
				return err
			}
			failed++
			reportError(cmd.ErrOrStderr(), path, err)
			continue
		}

		prefix := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if _, err := res.WriteFiles(out, prefix); err != nil {
			failed++
			reportError(cmd.ErrOrStderr(), path, err)
			continue
		}

		for _, name := range res.Order {
			t.AppendRow(table.Row{filepath.Base(path), dec.Encoding, name, res.RowSet(name).Len(), "", ""})
		}
		t.AppendRow(table.Row{filepath.Base(path), dec.Encoding, "", res.Stats.Rows, res.Stats.Lines, res.Stats.Skipped})
		t.AppendSeparator()
		printIssues(cmd, path, res)
		if dec.Replaced > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d invalid UTF-8 bytes read as '?'\n", filepath.Base(path), dec.Replaced)
		}
	}
	t.Render()

	if failed > 0 {
		return fmt.Errorf("%d of %d data files failed", failed, len(paths))
	}
	return nil
}

// printIssues summarizes the skipped lines of one file on stderr.
func printIssues(cmd *cobra.Command, path string, res *fixedwidth.Result) {
	if res.Stats.Skipped == 0 {
		return
	}
	w := cmd.ErrOrStderr()
	for kind, n := range res.Stats.ByKind {
		fmt.Fprintf(w, "%s: %d lines skipped: %s\n", filepath.Base(path), n, core.IssueMessage(kind).Message)
	}
	for _, iss := range res.Issues {
		fmt.Fprintf(w, "  line %d: %s\n", iss.Line, iss.Detail)
	}
	if kept := len(res.Issues); kept < res.Stats.Skipped {
		fmt.Fprintf(w, "  ... %d more\n", res.Stats.Skipped-kept)
	}
}
