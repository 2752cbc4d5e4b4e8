package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/JonMunkholm/surveyload/internal/core"
	"github.com/JonMunkholm/surveyload/internal/fixedwidth"
	"github.com/JonMunkholm/surveyload/internal/load"
	"github.com/jedib0t/go-pretty/v6/table"
)

// newTable returns a table writer that renders to w.
func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// renderReport prints a run report: surveys, files, table loads, planned
// or applied DDL and failures.
func renderReport(w io.Writer, r *core.RunReport) {
	if r == nil {
		return
	}
	fmt.Fprintf(w, "Run %s (%s) finished in %s\n\n", r.RunID, r.Mode, r.Duration.Round(time.Millisecond))

	surveys := newTable(w)
	surveys.SetTitle("Surveys")
	surveys.AppendHeader(table.Row{"Survey", "File code", "Dictionary", "Encoding", "Tables", "Warnings", "Status"})
	for _, s := range r.Surveys {
		surveys.AppendRow(table.Row{s.SurveyID, s.FileCode, filepath.Base(s.Dictionary), s.Encoding, s.Tables, len(s.Warnings), status(s.Err)})
	}
	surveys.Render()

	files := newTable(w)
	files.SetTitle("Data files")
	files.AppendHeader(table.Row{"Survey", "File", "Encoding", "Lines", "Rows", "Unknown type", "Short", "Replaced", "Status"})
	for _, s := range r.Surveys {
		for _, f := range s.Files {
			files.AppendRow(table.Row{s.SurveyID, filepath.Base(f.Path), f.Encoding, f.Stats.Lines, f.Stats.Rows,
				f.Stats.ByKind[fixedwidth.IssueUnknownDispatch], f.Stats.ByKind[fixedwidth.IssueShortLine], f.Replaced, status(f.Err)})
		}
	}
	files.Render()

	loads := newTable(w)
	loads.SetTitle("Tables")
	loads.AppendHeader(table.Row{"Survey", "File", "Table", "Action", "DB rows", "File rows", "Deleted", "Inserted", "DDL", "Packed", "Status"})
	var changes []string
	for _, s := range r.Surveys {
		for _, f := range s.Files {
			for _, rec := range f.Records {
				loads.AppendRow(table.Row{s.SurveyID, filepath.Base(f.Path), rec.Table, rec.Action, rec.RowsDB, rec.RowsFile,
					rec.Deleted, rec.Inserted, len(rec.Changes), yesNo(rec.Packed), status(rec.Err)})
				for _, c := range rec.Changes {
					changes = append(changes, c.String())
				}
			}
		}
	}
	tot := r.Totals()
	loads.AppendFooter(table.Row{"", "", tot.Tables, "", "", "", tot.Deleted, tot.Inserted, tot.Changes, "", ""})
	loads.Render()

	if len(changes) > 0 {
		ddl := newTable(w)
		if r.Mode == load.Live {
			ddl.SetTitle("Schema changes")
		} else {
			ddl.SetTitle("Planned schema changes")
		}
		for _, c := range changes {
			ddl.AppendRow(table.Row{c})
		}
		ddl.Render()
	}

	if failures := r.Failures(); len(failures) > 0 {
		ft := newTable(w)
		ft.SetTitle("Failures")
		ft.AppendHeader(table.Row{"Survey", "Path", "Table", "Code", "Message", "Action"})
		for _, f := range failures {
			ft.AppendRow(table.Row{f.SurveyID, filepath.Base(f.Path), f.Table, f.User.Code, f.User.Message, f.User.Action})
		}
		ft.Render()
	}

	if r.Mode != load.Live {
		fmt.Fprintln(w, "Dry run: no DDL or rows were written. Re-run with --live to apply.")
	}
}

func status(err error) string {
	if err == nil {
		return "ok"
	}
	return core.MapError(err).Code
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
