package load

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JonMunkholm/surveyload/internal/fixedwidth"
	"github.com/JonMunkholm/surveyload/internal/logging"
	"github.com/JonMunkholm/surveyload/internal/reconcile"
)

// Store is the row-level database surface.
type Store interface {
	CountRows(ctx context.Context, table, surveyID string) (int64, error)
	// DeleteRows removes every row of the survey in one statement.
	DeleteRows(ctx context.Context, table, surveyID string) (int64, error)
	// InsertRows inserts all rows in one transaction. A nil value is NULL.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
}

// Input is one file's rows for one destination table.
type Input struct {
	SurveyID string
	FileCode string
	Desired  *reconcile.DesiredTable
	Rows     *fixedwidth.RowSet
}

// Record is the outcome of one LoadTable call.
type Record struct {
	SurveyID string
	FileCode string
	Table    string
	RowsDB   int64
	RowsFile int64
	Modified bool
	Packed   bool
	Action   Action
	DryRun   bool
	Deleted  int64
	Inserted int64
	Changes  []reconcile.Change
	Duration time.Duration
	Err      error
}

// Coordinator reconciles a table and then loads one file's rows into it.
type Coordinator struct {
	store      Store
	reconciler *reconcile.Reconciler
	opts       Options
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store Store, reconciler *reconcile.Reconciler, opts Options) *Coordinator {
	return &Coordinator{store: store, reconciler: reconciler, opts: opts}
}

// Options returns the coordinator's options.
func (c *Coordinator) Options() Options {
	return c.opts
}

// NewSession starts a reconciliation session for one batch run, dry-run
// unless the coordinator is Live.
func (c *Coordinator) NewSession() *reconcile.Session {
	return reconcile.NewSession(c.opts.Mode != Live)
}

// LoadTable runs reconcile, count, decide, check and execute for one
// survey's rows in one table. The returned Record is never nil; its Err
// equals the returned error.
func (c *Coordinator) LoadTable(ctx context.Context, sess *reconcile.Session, in Input) (rec *Record, err error) {
	start := time.Now()
	rec = &Record{
		SurveyID: in.SurveyID,
		FileCode: in.FileCode,
		Table:    in.Desired.Name,
		RowsFile: int64(in.Rows.Len()),
		DryRun:   c.opts.Mode != Live || sess.DryRun(),
		Action:   ActionSkip,
	}
	defer func() {
		rec.Duration = time.Since(start)
		rec.Err = err
	}()

	logger := logging.WithFields(ctx, "survey", in.SurveyID, "table", rec.Table)

	lease, err := sess.Acquire(ctx, in.Desired.Name)
	if err != nil {
		return rec, err
	}
	defer lease.Release()

	for i, col := range in.Rows.Columns {
		in.Desired.Observe(col, in.Rows.MaxWidths[i])
	}

	out, err := c.reconciler.Reconcile(ctx, lease, in.Desired)
	if err != nil {
		return rec, err
	}
	rec.Changes = out.Changes
	rec.Modified = lease.Modified()
	rec.Packed = out.Packed

	// A table that is only planned has no rows to count.
	if !(out.Created && rec.DryRun) {
		n, err := c.store.CountRows(ctx, rec.Table, in.SurveyID)
		if err != nil {
			return rec, fmt.Errorf("count rows: %w", err)
		}
		rec.RowsDB = n
	}

	rec.Action = Decide(rec.RowsDB, rec.RowsFile, rec.Modified, c.opts.ReloadOnModification)
	if !rec.Action.Writes() {
		logger.Debug("load skipped", "rows_db", rec.RowsDB, "rows_file", rec.RowsFile)
		return rec, nil
	}

	columns, rows, err := BuildRows(out.Catalog, in)
	if err != nil {
		return rec, err
	}

	if rec.DryRun {
		logger.Info("load planned", "action", rec.Action, "rows_db", rec.RowsDB, "rows_file", rec.RowsFile)
		return rec, nil
	}

	// Once rows are deleted the insert must run to completion; run
	// cancellation only takes effect between files.
	wctx := context.WithoutCancel(ctx)

	if rec.Action.Deletes() {
		rec.Deleted, err = c.store.DeleteRows(wctx, rec.Table, in.SurveyID)
		if err != nil {
			return rec, fmt.Errorf("delete survey rows: %w", err)
		}
	}

	if len(rows) > 0 {
		rec.Inserted, err = c.store.InsertRows(wctx, rec.Table, columns, rows)
		if err != nil {
			if rec.Action.Deletes() {
				logger.Error("insert failed after delete, table needs a manual re-run",
					"deleted", rec.Deleted, "error", err)
				return rec, &InconsistencyError{SurveyID: in.SurveyID, Table: rec.Table, Deleted: rec.Deleted, Err: err}
			}
			return rec, fmt.Errorf("insert rows: %w", err)
		}
	}

	logger.Info("load completed", "action", rec.Action, "deleted", rec.Deleted, "inserted", rec.Inserted)
	return rec, nil
}

// BuildRows converts a rowset into insert columns and values for the
// reconciled table. First-class values are checked against their column
// width and empty values become NULL. In a packed table every value without
// its own column goes into the document, empty values omitted.
func BuildRows(cat *reconcile.CatalogTable, in Input) ([]string, [][]any, error) {
	if cat == nil {
		return nil, nil, errors.New("no catalog state for table")
	}
	packed := cat.Packed()

	type slot struct {
		src   int // index into the rowset row
		name  string
		limit int
	}
	var first []slot
	var doc []slot

	sid, ok := cat.Column(reconcile.SurveyIDColumn)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s.%s", ErrColumnMissing, cat.Name, reconcile.SurveyIDColumn)
	}
	if w := utf8.RuneCountInString(in.SurveyID); sid.Width > 0 && w > sid.Width {
		return nil, nil, &WidthError{Table: cat.Name, Column: reconcile.SurveyIDColumn, Width: w, Limit: sid.Width}
	}

	for i, col := range in.Rows.Columns {
		name := strings.ToLower(col)
		if name == reconcile.SurveyIDColumn {
			continue
		}
		cc, ok := cat.Column(name)
		switch {
		case ok && !cc.Document:
			first = append(first, slot{src: i, name: name, limit: cc.Width})
		case packed:
			doc = append(doc, slot{src: i, name: name})
		default:
			return nil, nil, fmt.Errorf("%w: %s.%s", ErrColumnMissing, cat.Name, name)
		}
	}

	columns := make([]string, 0, len(first)+2)
	columns = append(columns, reconcile.SurveyIDColumn)
	for _, s := range first {
		columns = append(columns, s.name)
	}
	if packed {
		columns = append(columns, reconcile.DocumentColumn)
	}

	rows := make([][]any, 0, in.Rows.Len())
	for r, src := range in.Rows.Rows {
		row := make([]any, 0, len(columns))
		row = append(row, in.SurveyID)
		for _, s := range first {
			v := src[s.src]
			if w := utf8.RuneCountInString(v); s.limit > 0 && w > s.limit {
				return nil, nil, &WidthError{Table: cat.Name, Column: s.name, Row: r + 1, Width: w, Limit: s.limit}
			}
			if v == "" {
				row = append(row, nil)
			} else {
				row = append(row, v)
			}
		}
		if packed {
			values := make(map[string]string, len(doc))
			for _, s := range doc {
				if v := src[s.src]; v != "" {
					values[s.name] = v
				}
			}
			b, err := json.Marshal(values)
			if err != nil {
				return nil, nil, fmt.Errorf("encode document row %d: %w", r+1, err)
			}
			row = append(row, string(b))
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}
