package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/JonMunkholm/surveyload/internal/dictionary"
	"github.com/JonMunkholm/surveyload/internal/fixedwidth"
	"github.com/JonMunkholm/surveyload/internal/load"
	"github.com/JonMunkholm/surveyload/internal/logging"
	"github.com/JonMunkholm/surveyload/internal/reconcile"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding"
)

// Options configure a batch run.
type Options struct {
	// Workers is how many tables of one file load concurrently.
	Workers    int
	IssueLimit int
	// Fallback decodes files that are not UTF-8.
	Fallback encoding.Encoding
	// CountrySpecific names tables that are always packed.
	CountrySpecific []string
	// Timeout bounds a whole run. Zero means none.
	Timeout time.Duration
}

// Service runs batches of surveys through parse, split, reconcile and load.
type Service struct {
	coord   *load.Coordinator
	history HistoryRecorder
	opts    Options
}

// NewService creates a Service. history may be nil.
func NewService(coord *load.Coordinator, history HistoryRecorder, opts Options) *Service {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.IssueLimit == 0 {
		opts.IssueLimit = fixedwidth.DefaultIssueLimit
	}
	return &Service{coord: coord, history: history, opts: opts}
}

// Run processes jobs in order. Every dictionary is parsed first so the
// batch's schemas can be merged; data files are then loaded one at a time,
// each file's tables concurrently up to Workers.
//
// Failures are collected in the report. The returned error is non-nil only
// when the run was cancelled or timed out; the partial report is returned
// with it.
func (s *Service) Run(ctx context.Context, jobs []Job) (*RunReport, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	report := &RunReport{
		RunID:   uuid.New(),
		Mode:    s.coord.Options().Mode,
		Started: time.Now(),
	}
	ctx = logging.ContextWithRunID(ctx, report.RunID.String())
	logger := logging.FromContext(ctx)
	logger.Info("run started", "mode", report.Mode, "surveys", len(jobs), "workers", s.opts.Workers)

	defer func() {
		report.Duration = time.Since(report.Started)
		s.recordHistory(context.WithoutCancel(ctx), report)
	}()

	dicts := make([]*Dictionary, len(jobs))
	var models []*dictionary.SchemaModel
	for i, job := range jobs {
		sr := &SurveyReport{Dictionary: job.Dictionary}
		report.Surveys = append(report.Surveys, sr)

		d, err := ReadDictionary(job.Dictionary, s.opts.Fallback)
		if err != nil {
			sr.Err = err
			logger.Error("dictionary rejected", "path", job.Dictionary, "error", err)
			continue
		}
		d.Model.MarkCountrySpecific(s.opts.CountrySpecific)

		sr.SurveyID = d.FileCode.SurveyID
		sr.FileCode = d.FileCode.Code
		sr.Encoding = d.Encoding
		sr.Tables = len(d.Model.Tables)
		sr.Warnings = d.Model.Warnings
		for _, w := range d.Model.Warnings {
			logger.Warn("dictionary warning", "path", job.Dictionary, "line", w.Line, "warning", w.Message)
		}

		dicts[i] = d
		models = append(models, d.Model)
	}

	desired := reconcile.Merge(models...)
	sess := s.coord.NewSession()

	for i, job := range jobs {
		if dicts[i] == nil {
			continue
		}
		for _, path := range job.Data {
			if err := ctx.Err(); err != nil {
				logger.Warn("run stopped", "error", err)
				return report, fmt.Errorf("run %s stopped: %w", report.RunID, err)
			}
			fr := s.loadFile(ctx, sess, desired, dicts[i], path)
			report.Surveys[i].Files = append(report.Surveys[i].Files, fr)
		}
	}

	t := report.Totals()
	modified, failed := sessionSummary(context.WithoutCancel(ctx), sess)
	logger.Info("run completed",
		"tables", t.Tables,
		"tables_modified", modified,
		"tables_failed_ddl", failed,
		"inserted", t.Inserted,
		"deleted", t.Deleted,
		"ddl_changes", t.Changes,
		"failures", t.Failures,
		"duration", time.Since(report.Started),
	)
	return report, nil
}

// sessionSummary counts the tables the run changed and the tables whose
// reconciliation failed.
func sessionSummary(ctx context.Context, sess *reconcile.Session) (modified, failed int) {
	for _, name := range sess.Tables() {
		st, err := sess.Status(ctx, name)
		if err != nil {
			return modified, failed
		}
		if st.Modified {
			modified++
		}
		if st.Err != nil {
			failed++
		}
	}
	return modified, failed
}

// loadFile splits one data file and loads each of its tables.
func (s *Service) loadFile(ctx context.Context, sess *reconcile.Session, desired *reconcile.DesiredSet, d *Dictionary, path string) *FileReport {
	fr := &FileReport{Path: path}
	logger := logging.WithFields(ctx, "survey", d.FileCode.SurveyID, "path", path)

	res, dec, err := SplitFile(ctx, d.Model, path, s.opts.Fallback, s.opts.IssueLimit)
	fr.Encoding = dec.Encoding
	fr.Bytes = dec.Bytes
	fr.Replaced = dec.Replaced
	if err != nil {
		fr.Err = err
		logger.Error("data file failed", "error", err)
		return fr
	}
	fr.Stats = res.Stats
	fr.Issues = res.Issues
	if dec.Replaced > 0 {
		logger.Warn("invalid UTF-8 bytes replaced", "bytes", dec.Replaced)
	}
	logger.Info("data file split",
		"encoding", dec.Encoding,
		"size", dec.Bytes,
		"lines", res.Stats.Lines,
		"rows", res.Stats.Rows,
		"skipped", res.Stats.Skipped,
		"tables", len(res.Order),
	)

	fr.Records = make([]*load.Record, len(res.Order))
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, table := range res.Order {
		in := load.Input{
			SurveyID: d.FileCode.SurveyID,
			FileCode: d.FileCode.Code,
			Desired:  desired.Table(table),
			Rows:     res.RowSet(table),
		}
		g.Go(func() error {
			fr.Records[i] = s.loadTable(ctx, sess, in)
			return nil
		})
	}
	_ = g.Wait()
	return fr
}

// loadTable runs one table load, turning a panic into that table's error.
func (s *Service) loadTable(ctx context.Context, sess *reconcile.Session, in load.Input) (rec *load.Record) {
	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx).Error("panic in table load",
				"survey", in.SurveyID,
				"table", in.Rows.Table,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			rec = &load.Record{
				SurveyID: in.SurveyID,
				FileCode: in.FileCode,
				Table:    in.Rows.Table,
				Action:   load.ActionSkip,
				Err:      fmt.Errorf("%w: %v", ErrPanic, r),
			}
		}
	}()

	if in.Desired == nil {
		return &load.Record{
			SurveyID: in.SurveyID,
			FileCode: in.FileCode,
			Table:    in.Rows.Table,
			Action:   load.ActionSkip,
			Err:      fmt.Errorf("%w: no merged schema for table %s", load.ErrColumnMissing, in.Rows.Table),
		}
	}

	rec, _ = s.coord.LoadTable(ctx, sess, in)
	return rec
}
