package core

import (
	"time"

	"github.com/JonMunkholm/surveyload/internal/dictionary"
	"github.com/JonMunkholm/surveyload/internal/fixedwidth"
	"github.com/JonMunkholm/surveyload/internal/load"
	"github.com/google/uuid"
)

// Job is one survey: its dictionary and the data files it describes.
type Job struct {
	Dictionary string
	Data       []string
}

// RunReport aggregates everything that happened in one batch run.
type RunReport struct {
	RunID    uuid.UUID
	Mode     load.Mode
	Started  time.Time
	Duration time.Duration
	Surveys  []*SurveyReport
}

// SurveyReport is the outcome of one Job.
type SurveyReport struct {
	Dictionary string
	SurveyID   string
	FileCode   string
	Encoding   string
	Tables     int
	Warnings   []dictionary.Warning
	Files      []*FileReport
	// Err is set when the dictionary could not be used; no file was loaded.
	Err error
}

// FileReport is the outcome of one data file.
type FileReport struct {
	Path     string
	Encoding string
	Bytes    int64
	// Replaced counts invalid UTF-8 bytes read as '?'.
	Replaced int64
	Stats    fixedwidth.Stats
	Issues   []fixedwidth.LineIssue
	Records  []*load.Record
	// Err is set when the file could not be read or dispatched.
	Err error
}

// Failure is one fatal entry of a report.
type Failure struct {
	SurveyID string
	Path     string
	Table    string
	Err      error
	User     UserMessage
}

// Totals sums a report.
type Totals struct {
	Surveys  int
	Files    int
	Tables   int
	Lines    int
	Skipped  int
	Inserted int64
	Deleted  int64
	Changes  int
	Failures int
}

// Records returns every table record in run order.
func (r *RunReport) Records() []*load.Record {
	var out []*load.Record
	for _, s := range r.Surveys {
		for _, f := range s.Files {
			out = append(out, f.Records...)
		}
	}
	return out
}

// Failures lists the fatal entries. Line issues are never failures.
func (r *RunReport) Failures() []Failure {
	var out []Failure
	for _, s := range r.Surveys {
		if s.Err != nil {
			out = append(out, Failure{SurveyID: s.SurveyID, Path: s.Dictionary, Err: s.Err, User: MapError(s.Err)})
			continue
		}
		for _, f := range s.Files {
			if f.Err != nil {
				out = append(out, Failure{SurveyID: s.SurveyID, Path: f.Path, Err: f.Err, User: MapError(f.Err)})
			}
			for _, rec := range f.Records {
				if rec.Err != nil {
					out = append(out, Failure{SurveyID: s.SurveyID, Path: f.Path, Table: rec.Table, Err: rec.Err, User: MapError(rec.Err)})
				}
			}
		}
	}
	return out
}

// Failed reports whether the run has any fatal entry.
func (r *RunReport) Failed() bool {
	return len(r.Failures()) > 0
}

// Totals sums the report.
func (r *RunReport) Totals() Totals {
	t := Totals{Surveys: len(r.Surveys), Failures: len(r.Failures())}
	for _, s := range r.Surveys {
		t.Files += len(s.Files)
		for _, f := range s.Files {
			t.Lines += f.Stats.Lines
			t.Skipped += f.Stats.Skipped
			for _, rec := range f.Records {
				t.Tables++
				t.Inserted += rec.Inserted
				t.Deleted += rec.Deleted
				t.Changes += len(rec.Changes)
			}
		}
	}
	return t
}
