package core

import (
	"context"

	"github.com/JonMunkholm/surveyload/internal/load"
	"github.com/JonMunkholm/surveyload/internal/logging"
	"github.com/JonMunkholm/surveyload/internal/store"
	"github.com/google/uuid"
)

// HistoryRecorder persists one entry per table load.
type HistoryRecorder interface {
	RecordLoad(ctx context.Context, e store.HistoryEntry) error
}

func historyEntry(runID uuid.UUID, rec *load.Record) store.HistoryEntry {
	e := store.HistoryEntry{
		RunID:      runID,
		SurveyID:   rec.SurveyID,
		FileCode:   rec.FileCode,
		Table:      rec.Table,
		Action:     string(rec.Action),
		DryRun:     rec.DryRun,
		RowsDB:     rec.RowsDB,
		RowsFile:   rec.RowsFile,
		Deleted:    rec.Deleted,
		Inserted:   rec.Inserted,
		DDLChanges: len(rec.Changes),
		DurationMS: rec.Duration.Milliseconds(),
	}
	if rec.Err != nil {
		e.ErrorCode = MapError(rec.Err).Code
		e.Error = rec.Err.Error()
	}
	return e
}

// recordHistory writes the report's records of a live run. A failed write is
// logged and does not fail the run.
func (s *Service) recordHistory(ctx context.Context, report *RunReport) {
	if s.history == nil || report.Mode != load.Live {
		return
	}
	logger := logging.FromContext(ctx)
	for _, rec := range report.Records() {
		if err := s.history.RecordLoad(ctx, historyEntry(report.RunID, rec)); err != nil {
			logger.Warn("failed to record load history", "table", rec.Table, "survey", rec.SurveyID, "error", err)
		}
	}
}
