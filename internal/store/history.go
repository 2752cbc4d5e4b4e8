package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HistoryEntry is one row of load_history.
type HistoryEntry struct {
	ID         uuid.UUID `json:"id"`
	RunID      uuid.UUID `json:"run_id"`
	SurveyID   string    `json:"survey_id"`
	FileCode   string    `json:"file_code"`
	Table      string    `json:"table"`
	Action     string    `json:"action"`
	DryRun     bool      `json:"dry_run"`
	RowsDB     int64     `json:"rows_db"`
	RowsFile   int64     `json:"rows_file"`
	Deleted    int64     `json:"deleted"`
	Inserted   int64     `json:"inserted"`
	DDLChanges int       `json:"ddl_changes"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// RecordLoad inserts one history entry. A zero ID is replaced by a new one.
func (s *DB) RecordLoad(ctx context.Context, e HistoryEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, run_id, surveyid, filecode, tablename, action, dry_run,
			rows_db, rows_file, deleted, inserted, ddl_changes, error_code, error, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		s.metaTable("load_history"))

	_, err := s.db.ExecContext(ctx, stmt,
		e.ID.String(), e.RunID.String(), e.SurveyID, e.FileCode, e.Table, e.Action, e.DryRun,
		e.RowsDB, e.RowsFile, e.Deleted, e.Inserted, e.DDLChanges,
		nullString(e.ErrorCode), nullString(e.Error), e.DurationMS)
	if err != nil {
		return fmt.Errorf("record load history: %w", err)
	}
	return nil
}

// ListHistory returns the newest entries first, optionally for one survey.
func (s *DB) ListHistory(ctx context.Context, surveyID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT id, run_id, surveyid, filecode, tablename, action, dry_run, rows_db, rows_file,
		       deleted, inserted, ddl_changes, coalesce(error_code, ''), coalesce(error, ''),
		       duration_ms, created_at
		FROM %s
		WHERE ($1 = '' OR surveyid = $1)
		ORDER BY created_at DESC
		LIMIT $2`, s.metaTable("load_history"))

	rows, err := s.db.QueryContext(ctx, query, surveyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list load history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		var id, runID string
		if err := rows.Scan(&id, &runID, &e.SurveyID, &e.FileCode, &e.Table, &e.Action, &e.DryRun,
			&e.RowsDB, &e.RowsFile, &e.Deleted, &e.Inserted, &e.DDLChanges, &e.ErrorCode, &e.Error,
			&e.DurationMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan load history: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse history id: %w", err)
		}
		if e.RunID, err = uuid.Parse(runID); err != nil {
			return nil, fmt.Errorf("parse run id: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
