package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/surveyload/internal/reconcile"
)

// CountRows implements load.Store.
func (s *DB) CountRows(ctx context.Context, table, surveyID string) (int64, error) {
	query := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s = $1", s.dataTable(table), quote(reconcile.SurveyIDColumn))
	var n int64
	if err := s.db.QueryRowContext(ctx, query, surveyID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s rows for survey %s: %w", table, surveyID, err)
	}
	return n, nil
}

// DeleteRows implements load.Store.
func (s *DB) DeleteRows(ctx context.Context, table, surveyID string) (int64, error) {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", s.dataTable(table), quote(reconcile.SurveyIDColumn))
	res, err := s.db.ExecContext(ctx, stmt, surveyID)
	if err != nil {
		return 0, fmt.Errorf("delete %s rows for survey %s: %w", table, surveyID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete %s rows: %w", table, err)
	}
	return n, nil
}

// InsertRows implements load.Store. Rows go in multi-row INSERT statements
// of at most batchSize rows, all inside one transaction.
func (s *DB) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert %s: %w", table, err)
	}
	defer rollback(tx)

	inserted, err := s.insertBatches(ctx, tx, s.dataTable(table), columns, rows)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert %s: %w", table, err)
	}
	return inserted, nil
}

// insertBatches inserts rows into a quoted table name within tx.
func (s *DB) insertBatches(ctx context.Context, tx *sql.Tx, qualified string, columns []string, rows [][]any) (int64, error) {
	batch := s.batchSize
	if limit := maxParams / len(columns); batch > limit {
		batch = limit
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quote(c)
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", qualified, strings.Join(quoted, ", "))

	var inserted int64
	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))
		stmt, args := insertStatement(prefix, len(columns), rows[start:end])
		res, err := tx.ExecContext(ctx, stmt, args...)
		if err != nil {
			return 0, fmt.Errorf("rows %d-%d: %w", start+1, end, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += n
	}
	return inserted, nil
}

func insertStatement(prefix string, width int, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString(prefix)
	args := make([]any, 0, width*len(rows))
	n := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := 0; j < width; j++ {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		}
		b.WriteByte(')')
		args = append(args, row...)
	}
	return b.String(), args
}
