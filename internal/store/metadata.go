package store

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/surveyload/internal/dictionary"
)

// PublishResult counts the metadata rows written for one dictionary.
type PublishResult struct {
	Deleted   int64
	Columns   int64
	Values    int64
	Relations int64
}

var (
	tablespecColumns    = []string{"surveyid", "filecode", "recordname", "recordlabel", "recordtypevalue", "name", "label", "start", "len", "datatype", "itemtype"}
	valuespecColumns    = []string{"surveyid", "filecode", "recordname", "name", "value", "description", "valuetype"}
	relationspecColumns = []string{"surveyid", "filecode", "relationname", "primarytable", "primarylink", "secondarytable", "secondarylink"}
)

// PublishSpec replaces the metadata of one survey and file code with spec,
// in one transaction.
func (s *DB) PublishSpec(ctx context.Context, surveyID, fileCode string, spec *dictionary.FlatSpec) (*PublishResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin publish: %w", err)
	}
	defer rollback(tx)

	res := &PublishResult{}
	for _, table := range []string{"tablespec", "valuespec", "relationspec"} {
		r, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE surveyid = $1 AND filecode = $2", s.metaTable(table)),
			surveyID, fileCode)
		if err != nil {
			return nil, fmt.Errorf("clear %s: %w", table, err)
		}
		n, _ := r.RowsAffected()
		res.Deleted += n
	}

	if len(spec.Columns) > 0 {
		rows := make([][]any, len(spec.Columns))
		for i, c := range spec.Columns {
			rows[i] = []any{c.SurveyID, c.FileCode, c.TableName, c.TableLabel, c.DispatchValue,
				c.ColumnName, c.ColumnLabel, c.Start, c.Length, c.DataType, c.ItemType}
		}
		if res.Columns, err = s.insertBatches(ctx, tx, s.metaTable("tablespec"), tablespecColumns, rows); err != nil {
			return nil, fmt.Errorf("insert tablespec: %w", err)
		}
	}

	if len(spec.Values) > 0 {
		rows := make([][]any, len(spec.Values))
		for i, v := range spec.Values {
			rows[i] = []any{v.SurveyID, v.FileCode, v.TableName, v.ColumnName, v.Value, v.Description, v.ValueType}
		}
		if res.Values, err = s.insertBatches(ctx, tx, s.metaTable("valuespec"), valuespecColumns, rows); err != nil {
			return nil, fmt.Errorf("insert valuespec: %w", err)
		}
	}

	if len(spec.Relations) > 0 {
		rows := make([][]any, len(spec.Relations))
		for i, r := range spec.Relations {
			rows[i] = []any{r.SurveyID, r.FileCode, r.Name, r.PrimaryTable, r.PrimaryLink, r.SecondaryTable, r.SecondaryLink}
		}
		if res.Relations, err = s.insertBatches(ctx, tx, s.metaTable("relationspec"), relationspecColumns, rows); err != nil {
			return nil, fmt.Errorf("insert relationspec: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit publish: %w", err)
	}
	return res, nil
}

// SurveySummary is one published dictionary.
type SurveySummary struct {
	SurveyID string `json:"survey_id"`
	FileCode string `json:"file_code"`
	Tables   int    `json:"tables"`
	Columns  int    `json:"columns"`
}

// TableSummary is one record of a published dictionary.
type TableSummary struct {
	Name          string `json:"name"`
	Label         string `json:"label"`
	DispatchValue string `json:"dispatch_value"`
	Columns       int    `json:"columns"`
}

// ListSurveys lists the published dictionaries.
func (s *DB) ListSurveys(ctx context.Context) ([]SurveySummary, error) {
	query := fmt.Sprintf(`
		SELECT surveyid, filecode, count(DISTINCT recordname), count(*)
		FROM %s
		GROUP BY surveyid, filecode
		ORDER BY surveyid, filecode`, s.metaTable("tablespec"))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list surveys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []SurveySummary{}
	for rows.Next() {
		var v SurveySummary
		if err := rows.Scan(&v.SurveyID, &v.FileCode, &v.Tables, &v.Columns); err != nil {
			return nil, fmt.Errorf("scan survey: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListTables lists the records of one survey.
func (s *DB) ListTables(ctx context.Context, surveyID string) ([]TableSummary, error) {
	query := fmt.Sprintf(`
		SELECT recordname, coalesce(max(recordlabel), ''), coalesce(max(recordtypevalue), ''), count(*)
		FROM %s
		WHERE surveyid = $1
		GROUP BY recordname
		ORDER BY recordname`, s.metaTable("tablespec"))

	rows, err := s.db.QueryContext(ctx, query, surveyID)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []TableSummary{}
	for rows.Next() {
		var v TableSummary
		if err := rows.Scan(&v.Name, &v.Label, &v.DispatchValue, &v.Columns); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListColumns lists the columns of one record, in row order.
func (s *DB) ListColumns(ctx context.Context, surveyID, table string) ([]dictionary.ColumnSpec, error) {
	query := fmt.Sprintf(`
		SELECT surveyid, filecode, recordname, coalesce(recordlabel, ''), coalesce(recordtypevalue, ''),
		       name, coalesce(label, ''), start, len, coalesce(datatype, ''), coalesce(itemtype, '')
		FROM %s
		WHERE surveyid = $1 AND upper(recordname) = upper($2)
		ORDER BY start, name`, s.metaTable("tablespec"))

	rows, err := s.db.QueryContext(ctx, query, surveyID, table)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []dictionary.ColumnSpec{}
	for rows.Next() {
		var c dictionary.ColumnSpec
		if err := rows.Scan(&c.SurveyID, &c.FileCode, &c.TableName, &c.TableLabel, &c.DispatchValue,
			&c.ColumnName, &c.ColumnLabel, &c.Start, &c.Length, &c.DataType, &c.ItemType); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListValues lists the value set rows of one column.
func (s *DB) ListValues(ctx context.Context, surveyID, table, column string) ([]dictionary.ValueSpec, error) {
	query := fmt.Sprintf(`
		SELECT surveyid, filecode, recordname, name, value, coalesce(description, ''), valuetype
		FROM %s
		WHERE surveyid = $1 AND upper(recordname) = upper($2) AND upper(name) = upper($3)`,
		s.metaTable("valuespec"))

	rows, err := s.db.QueryContext(ctx, query, surveyID, table, column)
	if err != nil {
		return nil, fmt.Errorf("list values: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []dictionary.ValueSpec{}
	for rows.Next() {
		var v dictionary.ValueSpec
		if err := rows.Scan(&v.SurveyID, &v.FileCode, &v.TableName, &v.ColumnName, &v.Value, &v.Description, &v.ValueType); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
