package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/JonMunkholm/surveyload/internal/reconcile"
)

const describeQuery = `
	SELECT column_name, data_type, character_maximum_length
	FROM information_schema.columns
	WHERE table_schema = $1 AND table_name = $2
	ORDER BY ordinal_position`

// DescribeTable implements reconcile.Catalog.
func (s *DB) DescribeTable(ctx context.Context, table string) (*reconcile.CatalogTable, error) {
	rows, err := s.db.QueryContext(ctx, describeQuery, s.dataSchema, table)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var t *reconcile.CatalogTable
	for rows.Next() {
		var name, dataType string
		var maxLen sql.NullInt64
		if err := rows.Scan(&name, &dataType, &maxLen); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		if t == nil {
			t = &reconcile.CatalogTable{Name: table, Columns: make(map[string]reconcile.CatalogColumn)}
		}
		col := reconcile.CatalogColumn{}
		switch strings.ToLower(dataType) {
		case "jsonb", "json":
			col.Document = true
		case "character varying", "character":
			if maxLen.Valid {
				col.Width = int(maxLen.Int64)
			}
		}
		t.Columns[strings.ToLower(name)] = col
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	return t, nil
}

// CreateTable implements reconcile.Catalog. The schema, the table and its
// key indexes are created in one transaction.
func (s *DB) CreateTable(ctx context.Context, table string, columns []reconcile.ColumnDef) error {
	if len(columns) == 0 {
		return fmt.Errorf("create %s: no columns", table)
	}

	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = quote(c.Name) + " " + c.SQLType()
	}

	stmts := []string{
		"CREATE SCHEMA IF NOT EXISTS " + quote(s.dataSchema),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", s.dataTable(table), strings.Join(defs, ", ")),
	}
	for _, idx := range keyIndexes(table, columns) {
		cols := make([]string, len(idx.columns))
		for i, c := range idx.columns {
			cols[i] = quote(c)
		}
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quote(idx.name), s.dataTable(table), strings.Join(cols, ", ")))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create %s: %w", table, err)
	}
	defer rollback(tx)

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create %s: %w", table, err)
	}
	return nil
}

// AddColumn implements reconcile.Catalog.
func (s *DB) AddColumn(ctx context.Context, table string, column reconcile.ColumnDef) error {
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
		s.dataTable(table), quote(column.Name), column.SQLType())
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column.Name, err)
	}
	return nil
}

// WidenColumn implements reconcile.Catalog.
func (s *DB) WidenColumn(ctx context.Context, table, column string, width int) error {
	stmt := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE character varying(%d)",
		s.dataTable(table), quote(column), width)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("widen column %s.%s: %w", table, column, err)
	}
	return nil
}

type index struct {
	name    string
	columns []string
}

// keyIndexes returns one index per key column, then a covering index over
// all key columns and one over all but the last, in column order. Joins on
// survey and household without the line number use the second.
func keyIndexes(table string, columns []reconcile.ColumnDef) []index {
	var keys []string
	for _, c := range columns {
		if c.Key {
			keys = append(keys, c.Name)
		}
	}

	out := make([]index, 0, len(keys)+2)
	for _, k := range keys {
		out = append(out, index{name: indexName(table, k), columns: []string{k}})
	}
	if len(keys) > 1 {
		out = append(out, index{name: indexName(table, "allidx"), columns: keys})
	}
	if len(keys) > 2 {
		out = append(out, index{name: indexName(table, "twoidx"), columns: keys[:len(keys)-1]})
	}
	return out
}

// indexName keeps index names within the 63-byte identifier limit.
func indexName(table, column string) string {
	name := table + "_" + column + "_idx"
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}
