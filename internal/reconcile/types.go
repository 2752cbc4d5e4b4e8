// Package reconcile keeps destination tables a superset of the schemas loaded
// into them.
//
// Reconciliation is additive only: tables are created, columns are added and
// text widths grow. Nothing is dropped or narrowed. Whether a table is
// packed (keys as columns, everything else in one jsonb document) is decided
// when the table is created and afterwards read back from the catalog.
package reconcile

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
)

const (
	// SurveyIDColumn is the key column added to every destination table.
	SurveyIDColumn = "surveyid"
	// DocumentColumn holds the non-key values of a packed table.
	DocumentColumn = "data"
)

// Catalog is the database surface the reconciler reads and mutates.
type Catalog interface {
	// DescribeTable returns nil, nil when the table does not exist.
	DescribeTable(ctx context.Context, table string) (*CatalogTable, error)
	CreateTable(ctx context.Context, table string, columns []ColumnDef) error
	AddColumn(ctx context.Context, table string, column ColumnDef) error
	WidenColumn(ctx context.Context, table, column string, width int) error
}

// ColumnDef describes a column to create.
type ColumnDef struct {
	Name     string
	Width    int
	Key      bool
	Document bool
}

// SQLType is the Postgres type of the column.
func (c ColumnDef) SQLType() string {
	if c.Document {
		return "jsonb"
	}
	return fmt.Sprintf("character varying(%d)", c.Width)
}

// CatalogColumn is one live column. Width 0 means unbounded.
type CatalogColumn struct {
	Width    int
	Document bool
}

// CatalogTable is the live state of one table.
type CatalogTable struct {
	Name    string
	Columns map[string]CatalogColumn
}

// Packed reports whether the table has a document column.
func (c *CatalogTable) Packed() bool {
	for _, col := range c.Columns {
		if col.Document {
			return true
		}
	}
	return false
}

// Column looks up a column by its lower-cased name.
func (c *CatalogTable) Column(name string) (CatalogColumn, bool) {
	col, ok := c.Columns[strings.ToLower(name)]
	return col, ok
}

// ColumnNames returns the column names sorted.
func (c *CatalogTable) ColumnNames() []string {
	names := make([]string, 0, len(c.Columns))
	for n := range c.Columns {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy.
func (c *CatalogTable) Clone() *CatalogTable {
	if c == nil {
		return nil
	}
	return &CatalogTable{Name: c.Name, Columns: maps.Clone(c.Columns)}
}

// ChangeKind names one DDL step.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create_table"
	ChangeAdd    ChangeKind = "add_column"
	ChangeWiden  ChangeKind = "widen_column"
)

// Change is one planned or applied DDL step.
type Change struct {
	Kind    ChangeKind
	Table   string
	Column  ColumnDef   // add and widen
	Columns []ColumnDef // create
	From    int         // widen: previous width
}

func (c Change) String() string {
	switch c.Kind {
	case ChangeCreate:
		return fmt.Sprintf("create table %s (%d columns)", c.Table, len(c.Columns))
	case ChangeAdd:
		return fmt.Sprintf("add column %s.%s %s", c.Table, c.Column.Name, c.Column.SQLType())
	case ChangeWiden:
		return fmt.Sprintf("widen column %s.%s %d -> %d", c.Table, c.Column.Name, c.From, c.Column.Width)
	default:
		return string(c.Kind)
	}
}

// Outcome is the result of reconciling one table.
type Outcome struct {
	Table   string
	Catalog *CatalogTable // post-reconciliation state, planned in dry-run
	Packed  bool
	// Created is true when the table did not exist at the start of the session.
	Created  bool
	Modified bool
	// Cached is true when the table was already verified in this session.
	Cached  bool
	Changes []Change
	DryRun  bool
}
