// Package dictionary parses CSPro dictionary specifications (.DCF) into a
// schema model of tables, columns and legal values.
//
// A dictionary is a sequence of blank-line delimited blocks, each introduced
// by a bracketed header such as [Record] or [Item]. Blocks are not nested;
// an [Item] belongs to whichever [Record] (or [IdItems] list) was opened most
// recently, so the parser tracks the current group and table as it reads.
package dictionary

import "strings"

// DataType is the alpha/numeric hint carried by an item.
type DataType string

const (
	DataTypeNumeric DataType = "Numeric"
	DataTypeAlpha   DataType = "Alpha"
)

// Item kinds as written to the flat column relation.
const (
	ItemKindIdItem       = "IdItem"
	ItemKindItem         = "Item"
	ItemKindJoinableItem = "JoinableItem"
	ItemKindSubItem      = "SubItem"
)

// RowIDLink marks a relation side that joins on occurrence rather than on an item.
const RowIDLink = "*ROWID*"

// SchemaModel is everything extracted from one survey's dictionary.
type SchemaModel struct {
	SurveyID string
	FileCode string
	Name     string
	Label    string

	// DispatchStart is 1-based.
	DispatchStart int
	DispatchLen   int

	ZeroFill    bool
	DecimalChar bool

	Tables    []*TableSchema
	Relations []Relation
	Warnings  []Warning

	byName map[string]*TableSchema
}

// Table returns the named table or nil.
func (m *SchemaModel) Table(name string) *TableSchema {
	if m.byName == nil {
		m.byName = make(map[string]*TableSchema, len(m.Tables))
		for _, t := range m.Tables {
			m.byName[t.Name] = t
		}
	}
	return m.byName[name]
}

// MarkCountrySpecific flags every table named in names. Matching is
// case-insensitive. It returns the number of tables flagged.
func (m *SchemaModel) MarkCountrySpecific(names []string) int {
	n := 0
	for _, name := range names {
		for _, t := range m.Tables {
			if strings.EqualFold(t.Name, strings.TrimSpace(name)) && !t.CountrySpecific {
				t.CountrySpecific = true
				n++
			}
		}
	}
	return n
}

// TableSchema describes one record type: a destination table.
type TableSchema struct {
	Name          string
	Label         string
	DispatchValue string
	RecordLen     int
	Level         string

	// Identifiers are copied from the owning level's IdItems.
	Identifiers []*ItemSchema
	Items       []*ItemSchema

	CountrySpecific bool
}

// Columns returns identifiers followed by items, skipping items whose name
// repeats an identifier. This is the column order of a dispatched row.
func (t *TableSchema) Columns() []*ItemSchema {
	cols := make([]*ItemSchema, 0, len(t.Identifiers)+len(t.Items))
	seen := make(map[string]bool, len(t.Identifiers)+len(t.Items))
	for _, it := range t.Identifiers {
		if seen[it.Name] {
			continue
		}
		seen[it.Name] = true
		cols = append(cols, it)
	}
	for _, it := range t.Items {
		if seen[it.Name] {
			continue
		}
		seen[it.Name] = true
		cols = append(cols, it)
	}
	return cols
}

// Item returns the named item (identifier or regular) or nil.
func (t *TableSchema) Item(name string) *ItemSchema {
	for _, it := range t.Identifiers {
		if it.Name == name {
			return it
		}
	}
	for _, it := range t.Items {
		if it.Name == name {
			return it
		}
	}
	return nil
}

// ItemSchema describes one fixed-width field.
type ItemSchema struct {
	Name        string
	Label       string
	Start       int // 1-based
	Length      int
	DataType    DataType
	SubItem     bool
	Occurrences int
	Decimal     int
	DecimalChar bool
	ZeroFill    bool

	ValueSet *ValueSet

	Identifier bool
	Joinable   bool
}

// End is the 1-based position of the item's last character.
func (it *ItemSchema) End() int { return it.Start + it.Length - 1 }

// Key reports whether the item identifies or joins rows.
func (it *ItemSchema) Key() bool { return it.Identifier || it.Joinable }

// Kind is the item type written to the flat column relation.
func (it *ItemSchema) Kind() string {
	switch {
	case it.Identifier:
		return ItemKindIdItem
	case it.Joinable:
		return ItemKindJoinableItem
	case it.SubItem:
		return ItemKindSubItem
	default:
		return ItemKindItem
	}
}

// ValueSet lists the legal values of an item, in declaration order.
type ValueSet struct {
	Name   string
	Label  string
	Ranges []ValueRange
	Codes  []ValueCode
}

// ValueRange is an inclusive min:max range. Bounds keep their source text.
type ValueRange struct {
	Min, Max    string
	Description string
}

// ValueCode is one explicit code and its description.
type ValueCode struct {
	Code        string
	Description string
}

// Relation is one documented join between two tables.
type Relation struct {
	Name           string
	PrimaryTable   string
	PrimaryLink    string
	SecondaryTable string
	SecondaryLink  string
}

// Warning is a non-fatal oddity found while parsing.
type Warning struct {
	Line    int
	Message string
}
