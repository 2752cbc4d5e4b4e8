package reconcile

import (
	"strings"

	"github.com/JonMunkholm/surveyload/internal/dictionary"
)

// Column is one desired column of a destination table.
type Column struct {
	Name  string // lower-cased
	Width int
	// Key columns stay first-class in packed tables: surveyid, group
	// identifiers and joinable items.
	Key bool
}

// DesiredTable is the union of every schema that declares a table name.
type DesiredTable struct {
	Name            string // lower-cased
	Columns         []Column
	CountrySpecific bool

	index map[string]int
}

func newDesiredTable(name string) *DesiredTable {
	return &DesiredTable{Name: strings.ToLower(name), index: make(map[string]int)}
}

func (d *DesiredTable) add(c Column) {
	c.Name = strings.ToLower(c.Name)
	if c.Width < 1 {
		c.Width = 1
	}
	if i, ok := d.index[c.Name]; ok {
		if c.Width > d.Columns[i].Width {
			d.Columns[i].Width = c.Width
		}
		d.Columns[i].Key = d.Columns[i].Key || c.Key
		return
	}
	d.index[c.Name] = len(d.Columns)
	d.Columns = append(d.Columns, c)
}

// Column returns the desired column or nil.
func (d *DesiredTable) Column(name string) *Column {
	i, ok := d.index[strings.ToLower(name)]
	if !ok {
		return nil
	}
	return &d.Columns[i]
}

// Observe raises a column's width to an observed value width.
func (d *DesiredTable) Observe(column string, width int) {
	if c := d.Column(column); c != nil && width > c.Width {
		c.Width = width
	}
}

// DeclaredCount is the number of columns other than surveyid.
func (d *DesiredTable) DeclaredCount() int {
	if d.Column(SurveyIDColumn) != nil {
		return len(d.Columns) - 1
	}
	return len(d.Columns)
}

// KeyColumns returns the columns kept first-class in a packed table.
func (d *DesiredTable) KeyColumns() []Column {
	var keys []Column
	for _, c := range d.Columns {
		if c.Key {
			keys = append(keys, c)
		}
	}
	return keys
}

// DesiredSet is the merged view of one batch's schema models.
type DesiredSet struct {
	tables []*DesiredTable
	byName map[string]*DesiredTable
}

// Table returns the desired table for a record name, or nil.
func (s *DesiredSet) Table(name string) *DesiredTable {
	return s.byName[strings.ToLower(name)]
}

// Tables returns the tables in first-declared order.
func (s *DesiredSet) Tables() []*DesiredTable {
	return s.tables
}

// Merge unions the tables of every model by name. Widths take the maximum
// declared length and key flags are OR'ed. Each table gets a leading
// surveyid column sized to the longest survey id in the batch.
func Merge(models ...*dictionary.SchemaModel) *DesiredSet {
	surveyWidth := 1
	for _, m := range models {
		if n := len([]rune(m.SurveyID)); n > surveyWidth {
			surveyWidth = n
		}
	}

	set := &DesiredSet{byName: make(map[string]*DesiredTable)}
	for _, m := range models {
		for _, t := range m.Tables {
			key := strings.ToLower(t.Name)
			d := set.byName[key]
			if d == nil {
				d = newDesiredTable(t.Name)
				d.add(Column{Name: SurveyIDColumn, Width: surveyWidth, Key: true})
				set.byName[key] = d
				set.tables = append(set.tables, d)
			}
			d.CountrySpecific = d.CountrySpecific || t.CountrySpecific
			for _, it := range t.Columns() {
				d.add(Column{Name: it.Name, Width: it.Length, Key: it.Key()})
			}
		}
	}
	return set
}
