package reconcile

import "strings"

// DefaultThreshold is the declared column count above which a table is packed.
const DefaultThreshold = 500

// Policy decides whether a new table is packed.
type Policy struct {
	Threshold       int
	CountrySpecific []string
}

// Packed is true when the table declares more than Threshold columns
// (surveyid not counted) or is country-specific.
func (p Policy) Packed(d *DesiredTable) bool {
	if d.CountrySpecific || p.countrySpecific(d.Name) {
		return true
	}
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return d.DeclaredCount() > threshold
}

func (p Policy) countrySpecific(table string) bool {
	for _, name := range p.CountrySpecific {
		if strings.EqualFold(strings.TrimSpace(name), table) {
			return true
		}
	}
	return false
}

// CreateColumns returns the columns a new table is created with. A packed
// table gets its key columns and one document column.
func (p Policy) CreateColumns(d *DesiredTable) (cols []ColumnDef, packed bool) {
	if !p.Packed(d) {
		for _, c := range d.Columns {
			cols = append(cols, ColumnDef{Name: c.Name, Width: c.Width, Key: c.Key})
		}
		return cols, false
	}
	for _, c := range d.KeyColumns() {
		cols = append(cols, ColumnDef{Name: c.Name, Width: c.Width, Key: true})
	}
	cols = append(cols, ColumnDef{Name: DocumentColumn, Document: true})
	return cols, true
}
