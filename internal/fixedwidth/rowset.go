package fixedwidth

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/JonMunkholm/surveyload/internal/dictionary"
)

// RowSet is the rectangular output for one table of one data file.
type RowSet struct {
	Table   string
	Schema  *dictionary.TableSchema
	Columns []string
	// Identifier marks columns extracted without trimming.
	Identifier []bool
	Rows       [][]string
	// MaxWidths is the widest value seen per column, in characters.
	MaxWidths []int
}

func newRowSet(p *tablePlan) *RowSet {
	rs := &RowSet{
		Table:      p.schema.Name,
		Schema:     p.schema,
		Columns:    make([]string, len(p.fields)),
		Identifier: make([]bool, len(p.fields)),
		MaxWidths:  make([]int, len(p.fields)),
	}
	for i, f := range p.fields {
		rs.Columns[i] = f.name
		rs.Identifier[i] = f.identifier
	}
	return rs
}

func (rs *RowSet) append(row []string) {
	for i, v := range row {
		if w := utf8.RuneCountInString(v); w > rs.MaxWidths[i] {
			rs.MaxWidths[i] = w
		}
	}
	rs.Rows = append(rs.Rows, row)
}

// Len is the number of rows.
func (rs *RowSet) Len() int {
	return len(rs.Rows)
}

// WriteCSV writes the rowset with a header row.
func (rs *RowSet) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(rs.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(rs.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// WriteFiles writes one <prefix>.<TABLE>.csv per table into dir, in
// first-seen order, and returns the paths.
func (r *Result) WriteFiles(dir, prefix string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	paths := make([]string, 0, len(r.Order))
	for _, name := range r.Order {
		path := filepath.Join(dir, fmt.Sprintf("%s.%s.csv", prefix, name))
		f, err := os.Create(path)
		if err != nil {
			return paths, fmt.Errorf("create %s: %w", path, err)
		}
		if err := r.Tables[name].WriteCSV(f); err != nil {
			f.Close()
			return paths, fmt.Errorf("write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
