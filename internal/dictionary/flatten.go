package dictionary

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// ColumnSpec is one row of the flat table/column relation.
type ColumnSpec struct {
	SurveyID      string `json:"survey_id"`
	FileCode      string `json:"file_code"`
	TableName     string `json:"table"`
	TableLabel    string `json:"table_label"`
	DispatchValue string `json:"dispatch_value"`
	ColumnName    string `json:"column"`
	ColumnLabel   string `json:"label"`
	Start         int    `json:"start"`
	Length        int    `json:"length"`
	DataType      string `json:"data_type"`
	ItemType      string `json:"item_type"`
}

// ValueSpec is one row of the flat value/code relation.
type ValueSpec struct {
	SurveyID    string `json:"survey_id"`
	FileCode    string `json:"file_code"`
	TableName   string `json:"table"`
	ColumnName  string `json:"column"`
	Value       string `json:"value"`
	Description string `json:"description"`
	ValueType   string `json:"value_type"`
}

// RelationSpec is one row of the flat relation list.
type RelationSpec struct {
	SurveyID string
	FileCode string
	Relation
}

// FlatSpec is the model flattened into queryable relations.
type FlatSpec struct {
	Columns   []ColumnSpec
	Values    []ValueSpec
	Relations []RelationSpec
}

// FlattenOptions control value range expansion.
type FlattenOptions struct {
	Expand     ExpandStrategy
	RangeLimit int
}

// Flatten produces the column, value and relation relations of a model.
// Columns are listed per table in row order: identifiers first.
func Flatten(m *SchemaModel, opts FlattenOptions) *FlatSpec {
	if opts.Expand == "" {
		opts.Expand = ExpandAll
	}

	fs := &FlatSpec{}
	for _, t := range m.Tables {
		for _, it := range t.Columns() {
			fs.Columns = append(fs.Columns, ColumnSpec{
				SurveyID:      m.SurveyID,
				FileCode:      m.FileCode,
				TableName:     t.Name,
				TableLabel:    t.Label,
				DispatchValue: t.DispatchValue,
				ColumnName:    it.Name,
				ColumnLabel:   it.Label,
				Start:         it.Start,
				Length:        it.Length,
				DataType:      string(it.DataType),
				ItemType:      it.Kind(),
			})
			for _, v := range it.ValueSet.Expand(opts.Expand, opts.RangeLimit) {
				fs.Values = append(fs.Values, ValueSpec{
					SurveyID:    m.SurveyID,
					FileCode:    m.FileCode,
					TableName:   t.Name,
					ColumnName:  it.Name,
					Value:       v.Value,
					Description: v.Description,
					ValueType:   v.Type,
				})
			}
		}
	}
	for _, rel := range m.Relations {
		fs.Relations = append(fs.Relations, RelationSpec{SurveyID: m.SurveyID, FileCode: m.FileCode, Relation: rel})
	}
	return fs
}

var (
	columnSpecHeader   = []string{"SurveyId", "FileCode", "RecordName", "RecordLabel", "RecordTypeValue", "Name", "Label", "Start", "Len", "DataType", "ItemType"}
	valueSpecHeader    = []string{"SurveyId", "FileCode", "RecordName", "Name", "Value", "ValueDesc", "ValueType"}
	relationSpecHeader = []string{"SurveyId", "FileCode", "RelName", "PrimaryTable", "PrimaryLink", "SecondaryTable", "SecondaryLink"}
)

// WriteColumns writes the column relation as CSV with a header row.
func (fs *FlatSpec) WriteColumns(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columnSpecHeader); err != nil {
		return err
	}
	for _, c := range fs.Columns {
		rec := []string{c.SurveyID, c.FileCode, c.TableName, c.TableLabel, c.DispatchValue,
			c.ColumnName, c.ColumnLabel, strconv.Itoa(c.Start), strconv.Itoa(c.Length), c.DataType, c.ItemType}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteValues writes the value relation as CSV with a header row.
func (fs *FlatSpec) WriteValues(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(valueSpecHeader); err != nil {
		return err
	}
	for _, v := range fs.Values {
		if err := cw.Write([]string{v.SurveyID, v.FileCode, v.TableName, v.ColumnName, v.Value, v.Description, v.ValueType}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteRelations writes the relation list as CSV with a header row.
func (fs *FlatSpec) WriteRelations(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(relationSpecHeader); err != nil {
		return err
	}
	for _, r := range fs.Relations {
		if err := cw.Write([]string{r.SurveyID, r.FileCode, r.Name, r.PrimaryTable, r.PrimaryLink, r.SecondaryTable, r.SecondaryLink}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFiles writes <prefix>.FlatRecordSpec.csv, <prefix>.FlatValuesSpec.csv
// and <prefix>.RelationshipsSpec.csv into dir and returns their paths.
func (fs *FlatSpec) WriteFiles(dir, prefix string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	outputs := []struct {
		suffix string
		write  func(io.Writer) error
	}{
		{"FlatRecordSpec.csv", fs.WriteColumns},
		{"FlatValuesSpec.csv", fs.WriteValues},
		{"RelationshipsSpec.csv", fs.WriteRelations},
	}

	paths := make([]string, 0, len(outputs))
	for _, o := range outputs {
		path := filepath.Join(dir, prefix+"."+o.suffix)
		if err := writeFile(path, o.write); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
