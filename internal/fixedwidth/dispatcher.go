// Package fixedwidth splits interleaved fixed-width survey data files into
// per-table rowsets using a parsed dictionary.
//
// Every line carries a dispatch value at a position that is constant for the
// whole file. The value selects the table; the table's items select the
// substrings. Identifier fields keep their padding byte for byte, because a
// child identifier is the parent identifier followed by a fixed-length
// suffix. Every other field is trimmed.
package fixedwidth

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/surveyload/internal/dictionary"
)

// DefaultIssueLimit caps the individual line issues kept in a Result.
const DefaultIssueLimit = 100

// contextCheckInterval is how many lines are read between cancellation checks.
const contextCheckInterval = 10000

// IssueKind classifies a skipped line.
type IssueKind string

const (
	// IssueUnknownDispatch is a line whose dispatch value names no table.
	IssueUnknownDispatch IssueKind = "unknown_dispatch"
	// IssueShortLine is a line ending before a declared field does.
	IssueShortLine IssueKind = "short_line"
)

// LineIssue is one recoverable problem with a data line.
type LineIssue struct {
	Line     int
	Kind     IssueKind
	Dispatch string
	Table    string
	Detail   string
}

// Stats summarizes one dispatch run.
type Stats struct {
	Lines      int
	Blank      int
	Rows       int
	Skipped    int
	ByKind     map[IssueKind]int
	ByDispatch map[string]int // unknown dispatch values
}

// Result holds the rowsets and the line issues of one data file.
type Result struct {
	Tables map[string]*RowSet
	// Order lists table names in first-seen order.
	Order  []string
	Issues []LineIssue
	Stats  Stats
}

// RowSet returns the rows for a table or nil.
func (r *Result) RowSet(table string) *RowSet {
	return r.Tables[table]
}

// field is a compiled extraction for one column.
type field struct {
	name       string
	start, end int // 0-based, end exclusive, in characters
	identifier bool
	numeric    bool
}

type tablePlan struct {
	schema *dictionary.TableSchema
	fields []field
	minLen int
}

// Dispatcher extracts rows for one schema model. It is safe to reuse across
// files of the same survey but not for concurrent Dispatch calls.
type Dispatcher struct {
	model      *dictionary.SchemaModel
	plans      map[string]*tablePlan
	dispStart  int
	dispEnd    int
	issueLimit int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithIssueLimit caps the individual issues kept; counts are never capped.
func WithIssueLimit(n int) Option {
	return func(d *Dispatcher) {
		if n >= 0 {
			d.issueLimit = n
		}
	}
}

// NewDispatcher compiles extraction plans for every table in m.
func NewDispatcher(m *dictionary.SchemaModel, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		model:      m,
		plans:      make(map[string]*tablePlan, len(m.Tables)),
		dispStart:  m.DispatchStart - 1,
		dispEnd:    m.DispatchStart - 1 + m.DispatchLen,
		issueLimit: DefaultIssueLimit,
	}
	for _, o := range opts {
		o(d)
	}

	for _, t := range m.Tables {
		if _, taken := d.plans[t.DispatchValue]; taken {
			continue // first declaration wins, the parser already warned
		}
		p := &tablePlan{schema: t}
		for _, it := range t.Columns() {
			f := field{
				name:       it.Name,
				start:      it.Start - 1,
				end:        it.End(),
				identifier: it.Identifier,
				numeric:    it.DataType == dictionary.DataTypeNumeric,
			}
			if f.end > p.minLen {
				p.minLen = f.end
			}
			p.fields = append(p.fields, f)
		}
		d.plans[t.DispatchValue] = p
	}
	return d
}

// Dispatch reads every line of r. Unknown dispatch values and short lines
// are counted and skipped; only read errors and cancellation fail the call.
func (d *Dispatcher) Dispatch(ctx context.Context, r io.Reader) (*Result, error) {
	res := &Result{
		Tables: make(map[string]*RowSet),
		Stats: Stats{
			ByKind:     make(map[IssueKind]int),
			ByDispatch: make(map[string]int),
		},
	}

	br := bufio.NewReaderSize(r, 64*1024)
	lineNo := 0
	for {
		raw, readErr := br.ReadString('\n')
		if raw != "" {
			lineNo++
			if lineNo%contextCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return nil, fmt.Errorf("dispatch cancelled at line %d: %w", lineNo, err)
				}
			}
			d.dispatchLine(res, lineNo, strings.TrimRight(raw, "\r\n"))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("read data line %d: %w", lineNo+1, readErr)
		}
	}
	res.Stats.Lines = lineNo
	return res, nil
}

func (d *Dispatcher) dispatchLine(res *Result, lineNo int, line string) {
	if line == "" {
		res.Stats.Blank++
		return
	}

	text := newLineText(line)
	if text.len() < d.dispEnd {
		d.issue(res, LineIssue{Line: lineNo, Kind: IssueShortLine,
			Detail: fmt.Sprintf("line has %d characters, dispatch value ends at %d", text.len(), d.dispEnd)})
		return
	}

	key := text.slice(d.dispStart, d.dispEnd)
	plan, ok := d.plans[key]
	if !ok {
		res.Stats.ByDispatch[key]++
		d.issue(res, LineIssue{Line: lineNo, Kind: IssueUnknownDispatch, Dispatch: key,
			Detail: fmt.Sprintf("no record declares dispatch value %q", key)})
		return
	}

	if text.len() < plan.minLen {
		d.issue(res, LineIssue{Line: lineNo, Kind: IssueShortLine, Dispatch: key, Table: plan.schema.Name,
			Detail: fmt.Sprintf("line has %d characters, %s needs %d", text.len(), plan.schema.Name, plan.minLen)})
		return
	}

	rs := res.Tables[plan.schema.Name]
	if rs == nil {
		rs = newRowSet(plan)
		res.Tables[plan.schema.Name] = rs
		res.Order = append(res.Order, plan.schema.Name)
	}

	row := make([]string, len(plan.fields))
	for i, f := range plan.fields {
		v := text.slice(f.start, f.end)
		if !f.identifier {
			v = strings.TrimSpace(v)
			if f.numeric {
				v = canonicalNumber(v)
			}
		}
		row[i] = v
	}
	rs.append(row)
	res.Stats.Rows++
}

func (d *Dispatcher) issue(res *Result, iss LineIssue) {
	res.Stats.Skipped++
	res.Stats.ByKind[iss.Kind]++
	if len(res.Issues) < d.issueLimit {
		res.Issues = append(res.Issues, iss)
	}
}

// canonicalNumber drops the leading zeros of a zero-filled numeric value,
// so "06" and " 6" both read as "6". Anything that is not a plain decimal
// number is returned unchanged.
func canonicalNumber(v string) string {
	if v == "" {
		return v
	}
	sign := ""
	digits := v
	if digits[0] == '-' || digits[0] == '+' {
		sign, digits = digits[:1], digits[1:]
	}
	intPart, frac, hasFrac := strings.Cut(digits, ".")
	if intPart == "" && frac == "" {
		return v
	}
	for _, part := range []string{intPart, frac} {
		for i := 0; i < len(part); i++ {
			if part[i] < '0' || part[i] > '9' {
				return v
			}
		}
	}

	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	if sign == "+" || (intPart == "0" && strings.Trim(frac, "0") == "") {
		sign = ""
	}
	if hasFrac {
		return sign + intPart + "." + frac
	}
	return sign + intPart
}

// lineText slices by character. Pure ASCII lines, the common case, slice
// the string directly.
type lineText struct {
	s     string
	runes []rune
}

func newLineText(s string) lineText {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return lineText{s: s, runes: []rune(s)}
		}
	}
	return lineText{s: s}
}

func (l lineText) len() int {
	if l.runes != nil {
		return len(l.runes)
	}
	return len(l.s)
}

func (l lineText) slice(start, end int) string {
	if l.runes != nil {
		return string(l.runes[start:end])
	}
	return l.s[start:end]
}
