package dictionary

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Block headers understood by the parser. Anything else is skipped.
const (
	blockDictionary = "Dictionary"
	blockLevel      = "Level"
	blockIdItems    = "IdItems"
	blockRecord     = "Record"
	blockItem       = "Item"
	blockValueSet   = "ValueSet"
	blockRelation   = "Relation"
)

// Options identify the survey a dictionary belongs to.
type Options struct {
	SurveyID string
	FileCode string
}

// keyValue is one Key=Value line with its position.
type keyValue struct {
	line  int
	key   string
	value string
}

// block accumulates the lines of the block being read.
type block struct {
	kind string
	line int

	// First occurrence of each key wins.
	keys map[string]string
	// Repeatable Value= lines of a [ValueSet].
	values []keyValue
	// Ordered lines of a [Relation]; order carries meaning there.
	rows []keyValue
}

func (b *block) get(key string) (string, bool) {
	v, ok := b.keys[key]
	return v, ok && v != ""
}

// group is the currently open [Level] and its identifier items.
type group struct {
	name  string
	label string
	ids   []*ItemSchema
}

type parser struct {
	model *SchemaModel

	cur      *block
	line     int
	sawDict  bool
	group    *group
	inIDs    bool
	table    *TableSchema
	lastItem *ItemSchema

	levels    map[string]string
	records   map[string]*TableSchema
	dispatch  map[string]string
	relations []Relation
}

// Parse reads a dictionary and returns its schema model. Any schema-fatal
// problem returns a *ParseError and no model.
func Parse(r io.Reader, opts Options) (*SchemaModel, error) {
	p := &parser{
		model: &SchemaModel{
			SurveyID: opts.SurveyID,
			FileCode: opts.FileCode,
		},
		levels:   make(map[string]string),
		records:  make(map[string]*TableSchema),
		dispatch: make(map[string]string),
	}

	br := bufio.NewReader(r)
	for {
		raw, readErr := br.ReadString('\n')
		if raw != "" {
			p.line++
			if err := p.feed(raw); err != nil {
				return nil, err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("read dictionary: %w", readErr)
		}
	}

	if err := p.commit(); err != nil {
		return nil, err
	}
	if !p.sawDict {
		return nil, &ParseError{Line: p.line, Block: blockDictionary, Detail: "no [Dictionary] block", Err: ErrMalformedBlock}
	}

	p.model.Relations = p.relations
	p.markJoinable()
	return p.model, nil
}

func (p *parser) feed(raw string) error {
	trimmed := strings.TrimSpace(raw)

	if trimmed == "" {
		return p.commit()
	}

	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		if err := p.commit(); err != nil {
			return err
		}
		kind := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
		switch kind {
		case blockDictionary, blockLevel, blockIdItems, blockRecord, blockItem, blockValueSet, blockRelation:
			p.cur = &block{kind: kind, line: p.line, keys: make(map[string]string)}
		default:
			p.warn("skipped unknown block [%s]", kind)
		}
		return nil
	}

	// Lines outside a known block are ignored.
	if p.cur == nil {
		return nil
	}

	key, value, ok := strings.Cut(trimmed, "=")
	if !ok {
		return nil
	}
	kv := keyValue{line: p.line, key: strings.TrimSpace(key), value: strings.TrimSpace(value)}

	switch {
	case p.cur.kind == blockRelation:
		p.cur.rows = append(p.cur.rows, kv)
	case kv.key == "Value":
		p.cur.values = append(p.cur.values, kv)
	default:
		if _, seen := p.cur.keys[kv.key]; !seen {
			p.cur.keys[kv.key] = kv.value
		}
	}
	return nil
}

// commit applies the block being read, if any, to the model.
func (p *parser) commit() error {
	b := p.cur
	if b == nil {
		return nil
	}
	p.cur = nil

	switch b.kind {
	case blockDictionary:
		return p.commitDictionary(b)
	case blockLevel:
		return p.commitLevel(b)
	case blockIdItems:
		p.commitIdItems()
	case blockRecord:
		return p.commitRecord(b)
	case blockItem:
		return p.commitItem(b)
	case blockValueSet:
		return p.commitValueSet(b)
	case blockRelation:
		p.commitRelation(b)
	}
	return nil
}

func (p *parser) commitDictionary(b *block) error {
	start, err := requireInt(b, "RecordTypeStart")
	if err != nil {
		return err
	}
	length, err := requireInt(b, "RecordTypeLen")
	if err != nil {
		return err
	}
	if start < 1 || length < 1 {
		return malformed(b, "RecordTypeStart and RecordTypeLen must be positive")
	}

	m := p.model
	m.DispatchStart = start
	m.DispatchLen = length
	m.Name = b.keys["Name"]
	m.Label = b.keys["Label"]
	m.ZeroFill = yes(b.keys["ZeroFill"])
	m.DecimalChar = yes(b.keys["DecimalChar"])
	p.sawDict = true
	return nil
}

func (p *parser) commitLevel(b *block) error {
	name, ok := b.get("Name")
	if !ok {
		return malformed(b, "level has no Name")
	}
	label := b.keys["Label"]

	if prev, dup := p.levels[name]; dup {
		if prev != label {
			return &ParseError{Line: b.line, Block: b.kind, Detail: fmt.Sprintf("level %q redeclared with label %q (was %q)", name, label, prev), Err: ErrDuplicateName}
		}
		p.warnAt(b.line, "duplicate level %q", name)
	}
	p.levels[name] = label

	p.group = &group{name: name, label: label}
	p.inIDs = false
	p.table = nil
	p.lastItem = nil
	return nil
}

func (p *parser) commitIdItems() {
	if p.group == nil {
		p.group = &group{}
	}
	p.group.ids = nil
	p.inIDs = true
	p.table = nil
	p.lastItem = nil
}

func (p *parser) commitRecord(b *block) error {
	name, ok := b.get("Name")
	if !ok {
		return malformed(b, "record has no Name")
	}
	label := b.keys["Label"]

	if existing, dup := p.records[name]; dup {
		if existing.Label != label {
			return &ParseError{Line: b.line, Block: b.kind, Detail: fmt.Sprintf("record %q redeclared with label %q (was %q)", name, label, existing.Label), Err: ErrDuplicateName}
		}
		p.warnAt(b.line, "duplicate record %q, continuing the earlier declaration", name)
		p.inIDs = false
		p.table = existing
		p.lastItem = nil
		return nil
	}

	recordLen := 0
	if v, ok := b.get("RecordLen"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return malformed(b, fmt.Sprintf("RecordLen %q is not a number", v))
		}
		recordLen = n
	}

	t := &TableSchema{
		Name:          name,
		Label:         label,
		DispatchValue: strings.Trim(b.keys["RecordTypeValue"], "'"),
		RecordLen:     recordLen,
	}
	if p.group != nil {
		t.Level = p.group.name
		for _, id := range p.group.ids {
			clone := *id
			t.Identifiers = append(t.Identifiers, &clone)
		}
	}

	if other, taken := p.dispatch[t.DispatchValue]; taken {
		p.warnAt(b.line, "record %q reuses dispatch value %q of record %q", name, t.DispatchValue, other)
	} else {
		p.dispatch[t.DispatchValue] = name
	}

	p.records[name] = t
	p.model.Tables = append(p.model.Tables, t)
	p.inIDs = false
	p.table = t
	p.lastItem = nil
	return nil
}

func (p *parser) commitItem(b *block) error {
	name, ok := b.get("Name")
	if !ok {
		return malformed(b, "item has no Name")
	}
	start, err := requireInt(b, "Start")
	if err != nil {
		return err
	}
	length, err := requireInt(b, "Len")
	if err != nil {
		return err
	}
	if start < 1 || length < 1 {
		return malformed(b, fmt.Sprintf("item %q has Start=%d Len=%d", name, start, length))
	}

	it := &ItemSchema{
		Name:        name,
		Label:       b.keys["Label"],
		Start:       start,
		Length:      length,
		DataType:    DataTypeNumeric,
		Occurrences: 1,
		ZeroFill:    p.model.ZeroFill,
		DecimalChar: p.model.DecimalChar,
	}
	if strings.EqualFold(b.keys["DataType"], string(DataTypeAlpha)) {
		it.DataType = DataTypeAlpha
	}
	if strings.EqualFold(b.keys["ItemType"], "SubItem") {
		it.SubItem = true
	}
	if v, ok := b.get("Occurrences"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			it.Occurrences = n
		}
	}
	if v, ok := b.get("Decimal"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			it.Decimal = n
		}
	}
	if v, ok := b.get("ZeroFill"); ok {
		it.ZeroFill = yes(v)
	}
	if v, ok := b.get("DecimalChar"); ok {
		it.DecimalChar = yes(v)
	}

	switch {
	case p.inIDs:
		it.Identifier = true
		p.group.ids = append(p.group.ids, it)
		p.lastItem = it
	case p.table != nil:
		if p.table.Item(name) != nil {
			p.warnAt(b.line, "record %q declares item %q twice, keeping the first", p.table.Name, name)
			p.lastItem = nil
			return nil
		}
		p.table.Items = append(p.table.Items, it)
		p.lastItem = it
	default:
		return malformed(b, fmt.Sprintf("item %q appears before any [Record] or [IdItems]", name))
	}
	return nil
}

func (p *parser) commitValueSet(b *block) error {
	if p.lastItem == nil {
		p.warnAt(b.line, "value set %q has no preceding item", b.keys["Name"])
		return nil
	}

	vs := p.lastItem.ValueSet
	if vs == nil {
		vs = &ValueSet{Name: b.keys["Name"], Label: b.keys["Label"]}
		p.lastItem.ValueSet = vs
	}

	for _, kv := range b.values {
		ranges, code, err := parseValue(kv.value)
		if err != nil {
			return &ParseError{Line: kv.line, Block: b.kind, Detail: err.Error(), Err: ErrMalformedBlock}
		}
		vs.Ranges = append(vs.Ranges, ranges...)
		if code != nil {
			vs.Codes = append(vs.Codes, *code)
		}
	}
	return nil
}

func (p *parser) commitRelation(b *block) {
	var rb relationBuilder
	for _, kv := range b.rows {
		if rel, ok := rb.add(kv.key, kv.value); ok {
			p.relations = append(p.relations, rel)
		}
	}
	if rel, ok := rb.flush(); ok {
		p.relations = append(p.relations, rel)
	}
}

// markJoinable flags items named as a link in any relation.
func (p *parser) markJoinable() {
	mark := func(table, link string) {
		if link == "" || link == RowIDLink {
			return
		}
		t := p.model.Table(table)
		if t == nil {
			return
		}
		if it := t.Item(link); it != nil {
			it.Joinable = true
		}
	}
	for _, rel := range p.model.Relations {
		mark(rel.PrimaryTable, rel.PrimaryLink)
		mark(rel.SecondaryTable, rel.SecondaryLink)
	}
}

func (p *parser) warn(format string, args ...any) {
	p.warnAt(p.line, format, args...)
}

func (p *parser) warnAt(line int, format string, args ...any) {
	p.model.Warnings = append(p.model.Warnings, Warning{Line: line, Message: fmt.Sprintf(format, args...)})
}

func requireInt(b *block, key string) (int, error) {
	v, ok := b.get(key)
	if !ok {
		return 0, malformed(b, "missing "+key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, malformed(b, fmt.Sprintf("%s %q is not a number", key, v))
	}
	return n, nil
}

func malformed(b *block, detail string) error {
	return &ParseError{Line: b.line, Block: b.kind, Detail: detail, Err: ErrMalformedBlock}
}

func yes(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "yes")
}

// IsSchemaFatal reports whether err rejects a whole dictionary.
func IsSchemaFatal(err error) bool {
	return errors.Is(err, ErrMalformedBlock) || errors.Is(err, ErrDuplicateName)
}
