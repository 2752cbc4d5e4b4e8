package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/surveyload/internal/dictionary"
)

// memCatalog is an in-memory Catalog that counts DDL statements.
type memCatalog struct {
	mu        sync.Mutex
	tables    map[string]*CatalogTable
	ddl       int
	describes int
	failOn    ChangeKind
	failErr   error
	inFlight  map[string]int
	overlap   bool
}

// reconcileTable runs one reconciliation under the table's lease, the way
// the load coordinator does.
func reconcileTable(ctx context.Context, r *Reconciler, sess *Session, desired *DesiredTable) (*Outcome, error) {
	lease, err := sess.Acquire(ctx, desired.Name)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	return r.Reconcile(ctx, lease, desired)
}

func newMemCatalog() *memCatalog {
	return &memCatalog{tables: make(map[string]*CatalogTable), inFlight: make(map[string]int)}
}

func (m *memCatalog) enter(table string) {
	m.mu.Lock()
	m.inFlight[table]++
	if m.inFlight[table] > 1 {
		m.overlap = true
	}
	m.mu.Unlock()
	time.Sleep(time.Millisecond)
}

func (m *memCatalog) leave(table string) {
	m.mu.Lock()
	m.inFlight[table]--
	m.mu.Unlock()
}

func (m *memCatalog) DescribeTable(_ context.Context, table string) (*CatalogTable, error) {
	m.enter(table)
	defer m.leave(table)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.describes++
	return m.tables[table].Clone(), nil
}

func (m *memCatalog) CreateTable(_ context.Context, table string, cols []ColumnDef) error {
	m.enter(table)
	defer m.leave(table)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == ChangeCreate {
		return m.failErr
	}
	m.ddl++
	t := &CatalogTable{Name: table, Columns: make(map[string]CatalogColumn)}
	for _, c := range cols {
		t.Columns[c.Name] = CatalogColumn{Width: c.Width, Document: c.Document}
	}
	m.tables[table] = t
	return nil
}

func (m *memCatalog) AddColumn(_ context.Context, table string, c ColumnDef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == ChangeAdd {
		return m.failErr
	}
	m.ddl++
	m.tables[table].Columns[c.Name] = CatalogColumn{Width: c.Width, Document: c.Document}
	return nil
}

func (m *memCatalog) WidenColumn(_ context.Context, table, column string, width int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == ChangeWiden {
		return m.failErr
	}
	m.ddl++
	col := m.tables[table].Columns[column]
	col.Width = width
	m.tables[table].Columns[column] = col
	return nil
}

func model(surveyID string, tables ...*dictionary.TableSchema) *dictionary.SchemaModel {
	return &dictionary.SchemaModel{SurveyID: surveyID, Tables: tables}
}

func item(name string, length int) *dictionary.ItemSchema {
	return &dictionary.ItemSchema{Name: name, Length: length}
}

func idItem(name string, length int) *dictionary.ItemSchema {
	return &dictionary.ItemSchema{Name: name, Length: length, Identifier: true}
}

func rech0(hv006Len int) *dictionary.TableSchema {
	return &dictionary.TableSchema{
		Name:        "RECH0",
		Identifiers: []*dictionary.ItemSchema{idItem("HHID", 12)},
		Items:       []*dictionary.ItemSchema{item("HV000", 3), item("HV006", hv006Len)},
	}
}

func wideTable(name string, n int) *dictionary.TableSchema {
	t := &dictionary.TableSchema{
		Name:        name,
		Identifiers: []*dictionary.ItemSchema{idItem("CASEID", 15)},
	}
	for i := 0; i < n-2; i++ {
		t.Items = append(t.Items, item(fmt.Sprintf("V%03d", i), 2))
	}
	t.Items = append(t.Items, &dictionary.ItemSchema{Name: "BIDX", Length: 2, Joinable: true})
	return t
}

func TestMerge_UnionsTablesAcrossSurveys(t *testing.T) {
	a := model("524", rech0(2))
	b := model("61", rech0(4), &dictionary.TableSchema{Name: "RECH1", Items: []*dictionary.ItemSchema{item("HVIDX", 2)}})
	b.Tables[0].Items = append(b.Tables[0].Items, item("HV999", 1))

	set := Merge(a, b)
	require.Len(t, set.Tables(), 2)

	d := set.Table("RECH0")
	require.NotNil(t, d)
	assert.Equal(t, "rech0", d.Name)
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"surveyid", "hhid", "hv000", "hv006", "hv999"}, names)
	assert.Equal(t, 3, d.Column("surveyid").Width)
	assert.Equal(t, 4, d.Column("HV006").Width)
	assert.True(t, d.Column("hhid").Key)
	assert.False(t, d.Column("hv000").Key)
	assert.Equal(t, 4, d.DeclaredCount())
}

func TestDesiredTable_Observe(t *testing.T) {
	d := Merge(model("524", rech0(2))).Table("rech0")
	d.Observe("HV006", 1)
	assert.Equal(t, 2, d.Column("hv006").Width)
	d.Observe("HV006", 5)
	assert.Equal(t, 5, d.Column("hv006").Width)
	d.Observe("nope", 9)
}

func TestPolicy_Packed(t *testing.T) {
	p := Policy{Threshold: 500, CountrySpecific: []string{"REC94"}}

	at := Merge(model("1", wideTable("REC80", 500))).Table("rec80")
	over := Merge(model("1", wideTable("REC81", 501))).Table("rec81")
	country := Merge(model("1", rech0(2))).Table("rech0")
	country.Name = "rec94"

	assert.False(t, p.Packed(at), "exactly the threshold stays unpacked")
	assert.True(t, p.Packed(over))
	assert.True(t, p.Packed(country))
	assert.False(t, Policy{}.Packed(at), "zero threshold falls back to the default")
}

func TestReconcile_CreatesUnpackedTable(t *testing.T) {
	cat := newMemCatalog()
	r := New(cat, Policy{})
	sess := NewSession(false)

	out, err := reconcileTable(context.Background(), r, sess, Merge(model("524", rech0(2))).Table("rech0"))
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.True(t, out.Modified)
	assert.False(t, out.Packed)
	require.Len(t, out.Changes, 1)
	assert.Equal(t, ChangeCreate, out.Changes[0].Kind)
	assert.Equal(t, []string{"hhid", "hv000", "hv006", "surveyid"}, cat.tables["rech0"].ColumnNames())
	assert.Equal(t, 1, cat.ddl)
	st, err := sess.Status(context.Background(), "RECH0")
	require.NoError(t, err)
	assert.True(t, st.Verified)
	assert.True(t, st.Modified)
}

func TestReconcile_PackedScenario(t *testing.T) {
	cat := newMemCatalog()
	r := New(cat, Policy{Threshold: 500})
	d := Merge(model("524", wideTable("REC41", 520))).Table("rec41")
	require.Equal(t, 520, d.DeclaredCount())

	out, err := reconcileTable(context.Background(), r, NewSession(false), d)
	require.NoError(t, err)
	assert.True(t, out.Packed)

	got := cat.tables["rec41"]
	assert.Equal(t, []string{"bidx", "caseid", "data", "surveyid"}, got.ColumnNames())
	assert.True(t, got.Columns["data"].Document)
	assert.True(t, got.Packed())
}

func TestReconcile_PackingIsDeterministic(t *testing.T) {
	a := model("524", wideTable("REC41", 600))
	b := model("61", wideTable("REC41", 610))

	var shapes [][]string
	for _, order := range [][]*dictionary.SchemaModel{{a, b}, {b, a}} {
		cat := newMemCatalog()
		_, err := reconcileTable(context.Background(), New(cat, Policy{}), NewSession(false), Merge(order...).Table("rec41"))
		require.NoError(t, err)
		shapes = append(shapes, cat.tables["rec41"].ColumnNames())
	}
	assert.Equal(t, shapes[0], shapes[1])
	assert.Equal(t, []string{"bidx", "caseid", "data", "surveyid"}, shapes[0])
}

func TestReconcile_PackedTableOnlyAddsKeys(t *testing.T) {
	cat := newMemCatalog()
	cat.tables["rec41"] = &CatalogTable{Name: "rec41", Columns: map[string]CatalogColumn{
		"surveyid": {Width: 3},
		"caseid":   {Width: 15},
		"data":     {Document: true},
	}}

	d := Merge(model("524", wideTable("REC41", 3))).Table("rec41")
	out, err := reconcileTable(context.Background(), New(cat, Policy{}), NewSession(false), d)
	require.NoError(t, err)
	assert.True(t, out.Packed, "packed-ness is read from the catalog")
	require.Len(t, out.Changes, 1)
	assert.Equal(t, ChangeAdd, out.Changes[0].Kind)
	assert.Equal(t, "bidx", out.Changes[0].Column.Name)
}

func TestReconcile_Idempotence(t *testing.T) {
	cat := newMemCatalog()
	r := New(cat, Policy{})
	d := Merge(model("524", rech0(2))).Table("rech0")

	_, err := reconcileTable(context.Background(), r, NewSession(false), d)
	require.NoError(t, err)
	ddl := cat.ddl

	// A fresh session against a matching catalog does no DDL.
	sess := NewSession(false)
	out, err := reconcileTable(context.Background(), r, sess, d)
	require.NoError(t, err)
	assert.Equal(t, ddl, cat.ddl)
	assert.False(t, out.Modified)
	assert.False(t, out.Created)
	assert.Empty(t, out.Changes)

	// A second call in the same session does not even look at the catalog.
	describes := cat.describes
	cat.tables["rech0"].Columns["hv006"] = CatalogColumn{Width: 1}
	out, err = reconcileTable(context.Background(), r, sess, d)
	require.NoError(t, err)
	assert.True(t, out.Cached)
	assert.Equal(t, describes, cat.describes)
	assert.Equal(t, ddl, cat.ddl)
}

func TestReconcile_WidthMonotonicity(t *testing.T) {
	cat := newMemCatalog()
	r := New(cat, Policy{})

	steps := []int{2, 5, 3, 1, 7}
	prev := 0
	for _, w := range steps {
		_, err := reconcileTable(context.Background(), r, NewSession(false), Merge(model("524", rech0(w))).Table("rech0"))
		require.NoError(t, err)
		got := cat.tables["rech0"].Columns["hv006"].Width
		assert.GreaterOrEqual(t, got, prev, "declared width %d", w)
		assert.GreaterOrEqual(t, got, w)
		prev = got
	}
	assert.Equal(t, 7, prev)
}

func TestReconcile_AddsAndWidens(t *testing.T) {
	cat := newMemCatalog()
	cat.tables["rech0"] = &CatalogTable{Name: "rech0", Columns: map[string]CatalogColumn{
		"surveyid": {Width: 3},
		"hhid":     {Width: 12},
		"hv000":    {Width: 0},
		"hv006":    {Width: 1},
	}}
	sch := rech0(2)
	sch.Items = append(sch.Items, item("HV007", 4))

	out, err := reconcileTable(context.Background(), New(cat, Policy{}), NewSession(false), Merge(model("524", sch)).Table("rech0"))
	require.NoError(t, err)

	kinds := map[ChangeKind][]string{}
	for _, c := range out.Changes {
		kinds[c.Kind] = append(kinds[c.Kind], c.Column.Name)
	}
	assert.Equal(t, []string{"hv006"}, kinds[ChangeWiden])
	assert.Equal(t, []string{"hv007"}, kinds[ChangeAdd])
	assert.Equal(t, 0, cat.tables["rech0"].Columns["hv000"].Width, "unbounded columns are left alone")
	assert.Equal(t, 4, out.Catalog.Columns["hv007"].Width)
}

func TestReconcile_DryRunPlansWithoutDDL(t *testing.T) {
	cat := newMemCatalog()
	sess := NewSession(true)

	out, err := reconcileTable(context.Background(), New(cat, Policy{}), sess, Merge(model("524", rech0(2))).Table("rech0"))
	require.NoError(t, err)
	assert.True(t, out.DryRun)
	assert.True(t, out.Created)
	assert.Len(t, out.Changes, 1)
	assert.Equal(t, 0, cat.ddl)
	assert.Empty(t, cat.tables)
	assert.Equal(t, 2, out.Catalog.Columns["hv006"].Width, "post-state reflects the plan")
}

func TestReconcile_FailureMarksTable(t *testing.T) {
	cat := newMemCatalog()
	cat.failOn = ChangeCreate
	cat.failErr = errors.New("connection reset")
	r := New(cat, Policy{})
	sess := NewSession(false)
	set := Merge(model("524", rech0(2), &dictionary.TableSchema{Name: "RECH1", Items: []*dictionary.ItemSchema{item("HVIDX", 2)}}))

	_, err := reconcileTable(context.Background(), r, sess, set.Table("rech0"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMigration)
	assert.Contains(t, err.Error(), "connection reset")

	cat.failOn = ""
	_, err = reconcileTable(context.Background(), r, sess, set.Table("rech0"))
	assert.ErrorIs(t, err, ErrMigration, "a failed table stays failed for the session")
	st, serr := sess.Status(context.Background(), "rech0")
	require.NoError(t, serr)
	assert.Error(t, st.Err)
	assert.False(t, st.Verified)

	_, err = reconcileTable(context.Background(), r, sess, set.Table("rech1"))
	assert.NoError(t, err, "other tables are unaffected")
}

func TestReconcile_ReleasedLease(t *testing.T) {
	sess := NewSession(false)
	d := Merge(model("524", rech0(2))).Table("rech0")
	lease, err := sess.Acquire(context.Background(), "rech0")
	require.NoError(t, err)
	lease.Release()
	lease.Release()

	_, err = New(newMemCatalog(), Policy{}).Reconcile(context.Background(), lease, d)
	assert.ErrorIs(t, err, ErrLeaseReleased)
}

func TestSession_SerializesSameTable(t *testing.T) {
	cat := newMemCatalog()
	r := New(cat, Policy{})
	sess := NewSession(false)
	set := Merge(model("524", rech0(2), wideTable("REC01", 3), wideTable("REC21", 4)))

	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for i := 0; i < 10; i++ {
		for _, d := range set.Tables() {
			wg.Add(1)
			go func(d *DesiredTable) {
				defer wg.Done()
				_, err := reconcileTable(context.Background(), r, sess, d)
				errs <- err
			}(d)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.False(t, cat.overlap, "two workers touched one table at once")
	assert.Equal(t, 3, cat.describes, "each table is described once per session")
	assert.Equal(t, 3, cat.ddl)
	assert.Equal(t, []string{"rec01", "rec21", "rech0"}, sess.Tables())
	for _, name := range sess.Tables() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		st, err := sess.Status(ctx, name)
		cancel()
		require.NoError(t, err, "lease for %s still held", name)
		assert.True(t, st.Verified)
	}
}

func TestSession_AcquireHonorsContext(t *testing.T) {
	sess := NewSession(false)
	held, err := sess.Acquire(context.Background(), "rech0")
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sess.Acquire(ctx, "RECH0")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := sess.Acquire(context.Background(), "rech1")
	require.NoError(t, err)
	other.Release()
	again, err := sess.Acquire(context.Background(), "rech1")
	require.NoError(t, err)
	again.Release()
}

func TestChange_String(t *testing.T) {
	c := Change{Kind: ChangeWiden, Table: "rech0", Column: ColumnDef{Name: "hv006", Width: 4}, From: 2}
	assert.Equal(t, "widen column rech0.hv006 2 -> 4", c.String())
	add := Change{Kind: ChangeAdd, Table: "rec41", Column: ColumnDef{Name: "data", Document: true}}
	assert.True(t, strings.HasSuffix(add.String(), "jsonb"))
}
