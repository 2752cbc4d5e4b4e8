package fixedwidth

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/surveyload/internal/dictionary"
)

const testDCF = `[Dictionary]
RecordTypeStart=1
RecordTypeLen=3

[Level]
Name=HOUSEHOLD
Label=Household

[IdItems]

[Item]
Name=HHID
Start=4
Len=12
DataType=Alpha

[Record]
Name=RECH0
Label=Household's basic data
RecordTypeValue='H00'
RecordLen=172

[Item]
Name=HV000
Start=19
Len=3
DataType=Alpha

[Item]
Name=HV006
Start=49
Len=2

[ValueSet]
Name=HV006_VS1
Value=1:12

[Level]
Name=WOMAN
Label=Woman

[IdItems]

[Item]
Name=CASEID
Start=4
Len=15
DataType=Alpha

[Record]
Name=REC01
Label=Respondent's basic data
RecordTypeValue='01 '
RecordLen=30

[Item]
Name=V003
Start=19
Len=3
`

// record returns row i of rs keyed by column name.
func record(rs *RowSet, i int) map[string]string {
	m := make(map[string]string, len(rs.Columns))
	for j, c := range rs.Columns {
		m[c] = rs.Rows[i][j]
	}
	return m
}

func testModel(t *testing.T) *dictionary.SchemaModel {
	t.Helper()
	m, err := dictionary.Parse(strings.NewReader(testDCF), dictionary.Options{SurveyID: "524"})
	require.NoError(t, err)
	return m
}

// place writes s into a space-filled line at a 1-based position.
func place(line []byte, start int, s string) {
	copy(line[start-1:], s)
}

func household(hhid, hv000, hv006 string) string {
	line := bytes.Repeat([]byte(" "), 172)
	place(line, 1, "H00")
	place(line, 4, hhid)
	place(line, 19, hv000)
	place(line, 49, hv006)
	return string(line)
}

func TestDispatch_HouseholdScenario(t *testing.T) {
	m := testModel(t)
	data := household("   1234    5", "KE7", "06") + "\n" +
		"X99" + strings.Repeat(" ", 169) + "\n"

	res, err := NewDispatcher(m).Dispatch(context.Background(), strings.NewReader(data))
	require.NoError(t, err)

	rs := res.RowSet("RECH0")
	require.NotNil(t, rs)
	require.Equal(t, 1, rs.Len())
	rec := record(rs, 0)
	assert.Equal(t, "6", rec["HV006"])
	assert.Equal(t, "KE7", rec["HV000"])
	assert.Equal(t, "   1234    5", rec["HHID"], "identifier keeps its padding")
	assert.Equal(t, []string{"HHID", "HV000", "HV006"}, rs.Columns)

	require.Len(t, res.Issues, 1)
	assert.Equal(t, IssueUnknownDispatch, res.Issues[0].Kind)
	assert.Equal(t, "X99", res.Issues[0].Dispatch)
	assert.Equal(t, 2, res.Issues[0].Line)
	assert.Equal(t, 1, res.Stats.ByDispatch["X99"])
	assert.Equal(t, 1, res.Stats.Rows)
	assert.Equal(t, 1, res.Stats.Skipped)
}

func TestDispatch_NumericValueTrimmed(t *testing.T) {
	m := testModel(t)
	data := household("1", "KE7", " 6") + "\n"

	res, err := NewDispatcher(m).Dispatch(context.Background(), strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "6", record(res.RowSet("RECH0"), 0)["HV006"])
}

func TestDispatch_ShortLines(t *testing.T) {
	m := testModel(t)
	data := strings.Join([]string{
		"H0",                                  // shorter than the dispatch value
		"H00" + strings.Repeat(" ", 30),       // ends before HV006
		household("2", "KE7", "12"),           // fine
		"",                                    // blank lines are not issues
		"01 " + "AAAA" + strings.Repeat(" ", 11) + "25 ", // REC01 with trailing space in dispatch
	}, "\r\n")

	res, err := NewDispatcher(m).Dispatch(context.Background(), strings.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Stats.ByKind[IssueShortLine])
	assert.Equal(t, 1, res.Stats.Blank)
	assert.Equal(t, 1, res.RowSet("RECH0").Len())

	rec01 := res.RowSet("REC01")
	require.NotNil(t, rec01)
	assert.Equal(t, "AAAA           ", record(rec01, 0)["CASEID"])
	assert.Equal(t, "25", record(rec01, 0)["V003"])
	assert.Equal(t, []string{"RECH0", "REC01"}, res.Order)
}

func TestDispatch_IssueLimitKeepsCounts(t *testing.T) {
	m := testModel(t)
	var b strings.Builder
	for i := 0; i < 5; i++ {
		b.WriteString("ZZZ" + strings.Repeat(" ", 10) + "\n")
	}

	res, err := NewDispatcher(m, WithIssueLimit(2)).Dispatch(context.Background(), strings.NewReader(b.String()))
	require.NoError(t, err)
	assert.Len(t, res.Issues, 2)
	assert.Equal(t, 5, res.Stats.ByKind[IssueUnknownDispatch])
	assert.Equal(t, 5, res.Stats.ByDispatch["ZZZ"])
}

func TestDispatch_IdentifierRoundTrip(t *testing.T) {
	// A woman's CASEID is the household HHID plus a three-character line
	// number; removing the suffix must give back the HHID bytes exactly.
	m := testModel(t)
	paddings := []string{"12345", "  12345", "12345  ", " 12 345 ", "    12345   "}

	for _, hhid := range paddings {
		slot := hhid + strings.Repeat(" ", 12-len(hhid))
		caseID := slot + "  2"

		wline := []byte("01 " + caseID + "030" + strings.Repeat(" ", 9))
		data := household(slot, "KE7", "01") + "\n" + string(wline) + "\n"

		res, err := NewDispatcher(m).Dispatch(context.Background(), strings.NewReader(data))
		require.NoError(t, err)

		gotHH := record(res.RowSet("RECH0"), 0)["HHID"]
		gotCase := record(res.RowSet("REC01"), 0)["CASEID"]
		require.Len(t, gotCase, 15)
		assert.Equal(t, gotHH, gotCase[:len(gotCase)-3], "padding %q", hhid)
	}
}

func TestDispatch_NonIdentifierNormalization(t *testing.T) {
	m := testModel(t)
	encodings := []string{"KE ", " KE", "KE"}

	var got []string
	for _, v := range encodings {
		res, err := NewDispatcher(m).Dispatch(context.Background(), strings.NewReader(household("1", v, "01")))
		require.NoError(t, err)
		got = append(got, record(res.RowSet("RECH0"), 0)["HV000"])
	}
	assert.Equal(t, []string{"KE", "KE", "KE"}, got)
}

func TestDispatch_MultiByteCharacters(t *testing.T) {
	m := testModel(t)
	line := []rune(household("1", "KE7", "03"))
	copy(line[21:], []rune("Côte"))

	res, err := NewDispatcher(m).Dispatch(context.Background(), strings.NewReader(string(line)))
	require.NoError(t, err)
	assert.Equal(t, "3", record(res.RowSet("RECH0"), 0)["HV006"], "positions count characters, not bytes")
}

func TestDispatch_Cancelled(t *testing.T) {
	m := testModel(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data := strings.Repeat(household("1", "KE7", "01")+"\n", contextCheckInterval)
	_, err := NewDispatcher(m).Dispatch(ctx, strings.NewReader(data))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResult_WriteFiles(t *testing.T) {
	m := testModel(t)
	res, err := NewDispatcher(m).Dispatch(context.Background(), strings.NewReader(household("1", "KE7", "01")))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, res.RowSet("RECH0").WriteCSV(&buf))
	assert.Equal(t, "HHID,HV000,HV006\n1           ,KE7,1\n", buf.String())

	paths, err := res.WriteFiles(t.TempDir(), "524.KEHR72")
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.True(t, strings.HasSuffix(paths[0], "524.KEHR72.RECH0.csv"))
	assert.Equal(t, []int{12, 3, 1}, res.RowSet("RECH0").MaxWidths)
}

func TestCanonicalNumber(t *testing.T) {
	tests := map[string]string{
		"06":    "6",
		"0":     "0",
		"000":   "0",
		"-007":  "-7",
		"+12":   "12",
		"-0":    "0",
		"01.50": "1.50",
		".5":    "0.5",
		"":      "",
		"A1":    "A1",
		"1 2":   "1 2",
		"-":     "-",
		".":     ".",
		"9999":  "9999",
	}
	for in, want := range tests {
		assert.Equal(t, want, canonicalNumber(in), "input %q", in)
	}
}
