package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JonMunkholm/surveyload/internal/config"
	"github.com/JonMunkholm/surveyload/internal/dictionary"
	"github.com/JonMunkholm/surveyload/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	pingErr error
	listErr error

	surveys []store.SurveySummary
	tables  map[string][]store.TableSummary
	columns []dictionary.ColumnSpec
	values  []dictionary.ValueSpec
	history []store.HistoryEntry

	lastSurvey string
	lastLimit  int
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) ListSurveys(context.Context) ([]store.SurveySummary, error) {
	return f.surveys, f.listErr
}

func (f *fakeStore) ListTables(_ context.Context, surveyID string) ([]store.TableSummary, error) {
	return f.tables[surveyID], f.listErr
}

func (f *fakeStore) ListColumns(_ context.Context, surveyID, table string) ([]dictionary.ColumnSpec, error) {
	var out []dictionary.ColumnSpec
	for _, c := range f.columns {
		if c.SurveyID == surveyID && c.TableName == table {
			out = append(out, c)
		}
	}
	return out, f.listErr
}

func (f *fakeStore) ListValues(_ context.Context, _, _, column string) ([]dictionary.ValueSpec, error) {
	out := []dictionary.ValueSpec{}
	for _, v := range f.values {
		if v.ColumnName == column {
			out = append(out, v)
		}
	}
	return out, f.listErr
}

func (f *fakeStore) ListHistory(_ context.Context, surveyID string, limit int) ([]store.HistoryEntry, error) {
	f.lastSurvey, f.lastLimit = surveyID, limit
	return f.history, f.listErr
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		surveys: []store.SurveySummary{{SurveyID: "524", FileCode: "KEHR7A", Tables: 1, Columns: 3}},
		tables:  map[string][]store.TableSummary{"524": {{Name: "RECH0", Label: "Household", DispatchValue: "H00", Columns: 3}}},
		columns: []dictionary.ColumnSpec{
			{SurveyID: "524", TableName: "RECH0", ColumnName: "HHID", Start: 4, Length: 12},
			{SurveyID: "524", TableName: "RECH0", ColumnName: "HV006", Start: 49, Length: 2},
		},
		values: []dictionary.ValueSpec{{SurveyID: "524", TableName: "RECH0", ColumnName: "HV006", Value: "1", ValueType: "ExplicitValue"}},
		history: []store.HistoryEntry{{SurveyID: "524", Table: "rech0", Action: "insert", Inserted: 2}},
	}
}

func serve(t *testing.T, s *Server, method, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	st := newFakeStore()
	s := NewServer(st, config.ServerConfig{})

	rec := serve(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[healthResponse](t, rec).Status)
	assert.NotEmpty(t, rec.Header().Get("X-Content-Type-Options"))

	st.pingErr = errors.New("connection refused")
	rec = serve(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetadataRoutes(t *testing.T) {
	s := NewServer(newFakeStore(), config.ServerConfig{})

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantLen    int
	}{
		{name: "surveys", path: "/api/surveys", wantStatus: http.StatusOK, wantLen: 1},
		{name: "tables", path: "/api/surveys/524/tables", wantStatus: http.StatusOK, wantLen: 1},
		{name: "columns", path: "/api/surveys/524/tables/RECH0/columns", wantStatus: http.StatusOK, wantLen: 2},
		{name: "values", path: "/api/surveys/524/tables/RECH0/columns/HV006/values", wantStatus: http.StatusOK, wantLen: 1},
		{name: "values of a column without a value set", path: "/api/surveys/524/tables/RECH0/columns/HHID/values", wantStatus: http.StatusOK, wantLen: 0},
		{name: "history", path: "/api/history", wantStatus: http.StatusOK, wantLen: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, s, http.MethodGet, tt.path, nil)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Len(t, decode[[]json.RawMessage](t, rec), tt.wantLen)
		})
	}
}

func TestColumnsUseSnakeCaseJSON(t *testing.T) {
	s := NewServer(newFakeStore(), config.ServerConfig{})

	rec := serve(t, s, http.MethodGet, "/api/surveys/524/tables/RECH0/columns", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cols := decode[[]map[string]any](t, rec)
	assert.Equal(t, "HV006", cols[1]["column"])
	assert.Equal(t, float64(49), cols[1]["start"])
}

func TestNotFound(t *testing.T) {
	s := NewServer(newFakeStore(), config.ServerConfig{})

	for _, path := range []string{"/api/surveys/999/tables", "/api/surveys/524/tables/NOPE/columns", "/nowhere"} {
		rec := serve(t, s, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "API404", decode[ErrorResponse](t, rec).Code, path)
	}
}

func TestHistoryQuery(t *testing.T) {
	st := newFakeStore()
	s := NewServer(st, config.ServerConfig{})

	rec := serve(t, s, http.MethodGet, "/api/history?survey=524&limit=20", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "524", st.lastSurvey)
	assert.Equal(t, 20, st.lastLimit)

	for _, bad := range []string{"0", "1001", "ten"} {
		rec = serve(t, s, http.MethodGet, "/api/history?limit="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestStoreErrorIsMapped(t *testing.T) {
	st := newFakeStore()
	st.listErr = errors.New("dial tcp: connection refused")
	s := NewServer(st, config.ServerConfig{})

	rec := serve(t, s, http.MethodGet, "/api/surveys", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "DB004", body.Code)
	assert.Equal(t, "Unable to connect to database", body.Message)
	assert.NotEmpty(t, body.Action)
}

func TestAPIKeyAuth(t *testing.T) {
	s := NewServer(newFakeStore(), config.ServerConfig{RequireAPIKey: true, APIKeys: []string{"k1", "k2"}})

	rec := serve(t, s, http.MethodGet, "/api/surveys", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTH_MISSING_KEY", decode[ErrorResponse](t, rec).Code)

	rec = serve(t, s, http.MethodGet, "/api/surveys", http.Header{"X-Api-Key": {"nope"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, s, http.MethodGet, "/api/surveys", http.Header{"X-Api-Key": {"k2"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health is not behind auth")
}
