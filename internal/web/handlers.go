package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthTimeout = 2 * time.Second

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// handleHealth reports whether the database answers a ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Database: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Database: "ok"})
}

func (s *Server) handleListSurveys(w http.ResponseWriter, r *http.Request) {
	surveys, err := s.store.ListSurveys(r.Context())
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, surveys)
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	surveyID := chi.URLParam(r, "surveyID")

	tables, err := s.store.ListTables(r.Context(), surveyID)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if len(tables) == 0 {
		respondNotFound(w, "survey "+surveyID)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

func (s *Server) handleListColumns(w http.ResponseWriter, r *http.Request) {
	surveyID := chi.URLParam(r, "surveyID")
	table := chi.URLParam(r, "table")

	columns, err := s.store.ListColumns(r.Context(), surveyID, table)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if len(columns) == 0 {
		respondNotFound(w, "table "+table)
		return
	}
	writeJSON(w, http.StatusOK, columns)
}

// handleListValues returns an empty list for a column without a value set.
func (s *Server) handleListValues(w http.ResponseWriter, r *http.Request) {
	values, err := s.store.ListValues(r.Context(),
		chi.URLParam(r, "surveyID"), chi.URLParam(r, "table"), chi.URLParam(r, "column"))
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

// handleListHistory accepts ?survey= and ?limit= (1-1000, default 100).
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			respondBadRequest(w, "limit must be a number between 1 and 1000")
			return
		}
		limit = n
	}

	entries, err := s.store.ListHistory(r.Context(), r.URL.Query().Get("survey"), limit)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
