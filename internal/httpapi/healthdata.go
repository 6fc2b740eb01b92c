package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ent0n29/healthrelay/internal/logging"
	"github.com/ent0n29/healthrelay/internal/records"
)

func (s *Server) handleHealthData(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListHealthData(w, r)
	case http.MethodPost:
		s.handleCreateHealthData(w, r)
	default:
		respondJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "Method not allowed"})
	}
}

func (s *Server) handleListHealthData(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		respondData(w, http.StatusInternalServerError, nil, "record store not configured")
		return
	}
	limit := s.listLimit(r.URL.Query().Get("limit"))
	filter := records.Filter{UserID: strings.TrimSpace(r.URL.Query().Get("user_id"))}

	items, err := s.records.List(r.Context(), filter, limit)
	if err != nil {
		s.metrics.ObserveRecordOp("list", "error")
		logging.FromContext(r.Context()).WithError(err).Error("list health records failed")
		respondData(w, http.StatusInternalServerError, nil, err.Error())
		return
	}
	s.metrics.ObserveRecordOp("list", "ok")
	respondData(w, http.StatusOK, items, "")
}

func (s *Server) handleCreateHealthData(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		respondData(w, http.StatusInternalServerError, nil, "record store not configured")
		return
	}
	var rec records.Record
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(&rec); err != nil && !errors.Is(err, io.EOF) {
		respondData(w, http.StatusBadRequest, nil, "Invalid JSON in request body")
		return
	}

	created, err := s.records.Insert(r.Context(), rec)
	switch {
	case errors.Is(err, records.ErrMissingUserID):
		s.metrics.ObserveRecordOp("insert", "invalid")
		respondData(w, http.StatusBadRequest, nil, "user_id is required")
		return
	case err != nil:
		s.metrics.ObserveRecordOp("insert", "error")
		logging.FromContext(r.Context()).WithError(err).Error("insert health record failed")
		respondData(w, http.StatusInternalServerError, nil, err.Error())
		return
	}
	s.metrics.ObserveRecordOp("insert", "ok")
	respondData(w, http.StatusCreated, created, "")
}

// listLimit parses the limit query value, falling back to the default and
// capping at the configured maximum.
func (s *Server) listLimit(raw string) int {
	limit := s.cfg.RecordsDefaultLimit
	if limit <= 0 {
		limit = 10
	}
	if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n > 0 {
		limit = n
	}
	if s.cfg.RecordsMaxLimit > 0 && limit > s.cfg.RecordsMaxLimit {
		limit = s.cfg.RecordsMaxLimit
	}
	return limit
}

type dataResponse struct {
	Data  any     `json:"data"`
	Error *string `json:"error"`
}

func respondData(w http.ResponseWriter, status int, data any, errMsg string) {
	resp := dataResponse{Data: data}
	if errMsg != "" {
		resp.Error = &errMsg
	}
	respondJSON(w, status, resp)
}
