package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/gtrunner/internal/model"
	"github.com/seantiz/gtrunner/internal/store"
	"github.com/seantiz/gtrunner/internal/tracestore"
)

// listResultsResponse wraps the paginated list response.
type listResultsResponse struct {
	Results []*model.TestResult `json:"results"`
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// deleteResultsRequest is the JSON body for DELETE /v1/results.
type deleteResultsRequest struct {
	IDs         []int64 `json:"ids"`
	DeleteFiles bool    `json:"delete_files"`
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	f := store.ResultFilter{
		CampaignID: q.Get("campaign"),
		TestName:   q.Get("test"),
		FailedOnly: parseBoolQuery(r, "failed"),
		SortBy:     q.Get("sort"),
		SortDesc:   q.Get("order") == "desc",
		Limit:      limit,
		Offset:     offset,
	}
	// Verdicts arrive as repeated parameters, comma-separated lists, or
	// a mix of the two.
	for _, v := range q["verdict"] {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				f.Verdicts = append(f.Verdicts, p)
			}
		}
	}
	if v := q.Get("valgrind"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid valgrind parameter")
			return
		}
		f.Valgrind = &b
	}
	if v := q.Get("origin"); v != "" {
		// Live results are stored with an empty origin.
		origin := v
		if origin == "live" {
			origin = model.OriginLive
		}
		f.Origin = &origin
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		f.Since = ts
	}

	results, total, err := s.store.ListResults(r.Context(), f)
	if errors.Is(err, store.ErrInvalidSort) {
		s.writeError(w, http.StatusBadRequest, "invalid sort column")
		return
	}
	if err != nil {
		s.logger.Error("list results", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}

	if results == nil {
		results = []*model.TestResult{}
	}

	s.writeJSON(w, http.StatusOK, listResultsResponse{
		Results: results,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid result id")
		return
	}

	res, err := s.store.GetResult(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "result not found")
		return
	}
	if err != nil {
		s.logger.Error("get result", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get result")
		return
	}

	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid result id")
		return
	}

	res, err := s.store.GetResult(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "result not found")
		return
	}
	if err != nil {
		s.logger.Error("get result for trace", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get result")
		return
	}

	if res.TraceFile == "" {
		s.writeError(w, http.StatusNotFound, "no trace recorded for result")
		return
	}

	data, err := tracestore.Extract(res.TraceFile, res.Offset, res.Length)
	if errors.Is(err, fs.ErrNotExist) {
		s.writeError(w, http.StatusNotFound, "trace file is gone")
		return
	}
	if err != nil {
		s.logger.Error("extract trace", "error", err, "result_id", id)
		s.writeError(w, http.StatusInternalServerError, "failed to read trace")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write trace response", "error", err)
	}
}

func (s *Server) handleDeleteResults(w http.ResponseWriter, r *http.Request) {
	var req deleteResultsRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if len(req.IDs) == 0 {
		s.writeError(w, http.StatusBadRequest, "ids is required")
		return
	}

	deleted, err := s.engine.DeleteResults(r.Context(), req.IDs, req.DeleteFiles)
	if err != nil {
		s.logger.Error("delete results", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete results")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}
