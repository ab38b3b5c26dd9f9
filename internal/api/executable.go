package api

import (
	"encoding/json"
	"net/http"
)

// setExecutableRequest is the JSON body for PUT /v1/executable.
type setExecutableRequest struct {
	Path string `json:"path"`
}

// filterCheckResponse flags the first filter pattern that matches no
// test case. Both fields are empty when the filter is fine.
type filterCheckResponse struct {
	Pattern string `json:"pattern,omitempty"`
	Warning string `json:"warning,omitempty"`
}

func (s *Server) handleGetExecutable(w http.ResponseWriter, r *http.Request) {
	info := s.engine.Executable()
	if info.Path == "" {
		s.writeError(w, http.StatusNotFound, "no test executable configured")
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSetExecutable(w http.ResponseWriter, r *http.Request) {
	var req setExecutableRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Path == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	info, err := s.engine.SetExecutable(r.Context(), req.Path)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleListLaunchers(w http.ResponseWriter, _ *http.Request) {
	launchers := s.registry.List()
	s.writeJSON(w, http.StatusOK, launchers)
}

func (s *Server) handleCheckFilter(w http.ResponseWriter, r *http.Request) {
	expr := r.URL.Query().Get("filter")
	runDisabled := parseBoolQuery(r, "run_disabled")

	warning, pattern := s.engine.CheckFilter(expr, runDisabled)
	s.writeJSON(w, http.StatusOK, filterCheckResponse{
		Pattern: pattern,
		Warning: warning,
	})
}
