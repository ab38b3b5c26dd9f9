package api

import (
	"encoding/json"
	"net/http"

	"github.com/seantiz/gtrunner/internal/model"
)

// importRequest is the JSON body for POST /v1/import. Exactly one of
// files or scan must be given: files imports the named trace files,
// scan walks the whole trace directory for unknown ones.
type importRequest struct {
	Files []string `json:"files,omitempty"`
	Scan  bool     `json:"scan,omitempty"`
}

// importResponse reports how many results were recovered. Warning is
// set when some files could not be parsed; the rest are still imported.
type importResponse struct {
	Imported int    `json:"imported"`
	Warning  string `json:"warning,omitempty"`
}

// pruneRequest is the JSON body for POST /v1/prune.
type pruneRequest struct {
	KeepFailed bool `json:"keep_failed"`
}

// pruneResponse reports the outcome of a prune pass.
type pruneResponse struct {
	Deleted   int `json:"deleted"`
	Compacted int `json:"compacted"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Scan == (len(req.Files) > 0) {
		s.writeError(w, http.StatusBadRequest, "provide either files or scan")
		return
	}

	var (
		imported int
		err      error
	)
	if req.Scan {
		imported, err = s.engine.ImportTree(r.Context(), model.OriginAuto)
	} else {
		imported, err = s.engine.ImportFiles(r.Context(), req.Files, model.OriginFile)
	}
	if err != nil && imported == 0 {
		if req.Scan {
			s.logger.Error("import scan", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to import trace files")
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := importResponse{Imported: imported}
	if err != nil {
		resp.Warning = err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	var req pruneRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	pruned, err := s.engine.Prune(r.Context(), req.KeepFailed)
	if err != nil {
		s.logger.Error("prune traces", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to prune trace files")
		return
	}

	var resp pruneResponse
	for _, p := range pruned {
		if p.Deleted {
			resp.Deleted++
		} else {
			resp.Compacted++
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}
