package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/gtrunner/internal/model"
)

// testStatsResponse wraps the per-test aggregate rows.
type testStatsResponse struct {
	Stats []*model.TestCaseStats `json:"stats"`
}

// repeatResponse acknowledges a repetition request change.
type repeatResponse struct {
	TestName  string `json:"test_name"`
	Requested bool   `json:"requested"`
}

func (s *Server) handleTestCaseStats(w http.ResponseWriter, r *http.Request) {
	campaignID := r.URL.Query().Get("campaign")
	pattern := r.URL.Query().Get("pattern")

	stats, err := s.store.TestCaseStats(r.Context(), campaignID, pattern)
	if err != nil {
		s.logger.Error("test case stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get test case stats")
		return
	}

	if stats == nil {
		stats = []*model.TestCaseStats{}
	}

	s.writeJSON(w, http.StatusOK, testStatsResponse{Stats: stats})
}

// repeatTestName extracts the test name path parameter. Test names may
// contain slashes (value-parameterized tests), so clients URL-escape them.
func repeatTestName(r *http.Request) (string, bool) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	return name, err == nil && name != ""
}

func (s *Server) handleMarkRepeat(w http.ResponseWriter, r *http.Request) {
	name, ok := repeatTestName(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid test name")
		return
	}

	if err := s.engine.MarkRepeat(r.Context(), name); err != nil {
		s.logger.Error("mark repeat", "error", err, "test", name)
		s.writeError(w, http.StatusInternalServerError, "failed to record repetition request")
		return
	}

	s.writeJSON(w, http.StatusOK, repeatResponse{TestName: name, Requested: true})
}

func (s *Server) handleUnmarkRepeat(w http.ResponseWriter, r *http.Request) {
	name, ok := repeatTestName(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid test name")
		return
	}

	if err := s.engine.UnmarkRepeat(r.Context(), name); err != nil {
		s.logger.Error("unmark repeat", "error", err, "test", name)
		s.writeError(w, http.StatusInternalServerError, "failed to clear repetition request")
		return
	}

	s.writeJSON(w, http.StatusOK, repeatResponse{TestName: name, Requested: false})
}
