package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/gtrunner/internal/engine"
	"github.com/seantiz/gtrunner/internal/gtest"
	"github.com/seantiz/gtrunner/internal/model"
	"github.com/seantiz/gtrunner/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// startCampaignRequest is the JSON body for POST /v1/campaigns.
type startCampaignRequest struct {
	Filter      string      `json:"filter"`
	Jobs        int         `json:"jobs"`
	FullSetJobs int         `json:"full_set_jobs"`
	Repeat      int         `json:"repeat"`
	MaxFail     int         `json:"max_fail"`
	Resume      bool        `json:"resume"`
	Options     *optionsReq `json:"options"`
}

type optionsReq struct {
	RunMode        string `json:"run_mode"`
	RunDisabled    bool   `json:"run_disabled"`
	Shuffle        bool   `json:"shuffle"`
	BreakOnFailure bool   `json:"break_on_failure"`
	BreakOnExcept  bool   `json:"break_on_except"`
	KeepTraces     string `json:"keep_traces"`
	KeepCores      bool   `json:"keep_cores"`
	CopyExecutable *bool  `json:"copy_executable"`
}

// retentionRequest is the JSON body for PATCH /v1/campaigns/{id}/retention.
// Omitted fields keep their current value.
type retentionRequest struct {
	KeepTraces string `json:"keep_traces"`
	KeepCores  *bool  `json:"keep_cores"`
}

// listCampaignsResponse wraps the paginated list response.
type listCampaignsResponse struct {
	Campaigns []*model.Campaign `json:"campaigns"`
	Total     int               `json:"total"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

// campaignJobsResponse lists the live workers of a campaign.
type campaignJobsResponse struct {
	CampaignID string            `json:"campaign_id"`
	Jobs       []model.JobStatus `json:"jobs"`
}

func (s *Server) handleStartCampaign(w http.ResponseWriter, r *http.Request) {
	var req startCampaignRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Jobs < 0 || req.FullSetJobs < 0 || req.Repeat < 0 || req.MaxFail < 0 {
		s.writeError(w, http.StatusBadRequest, "jobs, full_set_jobs, repeat and max_fail must not be negative")
		return
	}

	spec := engine.StartSpec{
		Filter:      req.Filter,
		Jobs:        req.Jobs,
		FullSetJobs: req.FullSetJobs,
		Repeat:      req.Repeat,
		MaxFail:     req.MaxFail,
		Resume:      req.Resume,
	}
	if spec.Jobs == 0 {
		spec.Jobs = s.defaults.Jobs
	}
	spec.Options.CopyExecutable = s.defaults.CopyExecutable

	if o := req.Options; o != nil {
		spec.Options.RunMode = o.RunMode
		spec.Options.RunDisabled = o.RunDisabled
		spec.Options.Shuffle = o.Shuffle
		spec.Options.BreakOnFailure = o.BreakOnFailure
		spec.Options.BreakOnExcept = o.BreakOnExcept
		spec.Options.KeepTraces = o.KeepTraces
		spec.Options.KeepCores = o.KeepCores
		if o.CopyExecutable != nil {
			spec.Options.CopyExecutable = *o.CopyExecutable
		}
	}

	if kt := spec.Options.KeepTraces; kt != "" && kt != model.RetainAll && kt != model.RetainFailed {
		s.writeError(w, http.StatusBadRequest, `keep_traces must be "all" or "failed"`)
		return
	}
	if mode := spec.Options.RunMode; mode != "" {
		if _, err := s.registry.Resolve(mode); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	c, err := s.engine.Start(r.Context(), spec)
	if err != nil {
		s.writeStartError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, c)
}

// writeStartError maps campaign start failures to HTTP status codes.
func (s *Server) writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrCampaignActive):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrNoExecutable):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrNoTestsMatched):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrNothingToResume):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, gtest.ErrEmptyTestList):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, fs.ErrNotExist):
		s.writeError(w, http.StatusConflict, "test executable is missing")
	default:
		s.logger.Error("start campaign", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start campaign")
	}
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	campaigns, total, err := s.store.ListCampaigns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list campaigns", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}

	if campaigns == nil {
		campaigns = []*model.Campaign{}
	}

	s.writeJSON(w, http.StatusOK, listCampaignsResponse{
		Campaigns: campaigns,
		Total:     total,
		Limit:     limit,
		Offset:    offset,
	})
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// The active campaign is served from the engine so the response
	// reflects retention switches applied after start.
	if c := s.engine.Active(); c != nil && c.ID == id {
		s.writeJSON(w, http.StatusOK, c)
		return
	}

	c, err := s.store.GetCampaign(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if err != nil {
		s.logger.Error("get campaign", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get campaign")
		return
	}

	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleStopCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	kill := parseBoolQuery(r, "kill")

	if err := s.engine.Stop(id, kill); err != nil {
		if errors.Is(err, engine.ErrNoCampaign) {
			if _, gerr := s.store.GetCampaign(r.Context(), id); errors.Is(gerr, store.ErrNotFound) {
				s.writeError(w, http.StatusNotFound, "campaign not found")
				return
			}
			s.writeError(w, http.StatusConflict, "campaign is not active")
			return
		}
		s.logger.Error("stop campaign", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to stop campaign")
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": model.StatusStopping,
	})
}

func (s *Server) handleUpdateRetention(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req retentionRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	active := s.engine.Active()
	if active == nil || active.ID != id {
		s.writeError(w, http.StatusConflict, "campaign is not active")
		return
	}

	keepTraces := req.KeepTraces
	if keepTraces == "" {
		keepTraces = active.Options.KeepTraces
	}
	keepCores := active.Options.KeepCores
	if req.KeepCores != nil {
		keepCores = *req.KeepCores
	}

	if err := s.engine.UpdateRetention(keepTraces, keepCores); err != nil {
		if errors.Is(err, engine.ErrNoCampaign) {
			s.writeError(w, http.StatusConflict, "campaign is not active")
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"keep_traces": keepTraces,
		"keep_cores":  keepCores,
	})
}

func (s *Server) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	stats, err := s.engine.CampaignStats(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if err != nil {
		s.logger.Error("campaign stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get campaign stats")
		return
	}

	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCampaignJobs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if c := s.engine.Active(); c != nil && c.ID == id {
		s.writeJSON(w, http.StatusOK, campaignJobsResponse{CampaignID: id, Jobs: s.engine.Jobs()})
		return
	}

	// Finished campaigns have no live workers; report an empty set as
	// long as the campaign exists.
	if _, err := s.store.GetCampaign(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		s.logger.Error("get campaign for jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get campaign")
		return
	}

	s.writeJSON(w, http.StatusOK, campaignJobsResponse{CampaignID: id, Jobs: []model.JobStatus{}})
}

func (s *Server) handleAbortJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	pid, err := strconv.Atoi(chi.URLParam(r, "pid"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid pid")
		return
	}

	active := s.engine.Active()
	if active == nil || active.ID != id {
		s.writeError(w, http.StatusConflict, "campaign is not active")
		return
	}

	if err := s.engine.AbortJob(pid); err != nil {
		if errors.Is(err, engine.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "worker not found")
			return
		}
		s.logger.Error("abort job", "error", err, "pid", pid)
		s.writeError(w, http.StatusInternalServerError, "failed to abort worker")
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"campaign_id": id,
		"pid":         pid,
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolQuery parses a boolean query parameter, treating absence or
// garbage as false.
func parseBoolQuery(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}
