package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/seantiz/gtrunner/internal/engine"
	"github.com/seantiz/gtrunner/internal/model"
	"github.com/seantiz/gtrunner/internal/runner"
)

// Client is an HTTP client for the gtrunner API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client for the given server URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// do sends one JSON request and decodes a 2xx response into out.
// Anything else becomes an APIError carrying the server's message.
func (c *Client) do(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, rd)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

// startRequest mirrors the campaign start body. Options that the server
// defaults (copy_executable) use pointers so "unset" survives encoding.
type startRequest struct {
	Filter      string       `json:"filter,omitempty"`
	Jobs        int          `json:"jobs,omitempty"`
	FullSetJobs int          `json:"full_set_jobs,omitempty"`
	Repeat      int          `json:"repeat,omitempty"`
	MaxFail     int          `json:"max_fail,omitempty"`
	Resume      bool         `json:"resume,omitempty"`
	Options     startOptions `json:"options"`
}

type startOptions struct {
	RunMode        string `json:"run_mode,omitempty"`
	RunDisabled    bool   `json:"run_disabled,omitempty"`
	Shuffle        bool   `json:"shuffle,omitempty"`
	BreakOnFailure bool   `json:"break_on_failure,omitempty"`
	BreakOnExcept  bool   `json:"break_on_except,omitempty"`
	KeepTraces     string `json:"keep_traces,omitempty"`
	KeepCores      bool   `json:"keep_cores,omitempty"`
	CopyExecutable *bool  `json:"copy_executable,omitempty"`
}

type campaignsPage struct {
	Campaigns []*model.Campaign `json:"campaigns"`
	Total     int               `json:"total"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

type resultsPage struct {
	Results []*model.TestResult `json:"results"`
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

type jobsPage struct {
	CampaignID string            `json:"campaign_id"`
	Jobs       []model.JobStatus `json:"jobs"`
}

type filterCheck struct {
	Pattern string `json:"pattern"`
	Warning string `json:"warning"`
}

type importResult struct {
	Imported int    `json:"imported"`
	Warning  string `json:"warning"`
}

type pruneResult struct {
	Deleted   int `json:"deleted"`
	Compacted int `json:"compacted"`
}

type repeatAck struct {
	TestName  string `json:"test_name"`
	Requested bool   `json:"requested"`
}

type retentionAck struct {
	KeepTraces string `json:"keep_traces"`
	KeepCores  bool   `json:"keep_cores"`
}

// Executable fetches the registered test executable.
func (c *Client) Executable() (engine.ExecutableInfo, error) {
	var info engine.ExecutableInfo
	err := c.do(http.MethodGet, "/v1/executable", nil, &info)
	return info, err
}

// SetExecutable registers a test executable on the server.
func (c *Client) SetExecutable(path string) (engine.ExecutableInfo, error) {
	var info engine.ExecutableInfo
	err := c.do(http.MethodPut, "/v1/executable", map[string]string{"path": path}, &info)
	return info, err
}

// Launchers lists the registered run modes.
func (c *Client) Launchers() ([]runner.LauncherInfo, error) {
	var out []runner.LauncherInfo
	err := c.do(http.MethodGet, "/v1/launchers", nil, &out)
	return out, err
}

// CheckFilter validates a filter expression against the test list.
func (c *Client) CheckFilter(expr string, runDisabled bool) (filterCheck, error) {
	q := url.Values{}
	q.Set("filter", expr)
	if runDisabled {
		q.Set("run_disabled", "true")
	}
	var out filterCheck
	err := c.do(http.MethodGet, "/v1/filter/check?"+q.Encode(), nil, &out)
	return out, err
}

// StartCampaign asks the server to start a new campaign.
func (c *Client) StartCampaign(req startRequest) (model.Campaign, error) {
	var camp model.Campaign
	err := c.do(http.MethodPost, "/v1/campaigns", req, &camp)
	return camp, err
}

// Campaigns lists campaigns, newest first.
func (c *Client) Campaigns(limit, offset int) (campaignsPage, error) {
	var page campaignsPage
	path := fmt.Sprintf("/v1/campaigns?limit=%d&offset=%d", limit, offset)
	err := c.do(http.MethodGet, path, nil, &page)
	return page, err
}

// Campaign fetches one campaign by ID.
func (c *Client) Campaign(id string) (model.Campaign, error) {
	var camp model.Campaign
	err := c.do(http.MethodGet, "/v1/campaigns/"+url.PathEscape(id), nil, &camp)
	return camp, err
}

// StopCampaign stops the active campaign.
func (c *Client) StopCampaign(id string, kill bool) error {
	path := "/v1/campaigns/" + url.PathEscape(id)
	if kill {
		path += "?kill=true"
	}
	return c.do(http.MethodDelete, path, nil, nil)
}

// UpdateRetention changes trace and core retention of the active campaign.
func (c *Client) UpdateRetention(id, keepTraces string, keepCores *bool) (retentionAck, error) {
	body := map[string]any{}
	if keepTraces != "" {
		body["keep_traces"] = keepTraces
	}
	if keepCores != nil {
		body["keep_cores"] = *keepCores
	}
	var ack retentionAck
	err := c.do(http.MethodPatch, "/v1/campaigns/"+url.PathEscape(id)+"/retention", body, &ack)
	return ack, err
}

// CampaignStats fetches aggregate counters for a campaign.
func (c *Client) CampaignStats(id string) (model.CampaignStats, error) {
	var stats model.CampaignStats
	err := c.do(http.MethodGet, "/v1/campaigns/"+url.PathEscape(id)+"/stats", nil, &stats)
	return stats, err
}

// CampaignJobs lists the worker processes of a campaign.
func (c *Client) CampaignJobs(id string) (jobsPage, error) {
	var page jobsPage
	err := c.do(http.MethodGet, "/v1/campaigns/"+url.PathEscape(id)+"/jobs", nil, &page)
	return page, err
}

// AbortJob kills one worker process of the active campaign.
func (c *Client) AbortJob(id string, pid int) error {
	path := fmt.Sprintf("/v1/campaigns/%s/jobs/%d/abort", url.PathEscape(id), pid)
	return c.do(http.MethodPost, path, nil, nil)
}

// Results lists test results matching the query.
func (c *Client) Results(q url.Values) (resultsPage, error) {
	var page resultsPage
	path := "/v1/results"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	err := c.do(http.MethodGet, path, nil, &page)
	return page, err
}

// Result fetches one test result by ID.
func (c *Client) Result(id int64) (model.TestResult, error) {
	var res model.TestResult
	err := c.do(http.MethodGet, fmt.Sprintf("/v1/results/%d", id), nil, &res)
	return res, err
}

// Trace fetches the captured output of one test result.
func (c *Client) Trace(id int64) (string, error) {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/v1/results/%d/trace", c.BaseURL, id), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return string(body), nil
}

// DeleteResults removes results by ID, optionally with their trace files.
func (c *Client) DeleteResults(ids []int64, deleteFiles bool) (int, error) {
	body := map[string]any{"ids": ids, "delete_files": deleteFiles}
	var out struct {
		Deleted int `json:"deleted"`
	}
	err := c.do(http.MethodDelete, "/v1/results", body, &out)
	return out.Deleted, err
}

// TestStats fetches per-test aggregates.
func (c *Client) TestStats(campaign, pattern string) ([]*model.TestCaseStats, error) {
	q := url.Values{}
	if campaign != "" {
		q.Set("campaign", campaign)
	}
	if pattern != "" {
		q.Set("pattern", pattern)
	}
	path := "/v1/teststats"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Stats []*model.TestCaseStats `json:"stats"`
	}
	err := c.do(http.MethodGet, path, nil, &out)
	return out.Stats, err
}

// MarkRepeat flags a test for repetition in the next campaign.
func (c *Client) MarkRepeat(name string) (repeatAck, error) {
	var ack repeatAck
	err := c.do(http.MethodPut, "/v1/teststats/"+url.PathEscape(name)+"/repeat", nil, &ack)
	return ack, err
}

// UnmarkRepeat clears a test's repeat flag.
func (c *Client) UnmarkRepeat(name string) (repeatAck, error) {
	var ack repeatAck
	err := c.do(http.MethodDelete, "/v1/teststats/"+url.PathEscape(name)+"/repeat", nil, &ack)
	return ack, err
}

// ImportFiles ingests previously captured trace files.
func (c *Client) ImportFiles(files []string) (importResult, error) {
	var out importResult
	err := c.do(http.MethodPost, "/v1/import", map[string]any{"files": files}, &out)
	return out, err
}

// ImportScan sweeps the trace directory for unregistered files.
func (c *Client) ImportScan() (importResult, error) {
	var out importResult
	err := c.do(http.MethodPost, "/v1/import", map[string]any{"scan": true}, &out)
	return out, err
}

// Prune deletes stored traces, keeping failures when keepFailed is set.
func (c *Client) Prune(keepFailed bool) (pruneResult, error) {
	var out pruneResult
	err := c.do(http.MethodPost, "/v1/prune", map[string]any{"keep_failed": keepFailed}, &out)
	return out, err
}

// StreamEvents subscribes to a campaign's event stream and calls fn for
// every event until the stream ends or fn returns false. Pass an empty
// id for the global stream.
func (c *Client) StreamEvents(id string, fn func(event, data string) bool) error {
	path := "/v1/events"
	if id != "" {
		path = "/v1/campaigns/" + url.PathEscape(id) + "/events"
	}
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Streams outlive any sane request timeout.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	var event string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if !fn(event, strings.TrimPrefix(line, "data: ")) {
				return nil
			}
		}
	}
	return scanner.Err()
}
