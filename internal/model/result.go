package model

import "time"

// Verdict constants for a single test case result.
const (
	VerdictPass    = "pass"
	VerdictSkip    = "skip"
	VerdictFail    = "fail"
	VerdictCrash   = "crash"
	VerdictChecker = "checker"
	VerdictError   = "error"
)

// Result origin constants. Live results come from a worker process owned
// by this service; imported results are re-parsed from trace files.
const (
	OriginLive = ""
	OriginAuto = "auto"
	OriginFile = "file"
)

// VerdictFailed reports whether a verdict counts against the campaign
// fail budget.
func VerdictFailed(v string) bool {
	return v == VerdictFail || v == VerdictCrash
}

// TestResult is one per-test-case record extracted from a worker's
// output stream or from an imported trace file. TestName is empty for
// checker summary entries that cannot be attributed to a single test.
// Offset and Length locate the snippet within TraceFile; TraceFile is
// empty when the snippet was not retained.
type TestResult struct {
	ID         int64     `json:"id"`
	CampaignID string    `json:"campaign_id,omitempty"`
	TestName   string    `json:"test_name"`
	ExePath    string    `json:"exe_path,omitempty"`
	ExeStamp   int64     `json:"exe_stamp,omitempty"`
	Verdict    string    `json:"verdict"`
	TraceFile  string    `json:"trace_file,omitempty"`
	Offset     int64     `json:"offset"`
	Length     int64     `json:"length"`
	CoreFile   string    `json:"core_file,omitempty"`
	FailFile   string    `json:"fail_file,omitempty"`
	FailLine   int       `json:"fail_line,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	EndedAt    time.Time `json:"ended_at"`
	Valgrind   bool      `json:"valgrind,omitempty"`
	Background bool      `json:"background,omitempty"`
	Origin     string    `json:"origin,omitempty"`
	Seed       string    `json:"seed,omitempty"`
}

// JobStatus is a point-in-time snapshot of one worker process.
type JobStatus struct {
	PID        int       `json:"pid"`
	TraceFile  string    `json:"trace_file"`
	Background bool      `json:"background"`
	BytesRead  int64     `json:"bytes_read"`
	Seen       int       `json:"results_seen"`
	Expected   int       `json:"results_expected"`
	Current    string    `json:"current_test,omitempty"`
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   uint64    `json:"rss_bytes"`
	StartedAt  time.Time `json:"started_at"`
}

// TestCaseStats aggregates all stored results for one test name.
type TestCaseStats struct {
	TestName        string `json:"test_name"`
	Pass            int    `json:"pass"`
	Fail            int    `json:"fail"`
	Skip            int    `json:"skip"`
	DurationMS      int64  `json:"duration_ms"`
	LastExeStamp    int64  `json:"last_exe_stamp"`
	RepeatRequested bool   `json:"repeat_requested,omitempty"`
}
