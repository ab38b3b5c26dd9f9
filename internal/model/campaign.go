package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Campaign status constants.
const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusStopping = "stopping"
	StatusDone     = "done"
	StatusFailed   = "failed"
)

// Run mode constants. A run mode selects the launcher used to spawn
// worker processes.
const (
	RunModeDirect       = "direct"
	RunModeValgrind     = "valgrind"
	RunModeValgrindFull = "valgrind-full"
)

// Trace retention mode constants.
const (
	RetainAll    = "all"
	RetainFailed = "failed"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusStopping: true,
		StatusDone:     true,
		StatusFailed:   true,
	},
	StatusStopping: {
		StatusDone:   true,
		StatusFailed: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// TerminalStatus reports whether a campaign status is final.
func TerminalStatus(s string) bool {
	return s == StatusDone || s == StatusFailed
}

// NewID generates a new ULID string for use as an entity identifier.
func NewID() string {
	return ulid.Make().String()
}

// CampaignOptions carries the per-campaign switches that shape worker
// invocations and result handling.
type CampaignOptions struct {
	RunMode        string `json:"run_mode,omitempty"`
	RunDisabled    bool   `json:"run_disabled,omitempty"`
	Shuffle        bool   `json:"shuffle,omitempty"`
	BreakOnFailure bool   `json:"break_on_failure,omitempty"`
	BreakOnExcept  bool   `json:"break_on_except,omitempty"`
	KeepTraces     string `json:"keep_traces,omitempty"`
	KeepCores      bool   `json:"keep_cores,omitempty"`
	CopyExecutable bool   `json:"copy_executable,omitempty"`
}

// Campaign represents one scheduled run of a test executable: a filter
// set partitioned into shards and executed by a pool of worker processes.
type Campaign struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	ExePath     string          `json:"exe_path"`
	ExeStamp    int64           `json:"exe_stamp"`
	Filter      string          `json:"filter,omitempty"`
	Jobs        int             `json:"jobs"`
	FullSetJobs int             `json:"full_set_jobs,omitempty"`
	Repeat      int             `json:"repeat"`
	MaxFail     int             `json:"max_fail,omitempty"`
	Options     CampaignOptions `json:"options"`
	Expected    int             `json:"expected"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// CampaignStats aggregates result counts for one campaign. Completed
// excludes results produced by full-set background jobs so progress
// reaches 100% when the sharded jobs finish.
type CampaignStats struct {
	Pass       int       `json:"pass"`
	Fail       int       `json:"fail"`
	Skip       int       `json:"skip"`
	CheckerErr int       `json:"checker_errors"`
	Running    int       `json:"running"`
	Expected   int       `json:"expected"`
	Completed  int       `json:"completed"`
	StartedAt  time.Time `json:"started_at"`
}
