package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/seantiz/gtrunner/internal/gtest"
	"github.com/seantiz/gtrunner/internal/model"
	"github.com/seantiz/gtrunner/internal/runner"
	"github.com/seantiz/gtrunner/internal/sharding"
	"github.com/seantiz/gtrunner/internal/store"
	"github.com/seantiz/gtrunner/internal/tracestore"
)

// importWorkers bounds how many trace files are parsed concurrently
// during an import.
const importWorkers = 4

var (
	// ErrCampaignActive is returned by Start while a campaign is running.
	ErrCampaignActive = errors.New("a campaign is already active")

	// ErrNoCampaign is returned when an operation needs an active campaign.
	ErrNoCampaign = errors.New("no active campaign")

	// ErrNoExecutable is returned by Start when no executable is configured.
	ErrNoExecutable = errors.New("no test executable configured")

	// ErrNoTestsMatched is returned by Start when the filter selects nothing.
	ErrNoTestsMatched = errors.New("filter matches no test cases")

	// ErrNothingToResume is returned by a resumed Start when every
	// selected test already passed against the current executable.
	ErrNothingToResume = errors.New("every selected test already passed")

	// ErrJobNotFound is returned when a PID names no running worker.
	ErrJobNotFound = errors.New("no such worker process")
)

// StartSpec is a request to run a test campaign.
type StartSpec struct {
	Filter      string                `json:"filter,omitempty"`
	Jobs        int                   `json:"jobs,omitempty"`
	FullSetJobs int                   `json:"full_set_jobs,omitempty"`
	Repeat      int                   `json:"repeat,omitempty"`
	MaxFail     int                   `json:"max_fail,omitempty"`
	Resume      bool                  `json:"resume,omitempty"`
	Options     model.CampaignOptions `json:"options"`
}

// ExecutableInfo describes the configured test executable.
type ExecutableInfo struct {
	Path      string   `json:"path,omitempty"`
	Stamp     int64    `json:"stamp,omitempty"`
	TestCount int      `json:"test_count"`
	TestNames []string `json:"test_names,omitempty"`
}

// executableChange is the payload of executable events on the global
// topic. The test list is omitted; subscribers fetch it on demand.
type executableChange struct {
	Path      string `json:"path"`
	Stamp     int64  `json:"stamp"`
	TestCount int    `json:"test_count"`
}

// jobExit is the payload of job events.
type jobExit struct {
	PID        int  `json:"pid"`
	Background bool `json:"background"`
	Remaining  int  `json:"remaining"`
}

// Engine schedules campaigns and owns the worker processes of the
// active one.
type Engine struct {
	store    store.Store
	traces   *tracestore.Store
	registry *runner.Registry
	broker   *EventBroker
	logger   *slog.Logger
	seedRE   *regexp.Regexp

	mu         sync.Mutex
	exePath    string
	exeStamp   int64
	exeNames   []string
	campaign   *model.Campaign
	jobs       []*runner.Job
	stats      model.CampaignStats
	failBudget int
	repeats    map[string]time.Time

	collectorWG sync.WaitGroup

	// Owned by watcher.go.
	watch     *fsnotify.Watcher
	watchDir  string
	watchDone chan struct{}
}

// NewEngine creates an engine. seedRE extracts seed values from result
// snippets and may be nil. Stored repetition requests are loaded so the
// collector can clear them as fresh results arrive.
func NewEngine(s store.Store, traces *tracestore.Store, reg *runner.Registry, seedRE *regexp.Regexp, logger *slog.Logger) *Engine {
	e := &Engine{
		store:    s,
		traces:   traces,
		registry: reg,
		broker:   NewEventBroker(),
		logger:   logger,
		seedRE:   seedRE,
	}
	reqs, err := s.ListRepeatRequests(context.Background())
	if err != nil {
		logger.Warn("failed to load repetition requests", "error", err)
		reqs = make(map[string]time.Time)
	}
	e.repeats = reqs
	return e
}

// Broker returns the engine's event broker for SSE subscription.
func (e *Engine) Broker() *EventBroker {
	return e.broker
}

// SetExecutable configures the test executable and reads its test case
// list. The path is stored absolute because workers run with a changed
// working directory. The file watcher, when running, is retargeted to
// the new path.
func (e *Engine) SetExecutable(ctx context.Context, path string) (ExecutableInfo, error) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	info, err := os.Stat(path)
	if err != nil {
		return ExecutableInfo{}, fmt.Errorf("stat executable: %w", err)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return ExecutableInfo{}, fmt.Errorf("%s is not an executable file", path)
	}
	names, err := gtest.List(ctx, path, "")
	if err != nil {
		return ExecutableInfo{}, err
	}

	e.mu.Lock()
	e.exePath = path
	e.exeStamp = info.ModTime().Unix()
	e.exeNames = names
	out := e.executableLocked()
	e.retargetWatchLocked(path)
	e.mu.Unlock()

	e.logger.Info("executable configured", "exe", path, "stamp", out.Stamp, "tests", out.TestCount)
	e.publishExecutable(out)
	return out, nil
}

// RefreshExecutable re-reads the executable's timestamp and test case
// list after a change on disk. Unchanged timestamps are a no-op.
func (e *Engine) RefreshExecutable(ctx context.Context) error {
	e.mu.Lock()
	path := e.exePath
	stamp := e.exeStamp
	e.mu.Unlock()
	if path == "" {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat executable: %w", err)
	}
	if info.ModTime().Unix() == stamp {
		return nil
	}
	names, err := gtest.List(ctx, path, "")
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.exePath != path {
		// Replaced concurrently; the newer configuration wins.
		e.mu.Unlock()
		return nil
	}
	e.exeStamp = info.ModTime().Unix()
	e.exeNames = names
	out := e.executableLocked()
	e.mu.Unlock()

	e.logger.Info("executable changed", "exe", path, "stamp", out.Stamp, "tests", out.TestCount)
	e.publishExecutable(out)
	return nil
}

// Executable returns the configured executable and its test case list.
func (e *Engine) Executable() ExecutableInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executableLocked()
}

func (e *Engine) executableLocked() ExecutableInfo {
	return ExecutableInfo{
		Path:      e.exePath,
		Stamp:     e.exeStamp,
		TestCount: len(e.exeNames),
		TestNames: slices.Clone(e.exeNames),
	}
}

func (e *Engine) publishExecutable(info ExecutableInfo) {
	e.broker.Publish(GlobalTopic, Event{Type: EventExecutable, Data: executableChange{
		Path:      info.Path,
		Stamp:     info.Stamp,
		TestCount: info.TestCount,
	}})
}

// CheckFilter inspects a filter expression against the executable's
// test case list and returns a warning for the first pattern matching
// no test, or an empty string.
func (e *Engine) CheckFilter(expr string, runDisabled bool) (warning, pattern string) {
	e.mu.Lock()
	names := e.exeNames
	e.mu.Unlock()
	return gtest.Check(expr, names, runDisabled, nil)
}

// Active returns a copy of the active campaign, or nil.
func (e *Engine) Active() *model.Campaign {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.campaign == nil {
		return nil
	}
	c := *e.campaign
	return &c
}

// Start plans and launches a campaign: the current test case list is
// narrowed by the filter (and, on resume, by the tests that already
// passed against this executable), the shard split is planned over the
// requested worker count, and one worker per shard is spawned writing
// to consecutive trace files. The trailing full-set workers run
// unfiltered as background jobs. Results are collected until the last
// worker exits. Only one campaign runs at a time.
func (e *Engine) Start(ctx context.Context, spec StartSpec) (*model.Campaign, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.campaign != nil {
		return nil, ErrCampaignActive
	}
	if e.exePath == "" {
		return nil, ErrNoExecutable
	}

	info, err := os.Stat(e.exePath)
	if err != nil {
		return nil, fmt.Errorf("stat executable: %w", err)
	}
	if stamp := info.ModTime().Unix(); stamp != e.exeStamp {
		// The executable changed since it was configured; pick up the
		// current test case list before planning.
		names, err := gtest.List(ctx, e.exePath, "")
		if err != nil {
			return nil, err
		}
		e.exeStamp = stamp
		e.exeNames = names
		e.publishExecutable(e.executableLocked())
	}

	if spec.Jobs < 1 {
		spec.Jobs = 1
	}
	if spec.Repeat < 1 {
		spec.Repeat = 1
	}
	if spec.FullSetJobs < 0 {
		spec.FullSetJobs = 0
	}
	if spec.FullSetJobs >= spec.Jobs {
		spec.FullSetJobs = spec.Jobs - 1
	}
	if spec.Options.RunMode == "" {
		spec.Options.RunMode = model.RunModeDirect
	}
	if spec.Options.KeepTraces == "" {
		spec.Options.KeepTraces = model.RetainFailed
	}

	selected := gtest.Runnable(e.exeNames, spec.Options.RunDisabled)
	if spec.Filter != "" {
		selected = gtest.Matches(gtest.Split(spec.Filter), selected)
	}
	if len(selected) == 0 {
		return nil, ErrNoTestsMatched
	}

	workerFilter := spec.Filter
	if spec.Resume {
		passed, err := e.store.PassedTests(ctx, e.exeStamp)
		if err != nil {
			return nil, fmt.Errorf("look up passed tests: %w", err)
		}
		if len(passed) > 0 {
			done := make(map[string]bool, len(passed))
			for _, name := range passed {
				done[name] = true
			}
			var remaining []string
			for _, name := range selected {
				if !done[name] {
					remaining = append(remaining, name)
				}
			}
			if len(remaining) < len(selected) {
				selected = remaining
				// Workers must skip the passed tests too, so the filter
				// becomes an expression selecting exactly the remaining
				// names.
				workerFilter = gtest.Join(gtest.Build(selected, e.exeNames))
			}
		}
		if len(selected) == 0 {
			return nil, ErrNothingToResume
		}
	}

	launcher, err := e.registry.Resolve(spec.Options.RunMode)
	if err != nil {
		return nil, err
	}

	if err := e.traces.EnsureDir(e.exeStamp); err != nil {
		return nil, err
	}
	runExe := e.exePath
	if spec.Options.CopyExecutable {
		var lerr error
		runExe, lerr = e.traces.LinkExecutable(e.exePath, e.exeStamp)
		if lerr != nil {
			e.logger.Warn("executable copy failed, workers run the original", "error", lerr)
		}
	}
	firstIdx, err := e.traces.FirstFreeIndex(e.exeStamp)
	if err != nil {
		return nil, err
	}

	plan := sharding.Plan(len(selected), spec.Repeat, spec.Jobs, spec.FullSetJobs)
	now := time.Now().UTC()
	c := &model.Campaign{
		ID:          model.NewID(),
		Status:      model.StatusPending,
		ExePath:     e.exePath,
		ExeStamp:    e.exeStamp,
		Filter:      spec.Filter,
		Jobs:        len(plan),
		FullSetJobs: spec.FullSetJobs,
		Repeat:      spec.Repeat,
		MaxFail:     spec.MaxFail,
		Options:     spec.Options,
		Expected:    len(selected) * spec.Repeat,
		CreatedAt:   now,
	}
	if err := e.store.CreateCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	results := make(chan *model.TestResult, 256)
	exits := make(chan *runner.Job, len(plan))

	var jobs []*runner.Job
	var spawnErr error
	for i, p := range plan {
		background := i >= len(plan)-spec.FullSetJobs
		filter := workerFilter
		if background {
			// Full-set jobs run everything; their results are marked
			// background and do not count toward campaign progress.
			filter = ""
		}
		j, err := runner.Start(runner.Config{
			Exe:            runExe,
			OrigExe:        e.exePath,
			ExeStamp:       e.exeStamp,
			CampaignID:     c.ID,
			TraceFile:      e.traces.FilePath(e.exeStamp, firstIdx+i),
			Filter:         filter,
			Repeat:         p.Repeat,
			ShardCount:     p.ShardCount,
			ShardIndex:     p.ShardIndex,
			Background:     background,
			Expected:       sharding.ExpectedResults(len(selected), p.Repeat, p.ShardCount, p.ShardIndex),
			RunDisabled:    spec.Options.RunDisabled,
			Shuffle:        spec.Options.Shuffle,
			BreakOnFailure: spec.Options.BreakOnFailure,
			BreakOnExcept:  spec.Options.BreakOnExcept,
			KeepAll:        spec.Options.KeepTraces == model.RetainAll,
			KeepCores:      spec.Options.KeepCores,
			SeedRE:         e.seedRE,
			Launcher:       launcher,
			OnResult:       func(r *model.TestResult) { results <- r },
			OnExit:         func(j *runner.Job) { exits <- j },
		}, e.logger)
		if err != nil {
			spawnErr = err
			e.logger.Error("failed to start worker", "campaign_id", c.ID, "worker", i, "error", err)
			break
		}
		jobs = append(jobs, j)
	}

	if len(jobs) == 0 {
		c.Status = model.StatusFailed
		c.Error = fmt.Sprintf("no worker could be started: %v", spawnErr)
		c.FinishedAt = &now
		if uerr := e.store.UpdateCampaign(ctx, c); uerr != nil {
			e.logger.Error("failed to record campaign failure", "campaign_id", c.ID, "error", uerr)
		}
		campaignsFinished.WithLabelValues(model.StatusFailed).Inc()
		return nil, fmt.Errorf("start workers: %w", spawnErr)
	}
	if spawnErr != nil {
		c.Error = fmt.Sprintf("only %d of %d workers started: %v", len(jobs), len(plan), spawnErr)
	}

	c.Status = model.StatusRunning
	c.StartedAt = &now
	if err := e.store.UpdateCampaign(ctx, c); err != nil {
		e.logger.Error("failed to transition campaign to running", "campaign_id", c.ID, "error", err)
	}

	e.campaign = c
	e.jobs = jobs
	e.failBudget = spec.MaxFail
	if spec.Resume && !e.stats.StartedAt.IsZero() {
		// Resumed campaigns extend the previous run's numbers instead of
		// starting a fresh count.
		e.stats.Expected += c.Expected
		e.stats.Running = len(jobs)
	} else {
		e.stats = model.CampaignStats{
			Expected:  c.Expected,
			Running:   len(jobs),
			StartedAt: now,
		}
	}

	campaignsStarted.Inc()
	e.logger.Info("campaign started",
		"campaign_id", c.ID,
		"exe", c.ExePath,
		"tests", len(selected),
		"repeat", spec.Repeat,
		"workers", len(jobs),
		"full_set", spec.FullSetJobs,
		"run_mode", spec.Options.RunMode)

	e.collectorWG.Add(1)
	go e.collect(c, results, exits, len(jobs))

	cc := *c
	return &cc, nil
}

// collect consumes worker results and exits until all workers of the
// campaign are gone, then finalizes it. Workers deliver their results
// before announcing their exit, so once every exit has arrived the
// remaining results sit in the channel buffer.
func (e *Engine) collect(c *model.Campaign, results <-chan *model.TestResult, exits <-chan *runner.Job, running int) {
	defer e.collectorWG.Done()
	for running > 0 {
		select {
		case r := <-results:
			e.handleResult(c, r)
		case j := <-exits:
			running--
			e.handleExit(c, j)
		}
	}
	for {
		select {
		case r := <-results:
			e.handleResult(c, r)
		default:
			e.finalize(c)
			return
		}
	}
}

// handleResult persists one result, updates the campaign statistics,
// clears a satisfied repetition request, publishes events and enforces
// the fail limit.
func (e *Engine) handleResult(c *model.Campaign, r *model.TestResult) {
	ctx := context.Background()
	if err := e.store.AddResult(ctx, r); err != nil {
		e.logger.Error("failed to persist result", "campaign_id", c.ID, "test", r.TestName, "error", err)
	}

	e.mu.Lock()
	switch r.Verdict {
	case model.VerdictPass:
		e.stats.Pass++
	case model.VerdictSkip:
		e.stats.Skip++
	case model.VerdictFail, model.VerdictCrash:
		e.stats.Fail++
	default:
		e.stats.CheckerErr++
	}
	if !r.Background && r.Verdict != model.VerdictChecker && r.Verdict != model.VerdictError {
		e.stats.Completed++
	}
	snapshot := e.stats

	cleared := false
	if requestedAt, ok := e.repeats[r.TestName]; ok && r.ExeStamp > requestedAt.Unix() {
		// A result from a newer executable satisfies the request.
		delete(e.repeats, r.TestName)
		cleared = true
	}

	stop := false
	if c.MaxFail > 0 && model.VerdictFailed(r.Verdict) {
		e.failBudget--
		stop = e.failBudget == 0
	}
	e.mu.Unlock()

	if cleared {
		if err := e.store.ClearRepeatRequest(ctx, r.TestName); err != nil {
			e.logger.Warn("failed to clear repetition request", "test", r.TestName, "error", err)
		}
	}

	e.broker.Publish(c.ID, Event{Type: EventResult, Data: r})
	e.broker.Publish(c.ID, Event{Type: EventStats, Data: snapshot})

	if stop {
		e.logger.Info("fail limit reached, stopping campaign", "campaign_id", c.ID, "max_fail", c.MaxFail)
		if err := e.Stop("", false); err != nil && !errors.Is(err, ErrNoCampaign) {
			e.logger.Warn("failed to stop campaign at fail limit", "campaign_id", c.ID, "error", err)
		}
	}
}

// handleExit removes an exited worker and, when only background workers
// remain, stops them too: the full set keeps running only while the
// sharded part of the campaign does.
func (e *Engine) handleExit(c *model.Campaign, j *runner.Job) {
	e.mu.Lock()
	e.jobs = slices.DeleteFunc(e.jobs, func(x *runner.Job) bool { return x == j })
	e.stats.Running = len(e.jobs)
	remaining := len(e.jobs)
	bgOnly := remaining > 0
	for _, x := range e.jobs {
		if !x.Background() {
			bgOnly = false
			break
		}
	}
	e.mu.Unlock()

	e.broker.Publish(c.ID, Event{Type: EventJob, Data: jobExit{
		PID:        j.PID(),
		Background: j.Background(),
		Remaining:  remaining,
	}})

	if bgOnly {
		e.logger.Info("only background workers remain, stopping them", "campaign_id", c.ID)
		if err := e.Stop("", false); err != nil && !errors.Is(err, ErrNoCampaign) {
			e.logger.Warn("failed to stop background workers", "campaign_id", c.ID, "error", err)
		}
	}
}

// finalize closes out the campaign after its last worker exited.
func (e *Engine) finalize(c *model.Campaign) {
	e.mu.Lock()
	e.campaign = nil
	e.jobs = nil
	e.stats.Running = 0
	snapshot := e.stats
	e.mu.Unlock()

	ctx := context.Background()
	if err := e.store.UpdateCampaignStatus(ctx, c.ID, model.StatusDone); err != nil {
		e.logger.Error("failed to finalize campaign", "campaign_id", c.ID, "error", err)
	}
	if c.Options.CopyExecutable {
		e.traces.ReleaseExeCopy(c.ExePath, c.ExeStamp)
	}

	e.broker.Publish(c.ID, Event{Type: EventDone, Data: snapshot})
	e.broker.Close(c.ID)

	campaignsFinished.WithLabelValues(model.StatusDone).Inc()
	e.logger.Info("campaign finished",
		"campaign_id", c.ID,
		"pass", snapshot.Pass,
		"fail", snapshot.Fail,
		"skip", snapshot.Skip,
		"checker_errors", snapshot.CheckerErr)
}

// Stop asks the active campaign's workers to exit, with SIGKILL when
// kill is set. A non-empty id must match the active campaign. The
// campaign finishes once the workers are gone; their final results are
// still collected.
func (e *Engine) Stop(id string, kill bool) error {
	e.mu.Lock()
	c := e.campaign
	jobs := slices.Clone(e.jobs)
	e.mu.Unlock()

	if c == nil || (id != "" && c.ID != id) {
		return ErrNoCampaign
	}

	if err := e.store.UpdateCampaignStatus(context.Background(), c.ID, model.StatusStopping); err != nil {
		e.logger.Warn("failed to mark campaign stopping", "campaign_id", c.ID, "error", err)
	}
	e.logger.Info("stopping campaign", "campaign_id", c.ID, "kill", kill, "workers", len(jobs))
	for _, j := range jobs {
		if kill {
			j.Kill()
		} else {
			j.Terminate()
		}
	}
	return nil
}

// AbortJob sends SIGABRT to one worker of the active campaign so it
// aborts and, with core dumps enabled, leaves a core file.
func (e *Engine) AbortJob(pid int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, j := range e.jobs {
		if j.PID() == pid {
			j.Abort()
			return nil
		}
	}
	return ErrJobNotFound
}

// UpdateRetention switches the trace and core retention of the active
// campaign for results not yet collected.
func (e *Engine) UpdateRetention(keepTraces string, keepCores bool) error {
	if keepTraces != model.RetainAll && keepTraces != model.RetainFailed {
		return fmt.Errorf("invalid retention mode %q", keepTraces)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.campaign == nil {
		return ErrNoCampaign
	}
	e.campaign.Options.KeepTraces = keepTraces
	e.campaign.Options.KeepCores = keepCores
	for _, j := range e.jobs {
		j.UpdateRetention(keepTraces == model.RetainAll, keepCores)
	}
	return nil
}

// Jobs returns a snapshot of the active campaign's workers.
func (e *Engine) Jobs() []model.JobStatus {
	e.mu.Lock()
	jobs := slices.Clone(e.jobs)
	e.mu.Unlock()

	out := make([]model.JobStatus, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Stats())
	}
	return out
}

// CampaignStats returns the statistics of one campaign: live session
// counters for the active campaign, stored aggregates otherwise.
func (e *Engine) CampaignStats(ctx context.Context, id string) (*model.CampaignStats, error) {
	e.mu.Lock()
	if e.campaign != nil && e.campaign.ID == id {
		snapshot := e.stats
		e.mu.Unlock()
		return &snapshot, nil
	}
	e.mu.Unlock()
	return e.store.CampaignStats(ctx, id)
}

// MarkRepeat requests that a test case be repeated. The request is
// cleared automatically when a result for the test arrives from an
// executable newer than the current one.
func (e *Engine) MarkRepeat(ctx context.Context, testName string) error {
	e.mu.Lock()
	requestedAt := time.Now().UTC()
	if e.exeStamp != 0 {
		requestedAt = time.Unix(e.exeStamp, 0).UTC()
	}
	e.mu.Unlock()

	if err := e.store.SetRepeatRequest(ctx, testName, requestedAt); err != nil {
		return err
	}
	e.mu.Lock()
	e.repeats[testName] = requestedAt
	e.mu.Unlock()
	return nil
}

// UnmarkRepeat withdraws a repetition request. Unmarking an absent
// request is not an error.
func (e *Engine) UnmarkRepeat(ctx context.Context, testName string) error {
	if err := e.store.ClearRepeatRequest(ctx, testName); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.repeats, testName)
	e.mu.Unlock()
	return nil
}

// ImportFiles re-parses trace files and stores the results they
// contain, tagged with the given origin. Files are parsed concurrently
// but appended in path order so repeated imports are deterministic.
// Files in use by running workers are skipped. Parse failures do not
// stop the import; the first one is reported after the rest completed.
func (e *Engine) ImportFiles(ctx context.Context, paths []string, origin string) (int, error) {
	inUse := e.tracesInUse()
	eligible := make([]string, 0, len(paths))
	for _, p := range paths {
		if !inUse[p] {
			eligible = append(eligible, p)
		}
	}

	perFile := make([][]model.TestResult, len(eligible))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(importWorkers)
	for i, p := range eligible {
		i, p := i, p
		g.Go(func() error {
			rs, err := gtest.ImportFile(p, origin, e.seedRE)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			perFile[i] = rs
			return nil
		})
	}
	parseErr := g.Wait()

	var flat []*model.TestResult
	for _, rs := range perFile {
		for i := range rs {
			flat = append(flat, &rs[i])
		}
	}
	if len(flat) > 0 {
		if err := e.store.AddResults(ctx, flat); err != nil {
			return 0, fmt.Errorf("store imported results: %w", err)
		}
	}

	resultsImported.Add(float64(len(flat)))
	e.logger.Info("trace import finished", "files", len(eligible), "results", len(flat), "origin", origin)
	return len(flat), parseErr
}

// ImportTree imports every trace file under the trace directory.
func (e *Engine) ImportTree(ctx context.Context, origin string) (int, error) {
	paths, err := e.traces.Scan()
	if err != nil {
		return 0, err
	}
	sort.Strings(paths)
	return e.ImportFiles(ctx, paths, origin)
}

// Prune removes trace data that retention no longer wants and updates
// the stored results accordingly. With keepFailed set, files holding
// failure snippets are kept and only compacted; otherwise everything
// unreferenced by running workers goes, core dumps and executable
// copies included.
func (e *Engine) Prune(ctx context.Context, keepFailed bool) ([]tracestore.PruneResult, error) {
	refs, cores, exeRefs, err := e.store.TraceRefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect trace references: %w", err)
	}

	pruned := e.traces.Prune(refs, !keepFailed, e.tracesInUse(), cores, exeRefs)
	if err := e.store.ApplyPrune(ctx, pruned); err != nil {
		return pruned, fmt.Errorf("apply prune: %w", err)
	}

	deleted, compacted := 0, 0
	for _, p := range pruned {
		if p.Deleted {
			deleted++
		} else {
			compacted++
		}
	}
	tracesPruned.WithLabelValues("deleted").Add(float64(deleted))
	tracesPruned.WithLabelValues("compacted").Add(float64(compacted))
	e.logger.Info("trace prune finished", "deleted", deleted, "compacted", compacted, "keep_failed", keepFailed)
	return pruned, nil
}

// DeleteResults removes stored results and, with deleteFiles set, the
// trace and core files left unreferenced by the removal.
func (e *Engine) DeleteResults(ctx context.Context, ids []int64, deleteFiles bool) (int, error) {
	deleted, err := e.store.DeleteResults(ctx, ids)
	if err != nil {
		return 0, err
	}
	if !deleteFiles || len(deleted) == 0 {
		return len(deleted), nil
	}

	refs, cores, _, err := e.store.TraceRefs(ctx)
	if err != nil {
		return len(deleted), fmt.Errorf("collect trace references: %w", err)
	}
	referenced := e.tracesInUse()
	for _, ref := range refs {
		referenced[ref.File] = true
	}
	for _, c := range cores {
		referenced[c] = true
	}

	var doomed []string
	seen := make(map[string]bool)
	for _, r := range deleted {
		for _, f := range []string{r.TraceFile, r.CoreFile} {
			if f != "" && !referenced[f] && !seen[f] {
				seen[f] = true
				doomed = append(doomed, f)
			}
		}
	}
	e.traces.Remove(doomed, nil)
	return len(deleted), nil
}

// tracesInUse returns the trace files currently written by workers.
func (e *Engine) tracesInUse() map[string]bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	inUse := make(map[string]bool, len(e.jobs))
	for _, j := range e.jobs {
		inUse[j.TraceFile()] = true
	}
	return inUse
}

// Shutdown stops the watcher and the active campaign and waits for the
// collector to finish persisting results.
func (e *Engine) Shutdown() {
	e.StopWatcher()
	if err := e.Stop("", true); err != nil && !errors.Is(err, ErrNoCampaign) {
		e.logger.Warn("failed to stop campaign during shutdown", "error", err)
	}
	e.collectorWG.Wait()
}
