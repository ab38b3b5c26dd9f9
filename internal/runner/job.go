package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/time/rate"

	"github.com/seantiz/gtrunner/internal/gtest"
	"github.com/seantiz/gtrunner/internal/model"
	"github.com/seantiz/gtrunner/internal/tracestore"
)

const (
	// pipeChunkSize bounds a single read from the worker pipe.
	pipeChunkSize = 256 * 1024

	// pipeReadInterval paces pipe reads so a worker spewing output does
	// not monopolize the parser.
	pipeReadInterval = 150 * time.Millisecond

	// sentinelSuffix names the premature-exit sentinel next to the trace
	// file. GoogleTest creates the file on startup and removes it on
	// orderly exit, so its presence after exit means the worker died
	// without reaching the summary.
	sentinelSuffix = ".running"
)

// Config describes one worker process.
type Config struct {
	// Exe is the executable to invoke. OrigExe is the path recorded in
	// results; it differs from Exe when the worker runs a stamped copy.
	Exe      string
	OrigExe  string
	ExeStamp int64

	CampaignID string
	TraceFile  string

	Filter         string
	Repeat         int
	ShardCount     int
	ShardIndex     int
	Background     bool
	Expected       int
	RunDisabled    bool
	Shuffle        bool
	BreakOnFailure bool
	BreakOnExcept  bool

	// KeepAll stores snippets for passing tests too. KeepCores retains
	// core dump files found after a crash.
	KeepAll   bool
	KeepCores bool

	// SeedRE extracts a seed value from snippets, or nil.
	SeedRE *regexp.Regexp

	// Launcher wraps the invocation; nil means direct execution.
	Launcher Launcher

	// OnResult receives each extracted result. OnExit fires once after
	// the worker has exited and the trace file is closed. Both are
	// called from the job's reader goroutine.
	OnResult func(*model.TestResult)
	OnExit   func(*Job)
}

// Job is one running worker process together with the goroutine that
// drains its output into the trace file and the result stream.
type Job struct {
	cfg    Config
	logger *slog.Logger

	cmd     *exec.Cmd
	pipe    *os.File
	proc    *process.Process
	limiter *rate.Limiter

	// Owned by the reader goroutine.
	parser   *gtest.Parser
	trace    *os.File
	traceOff int64
	failed   int
	stored   bool
	ioErr    error

	mu         sync.Mutex
	keepAll    bool
	keepCores  bool
	terminated bool
	current    string
	bytesRead  int64
	seen       int

	startedAt time.Time
	done      chan struct{}
}

// Start launches a worker process and begins draining its output. The
// trace file must not exist yet; its directory must.
func Start(cfg Config, logger *slog.Logger) (*Job, error) {
	if cfg.OrigExe == "" {
		cfg.OrigExe = cfg.Exe
	}
	trace, err := os.OpenFile(cfg.TraceFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}

	spec := gtest.CmdSpec{
		Exe:            cfg.Exe,
		Repeat:         cfg.Repeat,
		Filter:         cfg.Filter,
		RunDisabled:    cfg.RunDisabled,
		Shuffle:        cfg.Shuffle,
		BreakOnFailure: cfg.BreakOnFailure,
		BreakOnExcept:  cfg.BreakOnExcept,
		ShardCount:     cfg.ShardCount,
		ShardIndex:     cfg.ShardIndex,
		SentinelFile:   cfg.TraceFile + sentinelSuffix,
	}
	if cfg.Launcher != nil {
		spec.CheckerCmd = cfg.Launcher.Command()
		spec.CheckerExit = cfg.Launcher.CheckerExit()
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		trace.Close()
		os.Remove(cfg.TraceFile)
		return nil, fmt.Errorf("create worker pipe: %w", err)
	}

	argv := spec.Argv()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = spec.Env()
	// Core dump files land in the working directory, so run the worker
	// next to its trace file.
	cmd.Dir = filepath.Dir(cfg.TraceFile)
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		trace.Close()
		os.Remove(cfg.TraceFile)
		return nil, fmt.Errorf("start worker: %w", err)
	}
	// The child holds the write end now; EOF on the read end tracks its
	// lifetime.
	pw.Close()

	j := &Job{
		cfg:       cfg,
		logger:    logger.With("pid", cmd.Process.Pid, "trace", filepath.Base(cfg.TraceFile)),
		cmd:       cmd,
		pipe:      pr,
		limiter:   rate.NewLimiter(rate.Every(pipeReadInterval), 1),
		parser:    gtest.NewParser(),
		trace:     trace,
		keepAll:   cfg.KeepAll,
		keepCores: cfg.KeepCores,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	j.proc, _ = process.NewProcess(int32(cmd.Process.Pid))

	activeWorkers.Inc()
	j.logger.Info("worker started",
		"exe", cfg.Exe,
		"shard", fmt.Sprintf("%d/%d", cfg.ShardIndex, cfg.ShardCount),
		"background", cfg.Background)

	go j.run()
	return j, nil
}

// PID returns the worker process ID.
func (j *Job) PID() int { return j.cmd.Process.Pid }

// TraceFile returns the path the worker's output is written to.
func (j *Job) TraceFile() string { return j.cfg.TraceFile }

// Background reports whether this worker runs the full test set behind
// a sharded campaign.
func (j *Job) Background() bool { return j.cfg.Background }

// Done is closed after the worker has exited and its final results have
// been delivered.
func (j *Job) Done() <-chan struct{} { return j.done }

// Terminate asks the worker to exit with SIGTERM. The exit is recorded
// as requested, not as a crash.
func (j *Job) Terminate() {
	j.markTerminated()
	_ = j.cmd.Process.Signal(syscall.SIGTERM)
}

// Kill force-stops the worker with SIGKILL.
func (j *Job) Kill() {
	j.markTerminated()
	_ = j.cmd.Process.Kill()
}

// Abort sends SIGABRT so the worker aborts and, with core dumps
// enabled, leaves a core file. The exit is handled like any other
// crash.
func (j *Job) Abort() {
	_ = j.cmd.Process.Signal(syscall.SIGABRT)
}

// UpdateRetention switches snippet and core retention for results not
// yet parsed. Earlier results keep the policy they were recorded under.
func (j *Job) UpdateRetention(keepAll, keepCores bool) {
	j.mu.Lock()
	j.keepAll = keepAll
	j.keepCores = keepCores
	j.mu.Unlock()
}

func (j *Job) markTerminated() {
	j.mu.Lock()
	j.terminated = true
	j.mu.Unlock()
}

// Stats returns a point-in-time snapshot of the worker.
func (j *Job) Stats() model.JobStatus {
	j.mu.Lock()
	st := model.JobStatus{
		PID:        j.cmd.Process.Pid,
		TraceFile:  j.cfg.TraceFile,
		Background: j.cfg.Background,
		BytesRead:  j.bytesRead,
		Seen:       j.seen,
		Expected:   j.cfg.Expected,
		Current:    j.current,
		StartedAt:  j.startedAt,
	}
	j.mu.Unlock()
	if j.proc != nil {
		if pct, err := j.proc.Percent(0); err == nil {
			st.CPUPercent = pct
		}
		if mem, err := j.proc.MemoryInfo(); err == nil {
			st.RSSBytes = mem.RSS
		}
	}
	return st
}

// run drains the pipe until EOF, then settles the worker's exit.
func (j *Job) run() {
	defer close(j.done)
	buf := make([]byte, pipeChunkSize)
	for {
		_ = j.limiter.Wait(context.Background())
		n, err := j.pipe.Read(buf)
		if n > 0 {
			j.consume(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				j.readError(err)
			}
			break
		}
	}
	j.finish()
}

func (j *Job) readError(err error) {
	if j.ioErr == nil {
		j.ioErr = fmt.Errorf("error reading pipe from test process: %w", err)
	}
	// Stop the worker so Wait cannot block on a process that keeps
	// writing into a pipe nobody reads.
	j.Terminate()
}

// consume feeds a chunk of worker output to the parser and acts on the
// classified segments.
func (j *Job) consume(data []byte) {
	segs := j.parser.Feed(data)

	j.mu.Lock()
	j.bytesRead += int64(len(data))
	j.current = j.parser.Current()
	keepAll := j.keepAll
	j.mu.Unlock()

	for _, seg := range segs {
		if seg.Result != nil {
			r := seg.Result
			j.emit(j.makeResult(r.TestName, r.Verdict, r.DurationMS, r.Snippet, "", keepAll))
		} else {
			j.write(seg.Spill)
		}
	}

	if j.ioErr != nil {
		j.mu.Lock()
		terminated := j.terminated
		j.mu.Unlock()
		if !terminated {
			j.Terminate()
		}
	}
}

// makeResult builds the result record for one snippet and stores the
// snippet in the trace file per the retention policy: failures always,
// passes only with keepAll. Checker and summary error records reference
// the whole file instead of a snippet range.
func (j *Job) makeResult(name, verdict string, durationMS int64, snippet []byte, coreFile string, keepAll bool) *model.TestResult {
	r := &model.TestResult{
		CampaignID: j.cfg.CampaignID,
		TestName:   name,
		ExePath:    j.cfg.OrigExe,
		ExeStamp:   j.cfg.ExeStamp,
		Verdict:    verdict,
		CoreFile:   coreFile,
		DurationMS: durationMS,
		EndedAt:    time.Now().UTC(),
		Valgrind:   j.valgrind(),
		Background: j.cfg.Background,
		Origin:     model.OriginLive,
		Seed:       gtest.ExtractSeed(j.cfg.SeedRE, snippet),
	}
	if verdict != model.VerdictPass && verdict != model.VerdictSkip {
		r.FailFile, r.FailLine = gtest.FailLocation(snippet)
		j.failed++
	}

	if verdict != model.VerdictPass || keepAll {
		r.TraceFile = j.cfg.TraceFile
		r.Offset = j.traceOff
		r.Length = int64(len(snippet))
		j.write(snippet)
		j.stored = true
	}
	if verdict == model.VerdictChecker || verdict == model.VerdictError {
		// The faulting test case is unknown, so the record covers the
		// full trace written so far.
		r.Offset = 0
		r.Length = j.traceOff
	}
	return r
}

func (j *Job) emit(r *model.TestResult) {
	j.mu.Lock()
	j.seen++
	j.mu.Unlock()
	resultsTotal.WithLabelValues(r.Verdict).Inc()
	if j.cfg.OnResult != nil {
		j.cfg.OnResult(r)
	}
}

func (j *Job) write(b []byte) {
	if len(b) == 0 {
		return
	}
	n, err := j.trace.Write(b)
	j.traceOff += int64(n)
	traceBytesTotal.Add(float64(n))
	if err != nil && j.ioErr == nil {
		j.ioErr = fmt.Errorf("error writing trace output to file: %w", err)
	}
}

// finish reaps the worker and classifies its exit. A premature exit or
// a core dump yields a crash record; a checker error exit yields a
// checker record; any other nonzero exit without recorded failures
// yields an error record. Requested terminations and clean exits only
// flush remaining output.
func (j *Job) finish() {
	waitErr := j.cmd.Wait()
	exitCode := exitStatus(waitErr)
	aborted := os.Remove(j.cfg.TraceFile+sentinelSuffix) == nil

	j.mu.Lock()
	terminated := j.terminated
	keepAll := j.keepAll
	j.mu.Unlock()

	name, snippet, tail := j.parser.Drain()

	switch {
	case (exitCode != 0 || aborted) && !terminated:
		coreFile := j.recoverCoreFile()
		checkerExit := j.cfg.Launcher != nil && j.cfg.Launcher.CheckerExit() != 0 &&
			exitCode == j.cfg.Launcher.CheckerExit()

		switch {
		case coreFile != "" || aborted:
			if len(snippet) > 0 {
				snippet = append(snippet, tail...)
				snippet = fmt.Appendf(snippet, "\n[  CRASHED ] %s\n[----------] Exit code: %d\n", name, exitCode)
			} else {
				// Crash in the postamble, or the test start was lost.
				name = "unknown"
			}
			j.emit(j.makeResult(name, model.VerdictCrash, 0, snippet, coreFile, keepAll))

		case j.valgrind() && checkerExit:
			// The checker reports its findings in the summary, so the
			// faulting test case is unknown.
			j.emit(j.makeResult("", model.VerdictChecker, 0, snippet, "", keepAll))

		case j.failed == 0:
			snippet = append(snippet, tail...)
			snippet = fmt.Appendf(snippet, "\n[----------] Exit code: %d\n", exitCode)
			j.emit(j.makeResult("", model.VerdictError, 0, snippet, "", keepAll))
		}

	case j.ioErr != nil:
		snippet = fmt.Appendf(snippet, "\n[----------] %s\n", j.ioErr)
		j.emit(j.makeResult("", model.VerdictError, 0, snippet, "", keepAll))

	default:
		// Clean exit or requested stop: pass remaining output through.
		j.write(snippet)
		j.write(tail)
	}

	j.closeTrace()

	activeWorkers.Dec()
	workerRuntime.Observe(time.Since(j.startedAt).Seconds())
	j.logger.Info("worker exited",
		"exit_code", exitCode,
		"results", j.seen,
		"failed", j.failed,
		"terminated", terminated,
		"aborted", aborted)

	if j.cfg.OnExit != nil {
		j.cfg.OnExit(j)
	}
}

// recoverCoreFile looks for a core dump left by the worker and either
// removes it or moves it next to the trace file, per the retention
// option. Valgrind runs only look for valgrind cores; a core from the
// checker itself crashing is not attributed to the test.
func (j *Job) recoverCoreFile() string {
	prefix := "core"
	if j.valgrind() {
		prefix = "vgcore"
	}
	src := filepath.Join(filepath.Dir(j.cfg.TraceFile), fmt.Sprintf("%s.%d", prefix, j.cmd.Process.Pid))
	if _, err := os.Stat(src); err != nil {
		return ""
	}
	j.mu.Lock()
	keepCores := j.keepCores
	j.mu.Unlock()
	if !keepCores {
		os.Remove(src)
		return ""
	}
	dst := tracestore.CoreFilePath(j.cfg.TraceFile, j.valgrind())
	if err := os.Rename(src, dst); err != nil {
		j.logger.Warn("failed to move core file", "core", src, "error", err)
		return ""
	}
	return dst
}

// closeTrace closes the trace file and removes it when no snippet was
// stored, so retention never leaves files no result refers to.
func (j *Job) closeTrace() {
	j.trace.Close()
	if !j.stored {
		os.Remove(j.cfg.TraceFile)
	}
	j.pipe.Close()
}

func (j *Job) valgrind() bool {
	return j.cfg.Launcher != nil && j.cfg.Launcher.Valgrind()
}

// exitStatus maps a Wait error to the worker exit code. Signal deaths
// are reported as the negated signal number.
func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return -int(ws.Signal())
		}
		return exitErr.ExitCode()
	}
	return -1
}
