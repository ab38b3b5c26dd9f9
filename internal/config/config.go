package config

import (
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "gtrunner.db"
	defaultTraceDir   = "traces"

	defaultValgrindCmd = "valgrind --leak-check=full " +
		"--show-leak-kinds=definite,possible,indirect " +
		"--show-reachable=yes --num-callers=50"
	defaultValgrindFullCmd = defaultValgrindCmd +
		" --track-origins=yes --expensive-definedness-checks=yes"

	// checkerExitCode is passed to valgrind as --error-exitcode so that
	// checker findings are distinguishable from test failures.
	checkerExitCode = 125

	envListenAddr      = "GTRUNNER_LISTEN_ADDR"
	envDBPath          = "GTRUNNER_DB_PATH"
	envTraceDir        = "GTRUNNER_TRACE_DIR"
	envExePath         = "GTRUNNER_EXE"
	envLogLevel        = "GTRUNNER_LOG_LEVEL"
	envJobs            = "GTRUNNER_JOBS"
	envSeedRegexp      = "GTRUNNER_SEED_REGEXP"
	envCopyExecutable  = "GTRUNNER_COPY_EXECUTABLE"
	envImportOnStart   = "GTRUNNER_IMPORT_ON_START"
	envPruneOnExit     = "GTRUNNER_PRUNE_ON_EXIT"
	envValgrindCmd     = "GTRUNNER_VALGRIND_CMD"
	envValgrindFullCmd = "GTRUNNER_VALGRIND_FULL_CMD"
	envCheckerExit     = "GTRUNNER_CHECKER_EXIT"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr      string
	DBPath          string
	TraceDir        string
	ExePath         string
	LogLevel        slog.Level
	Jobs            int
	SeedRegexp      string
	CopyExecutable  bool
	ImportOnStart   bool
	PruneOnExit     bool
	ValgrindCmd     string
	ValgrindFullCmd string
	CheckerExit     int
}

// Load reads configuration from environment variables with sensible defaults.
// The default job count is the number of logical CPUs.
func Load() Config {
	cfg := Config{
		ListenAddr:      defaultListenAddr,
		DBPath:          defaultDBPath,
		TraceDir:        defaultTraceDir,
		LogLevel:        slog.LevelInfo,
		Jobs:            cpuCount(),
		CopyExecutable:  true,
		ImportOnStart:   true,
		PruneOnExit:     true,
		ValgrindCmd:     defaultValgrindCmd,
		ValgrindFullCmd: defaultValgrindFullCmd,
		CheckerExit:     checkerExitCode,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envTraceDir); v != "" {
		cfg.TraceDir = v
	}
	if v := os.Getenv(envExePath); v != "" {
		cfg.ExePath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envJobs); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Jobs = n
		}
	}
	if v := os.Getenv(envSeedRegexp); v != "" {
		cfg.SeedRegexp = v
	}
	if v := os.Getenv(envCopyExecutable); v != "" {
		cfg.CopyExecutable = parseBool(v, cfg.CopyExecutable)
	}
	if v := os.Getenv(envImportOnStart); v != "" {
		cfg.ImportOnStart = parseBool(v, cfg.ImportOnStart)
	}
	if v := os.Getenv(envPruneOnExit); v != "" {
		cfg.PruneOnExit = parseBool(v, cfg.PruneOnExit)
	}
	if v := os.Getenv(envValgrindCmd); v != "" {
		cfg.ValgrindCmd = v
	}
	if v := os.Getenv(envValgrindFullCmd); v != "" {
		cfg.ValgrindFullCmd = v
	}
	if v := os.Getenv(envCheckerExit); v != "" {
		// Accepts an exit code, or a boolean where false disables the
		// checker verdict entirely.
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.CheckerExit = n
		} else if !parseBool(v, true) {
			cfg.CheckerExit = 0
		}
	}

	return cfg
}

func cpuCount() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseBool(s string, fallback bool) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return b
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
