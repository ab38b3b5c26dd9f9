package gtest

import (
	"fmt"
	"os"
	"strings"
)

// Environment variables scrubbed from worker processes so inherited
// settings cannot override the flags built here.
var scrubEnv = map[string]bool{
	"GTEST_FILTER":                  true,
	"GTEST_FAIL_FAST":               true,
	"GTEST_ALSO_RUN_DISABLED_TESTS": true,
	"GTEST_BREAK_ON_FAILURE":        true,
	"GTEST_CATCH_EXCEPTIONS":        true,
	"GTEST_REPEAT":                  true,
	"GTEST_SHUFFLE":                 true,
	"GTEST_PRINT_TIME":              true,
	"GTEST_OUTPUT":                  true,
	"GTEST_TOTAL_SHARDS":            true,
	"GTEST_SHARD_INDEX":             true,
}

// CmdSpec describes one worker process invocation.
type CmdSpec struct {
	Exe            string
	CheckerCmd     string // command prefix, whitespace separated
	CheckerExit    int    // nonzero appends --error-exitcode to the prefix
	Repeat         int
	Filter         string
	RunDisabled    bool
	Shuffle        bool
	BreakOnFailure bool
	BreakOnExcept  bool
	ShardCount     int
	ShardIndex     int
	SentinelFile   string
}

// Argv returns the worker command line: the optional checker prefix, the
// executable, and the GoogleTest flags derived from the spec.
func (c CmdSpec) Argv() []string {
	var argv []string
	if c.CheckerCmd != "" {
		argv = append(argv, strings.Fields(c.CheckerCmd)...)
		if c.CheckerExit != 0 {
			argv = append(argv, fmt.Sprintf("--error-exitcode=%d", c.CheckerExit))
		}
	}
	argv = append(argv, c.Exe)
	if c.Repeat != 1 {
		argv = append(argv, fmt.Sprintf("--gtest_repeat=%d", c.Repeat))
	}
	if c.Filter != "" {
		argv = append(argv, "--gtest_filter="+c.Filter)
	}
	if c.RunDisabled {
		argv = append(argv, "--gtest_also_run_disabled_tests")
	}
	if c.Shuffle {
		argv = append(argv, "--gtest_shuffle")
	}
	if c.BreakOnFailure {
		argv = append(argv, "--gtest_break_on_failure")
	}
	if c.BreakOnExcept {
		argv = append(argv, "--gtest_catch_exceptions=0")
	}
	return argv
}

// Env returns the worker environment: the inherited environment with
// GoogleTest variables scrubbed, the premature-exit sentinel set, and
// sharding variables present only when the shard group has more than
// one shard.
func (c CmdSpec) Env() []string {
	base := os.Environ()
	env := make([]string, 0, len(base)+3)
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if scrubEnv[name] {
			continue
		}
		env = append(env, kv)
	}
	if c.SentinelFile != "" {
		env = append(env, "TEST_PREMATURE_EXIT_FILE="+c.SentinelFile)
	}
	if c.ShardCount > 1 {
		env = append(env,
			fmt.Sprintf("GTEST_TOTAL_SHARDS=%d", c.ShardCount),
			fmt.Sprintf("GTEST_SHARD_INDEX=%d", c.ShardIndex))
	}
	return env
}
