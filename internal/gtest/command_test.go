package gtest

import (
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCmdSpecArgv(t *testing.T) {
	tests := []struct {
		name string
		spec CmdSpec
		want []string
	}{
		{
			"plain",
			CmdSpec{Exe: "/opt/tests/calc_test", Repeat: 1},
			[]string{"/opt/tests/calc_test"},
		},
		{
			"all flags",
			CmdSpec{
				Exe:            "/opt/tests/calc_test",
				Repeat:         5,
				Filter:         "Calc.*-Calc.Slow",
				RunDisabled:    true,
				Shuffle:        true,
				BreakOnFailure: true,
				BreakOnExcept:  true,
			},
			[]string{
				"/opt/tests/calc_test",
				"--gtest_repeat=5",
				"--gtest_filter=Calc.*-Calc.Slow",
				"--gtest_also_run_disabled_tests",
				"--gtest_shuffle",
				"--gtest_break_on_failure",
				"--gtest_catch_exceptions=0",
			},
		},
		{
			"checker prefix",
			CmdSpec{
				Exe:         "/opt/tests/calc_test",
				CheckerCmd:  "valgrind -q --leak-check=full",
				CheckerExit: 125,
				Repeat:      1,
			},
			[]string{
				"valgrind", "-q", "--leak-check=full",
				"--error-exitcode=125",
				"/opt/tests/calc_test",
			},
		},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, tt.spec.Argv()); diff != "" {
			t.Errorf("%s: Argv mismatch (-want +got):\n%s", tt.name, diff)
		}
	}
}

func TestCmdSpecEnv(t *testing.T) {
	t.Setenv("GTEST_FILTER", "Leak.*")
	t.Setenv("GTEST_REPEAT", "7")
	// Only GoogleTest's own variables are scrubbed; everything else a
	// worker might read passes through.
	t.Setenv("GTESTSIM_FAIL", "Map.Erase")

	env := CmdSpec{ShardCount: 3, ShardIndex: 1, SentinelFile: "/tmp/trace.0.premature"}.Env()
	for _, kv := range env {
		if strings.HasPrefix(kv, "GTEST_FILTER=") || strings.HasPrefix(kv, "GTEST_REPEAT=") {
			t.Errorf("inherited %q was not scrubbed", kv)
		}
	}
	if !slices.Contains(env, "GTESTSIM_FAIL=Map.Erase") {
		t.Error("unrelated variable was scrubbed")
	}
	if !slices.Contains(env, "TEST_PREMATURE_EXIT_FILE=/tmp/trace.0.premature") {
		t.Error("sentinel variable missing")
	}
	if !slices.Contains(env, "GTEST_TOTAL_SHARDS=3") || !slices.Contains(env, "GTEST_SHARD_INDEX=1") {
		t.Error("shard variables missing")
	}

	for _, kv := range (CmdSpec{ShardCount: 1}).Env() {
		if strings.HasPrefix(kv, "GTEST_TOTAL_SHARDS=") || strings.HasPrefix(kv, "GTEST_SHARD_INDEX=") {
			t.Errorf("single-shard worker got %q", kv)
		}
	}
}
