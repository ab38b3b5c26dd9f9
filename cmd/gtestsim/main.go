// gtestsim is a stand-in GoogleTest binary. It honors the flags and
// environment variables a real test executable would (filtering,
// repetition, sharding, the premature-exit sentinel) while GTESTSIM_*
// variables script the verdicts, so runner behavior can be exercised
// without compiling C++ test suites.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/seantiz/gtrunner/internal/gtest"
)

// options mirrors the GoogleTest command line flags the runner passes.
type options struct {
	listTests   bool
	filter      string
	repeat      int
	shuffle     bool
	seed        int64
	runDisabled bool
	breakOnFail bool
}

var defaultTests = []string{
	"Vector.PushBack",
	"Vector.Reserve",
	"Vector.DISABLED_ShrinkToFit",
	"Map.Insert",
	"Map.Erase",
	"String.Compare",
	"String.Find",
}

func main() {
	opts := parseArgs(os.Args[1:])

	tests := defaultTests
	if v := os.Getenv("GTESTSIM_TESTS"); v != "" {
		tests = nil
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				tests = append(tests, name)
			}
		}
	}

	if opts.listTests {
		printTestList(tests, opts.filter)
		return
	}

	sentinel := os.Getenv("TEST_PREMATURE_EXIT_FILE")
	if sentinel != "" {
		if err := os.WriteFile(sentinel, nil, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "gtestsim: write sentinel: %v\n", err)
		}
	}

	failed := run(tests, opts)

	if sentinel != "" {
		os.Remove(sentinel)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func parseArgs(args []string) options {
	opts := options{repeat: 1}
	for _, a := range args {
		switch a {
		case "--gtest_list_tests":
			opts.listTests = true
		case "--gtest_shuffle":
			opts.shuffle = true
		case "--gtest_also_run_disabled_tests":
			opts.runDisabled = true
		case "--gtest_break_on_failure":
			opts.breakOnFail = true
		default:
			if v, ok := strings.CutPrefix(a, "--gtest_filter="); ok {
				opts.filter = v
			} else if v, ok := strings.CutPrefix(a, "--gtest_repeat="); ok {
				if n, err := strconv.Atoi(v); err == nil {
					opts.repeat = n
				}
			} else if v, ok := strings.CutPrefix(a, "--gtest_random_seed="); ok {
				if n, err := strconv.ParseInt(v, 10, 64); err == nil {
					opts.seed = n
				}
			}
			// Remaining flags (color, catch_exceptions, ...) change
			// nothing in the simulation.
		}
	}
	return opts
}

// printTestList emits the --gtest_list_tests format: one suite line
// followed by its test names, indented. Disabled tests are listed too.
func printTestList(tests []string, filter string) {
	names := tests
	if filter != "" {
		names = gtest.Matches(gtest.Split(filter), names)
	}
	suite := ""
	for _, n := range names {
		s, t, ok := strings.Cut(n, ".")
		if !ok {
			continue
		}
		if s != suite {
			fmt.Printf("%s.\n", s)
			suite = s
		}
		fmt.Printf("  %s\n", t)
	}
}

// selectTests applies disabled-test handling, the filter, and sharding
// in the order GoogleTest does.
func selectTests(tests []string, opts options) []string {
	names := gtest.Runnable(tests, opts.runDisabled)
	if opts.filter != "" {
		names = gtest.Matches(gtest.Split(opts.filter), names)
	}

	total, _ := strconv.Atoi(os.Getenv("GTEST_TOTAL_SHARDS"))
	index, _ := strconv.Atoi(os.Getenv("GTEST_SHARD_INDEX"))
	if total > 1 {
		fmt.Printf("Note: This is test shard %d of %d.\n", index+1, total)
		var shard []string
		for i, n := range names {
			if i%total == index {
				shard = append(shard, n)
			}
		}
		names = shard
	}
	return names
}

func run(tests []string, opts options) int {
	names := selectTests(tests, opts)

	seed := opts.seed
	if seed == 0 {
		seed = time.Now().UnixNano() % 100000
	}
	rng := rand.New(rand.NewSource(seed))

	failed := 0
	for iter := 0; opts.repeat < 0 || iter < opts.repeat; iter++ {
		if iter > 0 {
			fmt.Printf("\nRepeating all tests (iteration %d) . . .\n\n", iter+1)
		}
		order := names
		if opts.shuffle {
			fmt.Printf("Note: Randomizing tests' order with a seed of %d .\n", seed)
			order = slices.Clone(names)
			rng.Shuffle(len(order), func(i, j int) {
				order[i], order[j] = order[j], order[i]
			})
		}
		failed += runIteration(order, opts)
	}
	return failed
}

func runIteration(order []string, opts options) int {
	suites := countSuites(order)
	fmt.Printf("[==========] Running %d tests from %d test suites.\n", len(order), suites)
	fmt.Printf("[----------] Global test environment set-up.\n")

	sleep := time.Duration(intEnv("GTESTSIM_SLEEP_MS")) * time.Millisecond
	failPats := gtest.Split(os.Getenv("GTESTSIM_FAIL"))
	skipPats := gtest.Split(os.Getenv("GTESTSIM_SKIP"))
	crashPats := gtest.Split(os.Getenv("GTESTSIM_CRASH"))

	var failedNames, skippedNames []string
	var totalMS int64

	for i := 0; i < len(order); {
		suite, _, _ := strings.Cut(order[i], ".")
		j := i
		for j < len(order) {
			if s, _, _ := strings.Cut(order[j], "."); s != suite {
				break
			}
			j++
		}
		count := j - i
		fmt.Printf("[----------] %d tests from %s\n", count, suite)

		var suiteMS int64
		for ; i < j; i++ {
			name := order[i]
			fmt.Printf("[ RUN      ] %s\n", name)
			if sleep > 0 {
				time.Sleep(sleep)
			}
			durMS := sleep.Milliseconds() + int64(len(name)%5)
			suiteMS += durMS

			switch {
			case matchAny(crashPats, name):
				printFailure(name)
				abortSelf(syscall.SIGABRT)
			case matchAny(skipPats, name):
				fmt.Printf("%s:%d: Skipped\n\n", sourceFile(name), sourceLine(name))
				fmt.Printf("[  SKIPPED ] %s (%d ms)\n", name, durMS)
				skippedNames = append(skippedNames, name)
			case matchAny(failPats, name):
				printFailure(name)
				if opts.breakOnFail {
					abortSelf(syscall.SIGTRAP)
				}
				fmt.Printf("[  FAILED  ] %s (%d ms)\n", name, durMS)
				failedNames = append(failedNames, name)
			default:
				fmt.Printf("[       OK ] %s (%d ms)\n", name, durMS)
			}
		}
		fmt.Printf("[----------] %d tests from %s (%d ms total)\n\n", count, suite, suiteMS)
		totalMS += suiteMS
	}

	fmt.Printf("[----------] Global test environment tear-down\n")
	fmt.Printf("[==========] %d tests from %d test suites ran. (%d ms total)\n", len(order), suites, totalMS)
	fmt.Printf("[  PASSED  ] %d tests.\n", len(order)-len(failedNames)-len(skippedNames))
	if len(skippedNames) > 0 {
		fmt.Printf("[  SKIPPED ] %d tests, listed below:\n", len(skippedNames))
		for _, n := range skippedNames {
			fmt.Printf("[  SKIPPED ] %s\n", n)
		}
	}
	if len(failedNames) > 0 {
		fmt.Printf("[  FAILED  ] %d tests, listed below:\n", len(failedNames))
		for _, n := range failedNames {
			fmt.Printf("[  FAILED  ] %s\n", n)
		}
		fmt.Printf("\n %d FAILED TESTS\n", len(failedNames))
	}
	return len(failedNames)
}

// printFailure writes an assertion failure block the way GoogleTest
// formats one. A GTESTSIM_SEED value is echoed into the block so seed
// extraction can be exercised.
func printFailure(name string) {
	fmt.Printf("%s:%d: Failure\n", sourceFile(name), sourceLine(name))
	fmt.Printf("Expected equality of these values:\n")
	fmt.Printf("  result\n    Which is: 1\n")
	fmt.Printf("  expected\n    Which is: 2\n")
	if seed := os.Getenv("GTESTSIM_SEED"); seed != "" {
		fmt.Printf("seed = %s\n", seed)
	}
}

// abortSelf terminates the process with a fatal signal, leaving the
// premature-exit sentinel in place. A fake core dump is dropped next to
// the current directory's trace files when GTESTSIM_CORE is set.
func abortSelf(sig syscall.Signal) {
	if b, _ := strconv.ParseBool(os.Getenv("GTESTSIM_CORE")); b {
		name := fmt.Sprintf("core.%d", os.Getpid())
		os.WriteFile(name, []byte("gtestsim fake core dump\n"), 0o644)
	}
	syscall.Kill(os.Getpid(), sig)
	// The signal is fatal; this line runs only if delivery raced.
	time.Sleep(time.Second)
	os.Exit(2)
}

func countSuites(names []string) int {
	seen := map[string]bool{}
	for _, n := range names {
		s, _, _ := strings.Cut(n, ".")
		seen[s] = true
	}
	return len(seen)
}

func matchAny(pats []string, name string) bool {
	for _, p := range pats {
		if gtest.Match(name, p) {
			return true
		}
	}
	return false
}

func sourceFile(name string) string {
	suite, _, _ := strings.Cut(name, ".")
	return strings.ToLower(suite) + "_test.cc"
}

func sourceLine(name string) int {
	return 10 + len(name)*3%80
}

func intEnv(key string) int {
	n, _ := strconv.Atoi(os.Getenv(key))
	return n
}
