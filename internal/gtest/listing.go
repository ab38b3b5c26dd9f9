package gtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

const listTimeout = 10 * time.Second

// ErrEmptyTestList is returned when an executable reports no test cases.
var ErrEmptyTestList = errors.New("executable reported an empty test case list")

var (
	suiteLine = regexp.MustCompile(`^([^0-9\s]\S+\.)$`)
	testLine  = regexp.MustCompile(`^\s+([^0-9\s]\S+)$`)
)

// List queries an executable for its test case names via
// --gtest_list_tests, optionally restricted by a filter pattern.
// Returned names have the form "Suite.Test".
func List(ctx context.Context, exe, pattern string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	args := []string{"--gtest_list_tests"}
	if pattern != "" {
		args = append(args, "--gtest_filter="+pattern)
	}
	cmd := exec.CommandContext(ctx, exe, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("query test case list: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("query test case list: %w", err)
	}

	names := parseTestList(stdout.String())
	if len(names) == 0 {
		return nil, ErrEmptyTestList
	}
	return names, nil
}

// parseTestList extracts qualified test names from --gtest_list_tests
// output. Suite lines end with a dot, test lines are indented below
// them. Trailing "#" comments emitted for parameterized and typed tests
// are stripped so those tests are listed too.
func parseTestList(out string) []string {
	var names []string
	suite := ""
	for _, line := range strings.Split(out, "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimRight(line, " \t\r")
		if m := suiteLine.FindStringSubmatch(line); m != nil {
			suite = m[1]
		} else if suite != "" {
			if m := testLine.FindStringSubmatch(line); m != nil {
				names = append(names, suite+m[1])
			} else {
				suite = ""
			}
		}
	}
	return names
}
