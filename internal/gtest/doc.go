// Package gtest integrates with GoogleTest executables: it queries test
// case lists, builds worker command lines, evaluates filter expressions,
// and parses console output streams into per-test-case result snippets.
package gtest
