// Package runner spawns and supervises GoogleTest worker processes,
// turning their output streams into trace files and result records.
package runner
