// Package engine schedules test campaigns. It owns the single active
// campaign at a time: it plans the shard split, spawns the worker
// processes, collects their results into the store, publishes progress
// events, and finalizes the campaign when the last worker exits. It also
// tracks the configured test executable, re-reading its test case list
// when the file changes on disk.
package engine
