package tracestore

import (
	"fmt"
	"io"
	"os"
)

const compactChunkSize = 256 * 1024

// Range is a half-open byte range [Start, End) within a trace file.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// FileRefs aggregates the stored results that reference one trace file.
// Removable holds the snippet ranges of passed, skipped and bookkeeping
// results in ascending order; KeepWhole is set when at least one
// failure, crash or checker result lives in the file.
type FileRefs struct {
	File      string
	KeepWhole bool
	Removable []Range
}

// AddRemovable records a snippet range, merging it with the previous
// one when they are contiguous. Ranges must be added in file order.
func (f *FileRefs) AddRemovable(off, length int64) {
	if length <= 0 {
		return
	}
	if n := len(f.Removable); n > 0 && f.Removable[n-1].End == off {
		f.Removable[n-1].End = off + length
		return
	}
	f.Removable = append(f.Removable, Range{Start: off, End: off + length})
}

// PruneResult reports what happened to one trace file during Prune.
type PruneResult struct {
	File      string
	Deleted   bool
	Compacted []Range
}

// Prune removes trace data that retention no longer wants. Files whose
// snippets are all removable are deleted; files that also hold kept
// snippets are compacted in place. With all set, kept files, core dumps
// and executable copies are removed as well. Files named in inUse are
// skipped entirely. File errors are tolerated so one bad file does not
// stop the sweep; a file whose compaction fails is left whole.
func (s *Store) Prune(refs []FileRefs, all bool, inUse map[string]bool, cores []string, exeRefs []ExeRef) []PruneResult {
	var out []PruneResult
	var doomed []string
	for _, ref := range refs {
		if inUse[ref.File] {
			continue
		}
		if !all && ref.KeepWhole {
			if len(ref.Removable) == 0 {
				continue
			}
			if err := Compact(ref.File, ref.Removable); err != nil {
				continue
			}
			out = append(out, PruneResult{File: ref.File, Compacted: ref.Removable})
			continue
		}
		doomed = append(doomed, ref.File)
		out = append(out, PruneResult{File: ref.File, Deleted: true})
	}
	if all {
		doomed = append(doomed, cores...)
	} else {
		exeRefs = nil
	}
	s.Remove(doomed, exeRefs)
	return out
}

// Compact rewrites a trace file in place with the given ranges removed.
// Ranges must be ascending and non-overlapping.
func Compact(path string, removed []Range) error {
	if len(removed) == 0 {
		return nil
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat trace file: %w", err)
	}
	size := info.Size()
	buf := make([]byte, compactChunkSize)
	off := removed[0].Start
	for i, r := range removed {
		next := size
		if i+1 < len(removed) {
			next = removed[i+1].Start
		}
		src := r.End
		for src < next {
			n := next - src
			if n > int64(len(buf)) {
				n = int64(len(buf))
			}
			rn, err := f.ReadAt(buf[:n], src)
			if rn > 0 {
				if _, werr := f.WriteAt(buf[:rn], off); werr != nil {
					return fmt.Errorf("rewrite trace file: %w", werr)
				}
				off += int64(rn)
				src += int64(rn)
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("read trace file: %w", err)
			}
		}
	}
	if err := f.Truncate(off); err != nil {
		return fmt.Errorf("truncate trace file: %w", err)
	}
	return nil
}
