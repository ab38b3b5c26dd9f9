package gtest

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/seantiz/gtrunner/internal/model"
	"github.com/seantiz/gtrunner/internal/tracestore"
)

const importChunkSize = 256 * 1024

// ImportFile re-parses a trace file written by an earlier run and
// returns the results it contains. Result timestamps come from the file
// modification time; core dumps are looked up next to the trace file.
func ImportFile(path, origin string, seedRE *regexp.Regexp) ([]model.TestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat trace file: %w", err)
	}
	mtime := info.ModTime()

	p := NewImportParser()
	buf := make([]byte, importChunkSize)
	var out []model.TestResult
	collect := func(segs []Segment) {
		for _, s := range segs {
			if s.Result == nil {
				continue
			}
			out = append(out, importedResult(path, mtime, origin, seedRE, s.Result))
		}
	}
	for {
		n, err := f.Read(buf)
		if n > 0 {
			collect(p.Feed(buf[:n]))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read trace file: %w", err)
		}
	}
	collect(p.Flush())
	return out, nil
}

func importedResult(path string, mtime time.Time, origin string, seedRE *regexp.Regexp, r *Result) model.TestResult {
	res := model.TestResult{
		TestName:   r.TestName,
		Verdict:    r.Verdict,
		TraceFile:  path,
		Offset:     r.Offset,
		Length:     int64(len(r.Snippet)),
		DurationMS: r.DurationMS,
		EndedAt:    mtime,
		Origin:     origin,
		Seed:       ExtractSeed(seedRE, r.Snippet),
	}
	if r.Verdict != model.VerdictPass && r.Verdict != model.VerdictSkip {
		res.FailFile, res.FailLine = FailLocation(r.Snippet)
	}
	if r.Verdict == model.VerdictCrash {
		res.CoreFile = findCoreFile(path)
	}
	return res
}

// findCoreFile returns a readable core dump stored next to the trace
// file, preferring a valgrind core over a plain one.
func findCoreFile(tracePath string) string {
	found := ""
	for _, valgrind := range []bool{false, true} {
		p := tracestore.CoreFilePath(tracePath, valgrind)
		if _, err := os.Stat(p); err == nil {
			found = p
		}
	}
	return found
}
