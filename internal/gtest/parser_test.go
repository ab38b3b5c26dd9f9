package gtest

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/seantiz/gtrunner/internal/model"
)

const sampleRun = `[==========] Running 3 tests from 2 test suites.
[----------] Global test environment set-up.
[----------] 2 tests from FooTest
[ RUN      ] FooTest.Works
[       OK ] FooTest.Works (12 ms)
[ RUN      ] FooTest.Breaks
foo.cc:42: Failure
Expected equality of these values:
  1
  2
[  FAILED  ] FooTest.Breaks (3 ms)
[----------] 2 tests from FooTest (15 ms total)
[----------] 1 test from BarTest
[ RUN      ] BarTest.Skips
[  SKIPPED ] BarTest.Skips (0 ms)
[----------] 1 test from BarTest (0 ms total)
[----------] Global test environment tear-down
[==========] 3 tests from 2 test suites ran. (15 ms total)
[  PASSED  ] 1 test.
[  FAILED  ] 1 test, listed below:
[  FAILED  ] FooTest.Breaks

 1 FAILED TEST
`

func results(segs []Segment) []*Result {
	var out []*Result
	for _, s := range segs {
		if s.Result != nil {
			out = append(out, s.Result)
		}
	}
	return out
}

func TestParserVerdicts(t *testing.T) {
	p := NewParser()
	got := results(p.Feed([]byte(sampleRun)))

	want := []struct {
		name       string
		verdict    string
		durationMS int64
	}{
		{"FooTest.Works", model.VerdictPass, 12},
		{"FooTest.Breaks", model.VerdictFail, 3},
		{"BarTest.Skips", model.VerdictSkip, 0},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d results, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].TestName != w.name {
			t.Errorf("result %d name = %q, want %q", i, got[i].TestName, w.name)
		}
		if got[i].Verdict != w.verdict {
			t.Errorf("result %d verdict = %q, want %q", i, got[i].Verdict, w.verdict)
		}
		if got[i].DurationMS != w.durationMS {
			t.Errorf("result %d duration = %d, want %d", i, got[i].DurationMS, w.durationMS)
		}
	}
}

// Summary verdict lines after the end-of-run separator must not produce
// duplicate results.
func TestParserTrailerSuppression(t *testing.T) {
	p := NewParser()
	got := results(p.Feed([]byte(sampleRun)))
	seen := make(map[string]int)
	for _, r := range got {
		seen[r.TestName]++
	}
	if seen["FooTest.Breaks"] != 1 {
		t.Errorf("FooTest.Breaks reported %d times, want 1", seen["FooTest.Breaks"])
	}
	if seen["1"] != 0 {
		t.Errorf("summary count line parsed as result %d times, want 0", seen["1"])
	}
}

func TestParserSnippetContent(t *testing.T) {
	p := NewParser()
	got := results(p.Feed([]byte(sampleRun)))
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	snippet := got[1].Snippet
	if !bytes.HasPrefix(snippet, []byte("[ RUN      ] FooTest.Breaks")) {
		t.Errorf("snippet does not start with RUN line: %q", snippet)
	}
	if !bytes.HasSuffix(snippet, []byte("[  FAILED  ] FooTest.Breaks (3 ms)\n")) {
		t.Errorf("snippet does not end with verdict line: %q", snippet)
	}
	if !bytes.Contains(snippet, []byte("foo.cc:42: Failure")) {
		t.Errorf("snippet missing failure output: %q", snippet)
	}
}

// Every input byte must end up in exactly one segment, in stream order.
func TestParserReassembly(t *testing.T) {
	p := NewParser()
	var out bytes.Buffer
	for _, s := range p.Feed([]byte(sampleRun)) {
		if s.Result != nil {
			out.Write(s.Result.Snippet)
		} else {
			out.Write(s.Spill)
		}
	}
	if out.String() != sampleRun {
		t.Errorf("reassembled output differs from input:\ngot  %q\nwant %q", out.String(), sampleRun)
	}
}

// Chunk boundaries must never change the parse.
func TestParserChunked(t *testing.T) {
	whole := results(NewParser().Feed([]byte(sampleRun)))

	p := NewParser()
	var got []*Result
	for i := 0; i < len(sampleRun); i += 7 {
		end := i + 7
		if end > len(sampleRun) {
			end = len(sampleRun)
		}
		got = append(got, results(p.Feed([]byte(sampleRun[i:end])))...)
	}
	if len(got) != len(whole) {
		t.Fatalf("chunked parse got %d results, want %d", len(got), len(whole))
	}
	for i := range got {
		if got[i].TestName != whole[i].TestName || got[i].Verdict != whole[i].Verdict {
			t.Errorf("chunked result %d = %s/%s, want %s/%s",
				i, got[i].TestName, got[i].Verdict, whole[i].TestName, whole[i].Verdict)
		}
		if !bytes.Equal(got[i].Snippet, whole[i].Snippet) {
			t.Errorf("chunked result %d snippet differs", i)
		}
	}
}

func TestParserDrainOpenSnippet(t *testing.T) {
	p := NewParser()
	p.Feed([]byte("[ RUN      ] FooTest.Hangs\npartial output\n"))
	if got := p.Current(); got != "FooTest.Hangs" {
		t.Errorf("Current() = %q, want %q", got, "FooTest.Hangs")
	}
	name, snippet, tail := p.Drain()
	if name != "FooTest.Hangs" {
		t.Errorf("Drain() name = %q, want %q", name, "FooTest.Hangs")
	}
	if !bytes.Contains(snippet, []byte("partial output")) {
		t.Errorf("Drain() snippet missing buffered output: %q", snippet)
	}
	if len(tail) != 0 {
		t.Errorf("Drain() tail = %q, want empty", tail)
	}
	if got := p.Current(); got != "" {
		t.Errorf("Current() after Drain = %q, want empty", got)
	}
}

func TestImportParserCrashMarker(t *testing.T) {
	input := "noise\n" +
		"[ RUN      ] FooTest.Dies\n" +
		"dying output\n" +
		"[  CRASHED ] FooTest.Dies\n" +
		"[----------] Exit code: 134\n"
	p := NewImportParser()
	got := results(p.Feed([]byte(input)))
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	r := got[0]
	if r.TestName != "FooTest.Dies" {
		t.Errorf("name = %q, want %q", r.TestName, "FooTest.Dies")
	}
	if r.Verdict != model.VerdictCrash {
		t.Errorf("verdict = %q, want %q", r.Verdict, model.VerdictCrash)
	}
	if want := int64(len("noise\n")); r.Offset != want {
		t.Errorf("offset = %d, want %d", r.Offset, want)
	}
	if want := int64(len(input) - len("noise\n") - len("[----------] Exit code: 134\n")); int64(len(r.Snippet)) != want {
		t.Errorf("snippet length = %d, want %d", len(r.Snippet), want)
	}
}

// The live parser must not treat a CRASHED line in worker output as a
// verdict; only imported traces carry synthesized crash markers.
func TestLiveParserIgnoresCrashMarker(t *testing.T) {
	input := "[ RUN      ] FooTest.Tricky\n" +
		"[  CRASHED ] FooTest.Tricky\n" +
		"[       OK ] FooTest.Tricky (1 ms)\n"
	got := results(NewParser().Feed([]byte(input)))
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	if got[0].Verdict != model.VerdictPass {
		t.Errorf("verdict = %q, want %q", got[0].Verdict, model.VerdictPass)
	}
}

func TestImportParserFlush(t *testing.T) {
	input := "[ RUN      ] FooTest.Cut\n[       OK ] FooTest.Cut (2 ms)"
	p := NewImportParser()
	segs := p.Feed([]byte(input))
	segs = append(segs, p.Flush()...)
	got := results(segs)
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	if got[0].TestName != "FooTest.Cut" || got[0].Verdict != model.VerdictPass {
		t.Errorf("result = %s/%s, want FooTest.Cut/%s", got[0].TestName, got[0].Verdict, model.VerdictPass)
	}
}

func TestFailLocation(t *testing.T) {
	tests := []struct {
		snippet  string
		wantFile string
		wantLine int
	}{
		{"[ RUN      ] A.B\n/src/deep/foo.cc:42: Failure\nboom\n", "foo.cc", 42},
		{"[ RUN      ] A.B\nbar.cpp:7: Failure\n", "bar.cpp", 7},
		{"[ RUN      ] A.B\nno failure here\n", "", 0},
	}
	for _, tt := range tests {
		file, line := FailLocation([]byte(tt.snippet))
		if file != tt.wantFile || line != tt.wantLine {
			t.Errorf("FailLocation(%q) = (%q, %d), want (%q, %d)",
				tt.snippet, file, line, tt.wantFile, tt.wantLine)
		}
	}
}

func TestExtractSeed(t *testing.T) {
	re := regexp.MustCompile(`(?m)^Seed: (\d+)`)
	snippet := []byte("[ RUN      ] A.B\nSeed: 12345\n[       OK ] A.B (0 ms)\n")
	if got := ExtractSeed(re, snippet); got != "12345" {
		t.Errorf("ExtractSeed() = %q, want %q", got, "12345")
	}
	if got := ExtractSeed(nil, snippet); got != "" {
		t.Errorf("ExtractSeed(nil) = %q, want empty", got)
	}
	if got := ExtractSeed(re, []byte("no seed")); got != "" {
		t.Errorf("ExtractSeed(no match) = %q, want empty", got)
	}
}
