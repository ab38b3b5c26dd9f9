package gtest

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/seantiz/gtrunner/internal/model"
)

// Marker lines recognized in GoogleTest console output. The CRASHED
// marker is synthesized by the runner for aborted workers; GoogleTest
// itself never prints it, so only the import parser accepts it.
var (
	liveMarkers = regexp.MustCompile(
		`(?m)^\[( +RUN +| +OK +| +FAILED +| +SKIPPED +|----------|==========)\] +` +
			`(\S+)(?:\s+\((\d+)\s*ms\))?[^\n\r]*[\r\n]`)
	importMarkers = regexp.MustCompile(
		`(?m)^\[( +RUN +| +OK +| +FAILED +| +SKIPPED +| +CRASHED +|----------|==========)\] +` +
			`(\S+)(?:\s+\((\d+)\s*ms\))?[^\n\r]*[\r\n]`)
	failLocation = regexp.MustCompile(`(?m)^(.*):([0-9]+): Failure`)
)

// Result is one completed test case snippet extracted from the stream.
type Result struct {
	TestName   string
	Verdict    string
	DurationMS int64
	Snippet    []byte
	// Offset is the absolute stream offset at which the snippet started.
	// For import parsers fed from the start of a file this is the file
	// offset of the snippet.
	Offset int64
}

// Segment is a contiguous classified piece of the output stream. Exactly
// one of Result and Spill is set. Spill is output belonging to no test
// case and passes through to the trace file unmodified.
type Segment struct {
	Result *Result
	Spill  []byte
}

// Parser incrementally segments a GoogleTest output stream into
// per-test-case snippets. A snippet spans from the [ RUN ] line through
// the terminating verdict line inclusive, with any interleaved output in
// between. Verdict lines repeated in the end-of-run summary (after a
// separator marker) are not results. Incomplete trailing lines stay
// buffered until the line completes.
type Parser struct {
	re         *regexp.Regexp
	useRunName bool

	buf       []byte
	off       int64 // absolute stream offset of buf[0]
	name      []byte
	snippet   []byte
	snippetAt int64
	trailer   bool
	total     int64
}

// NewParser returns a parser for live worker output. Results are named
// after the verdict line.
func NewParser() *Parser {
	return &Parser{re: liveMarkers}
}

// NewImportParser returns a parser for trace files written by earlier
// runs. It additionally accepts the CRASHED marker and names results
// after the opening RUN line.
func NewImportParser() *Parser {
	return &Parser{re: importMarkers, useRunName: true}
}

// Feed consumes the next chunk of stream data and returns the segments
// completed by it, in stream order.
func (p *Parser) Feed(data []byte) []Segment {
	p.total += int64(len(data))
	p.buf = append(p.buf, data...)

	var segs []Segment
	done := 0
	for _, m := range p.re.FindAllSubmatchIndex(p.buf, -1) {
		marker := p.buf[m[2]:m[3]]
		verdict := verdictFor(marker)
		switch {
		case bytes.Contains(marker, []byte("RUN")):
			// A RUN while a snippet is open means the previous verdict
			// line was lost; the stale snippet passes through as spill.
			if len(p.snippet) > 0 {
				segs = append(segs, Segment{Spill: p.snippet})
			}
			segs = appendSpill(segs, p.buf[done:m[0]])
			p.name = bytes.Clone(p.buf[m[4]:m[5]])
			p.snippet = bytes.Clone(p.buf[m[0]:m[1]])
			p.snippetAt = p.off + int64(m[0])
			p.trailer = false

		case verdict != "" && !p.trailer:
			p.snippet = append(p.snippet, p.buf[done:m[1]]...)
			name := p.buf[m[4]:m[5]]
			if p.useRunName && len(p.name) > 0 {
				name = p.name
			}
			segs = append(segs, Segment{Result: &Result{
				TestName:   string(name),
				Verdict:    verdict,
				DurationMS: duration(p.buf, m),
				Snippet:    p.snippet,
				Offset:     p.snippetAt,
			}})
			p.snippet = nil
			p.name = nil

		default:
			// Separator, or a verdict line within the summary trailer.
			if len(p.snippet) > 0 {
				segs = append(segs, Segment{Spill: p.snippet})
			}
			segs = appendSpill(segs, p.buf[done:m[1]])
			p.snippet = nil
			p.name = nil
			p.trailer = true
		}
		done = m[1]
	}

	last := lastLineStart(p.buf, done)
	if len(p.snippet) > 0 {
		p.snippet = append(p.snippet, p.buf[done:last]...)
	} else {
		segs = appendSpill(segs, p.buf[done:last])
	}
	p.off += int64(last)
	p.buf = append(p.buf[:0], p.buf[last:]...)
	return segs
}

// Flush processes a final unterminated line as if a newline followed.
// Trace files of killed workers occasionally end mid-line.
func (p *Parser) Flush() []Segment {
	if len(p.buf) == 0 || p.buf[len(p.buf)-1] == '\n' {
		return nil
	}
	return p.Feed([]byte("\n"))
}

// Drain returns the open snippet and the unclassified buffered tail,
// leaving the parser empty. The name is empty when no snippet is open.
func (p *Parser) Drain() (name string, snippet, tail []byte) {
	if len(p.snippet) > 0 {
		name = string(p.name)
	}
	snippet, tail = p.snippet, p.buf
	p.snippet, p.name, p.buf = nil, nil, nil
	return name, snippet, tail
}

// Current returns the test name of the open snippet, or "".
func (p *Parser) Current() string {
	if len(p.snippet) == 0 {
		return ""
	}
	return string(p.name)
}

// InputBytes returns the total number of stream bytes fed so far.
func (p *Parser) InputBytes() int64 {
	return p.total
}

func verdictFor(marker []byte) string {
	switch {
	case bytes.Contains(marker, []byte("OK")):
		return model.VerdictPass
	case bytes.Contains(marker, []byte("SKIPPED")):
		return model.VerdictSkip
	case bytes.Contains(marker, []byte("FAILED")):
		return model.VerdictFail
	case bytes.Contains(marker, []byte("CRASHED")):
		return model.VerdictCrash
	}
	return ""
}

func duration(buf []byte, m []int) int64 {
	if m[6] < 0 {
		return 0
	}
	d, err := strconv.ParseInt(string(buf[m[6]:m[7]]), 10, 64)
	if err != nil {
		return 0
	}
	return d
}

func appendSpill(segs []Segment, b []byte) []Segment {
	if len(b) == 0 {
		return segs
	}
	return append(segs, Segment{Spill: bytes.Clone(b)})
}

func lastLineStart(buf []byte, off int) int {
	if i := bytes.LastIndexByte(buf[off:], '\n'); i >= 0 {
		return off + i + 1
	}
	return off
}

// FailLocation extracts the source file basename and line number of the
// first failure report within a snippet.
func FailLocation(snippet []byte) (string, int) {
	m := failLocation.FindSubmatch(snippet)
	if m == nil {
		return "", 0
	}
	line, err := strconv.Atoi(string(m[2]))
	if err != nil {
		return "", 0
	}
	return filepath.Base(string(m[1])), line
}

// ExtractSeed applies a configured seed expression to a snippet and
// returns the first capture group of the first match, or "".
func ExtractSeed(re *regexp.Regexp, snippet []byte) string {
	if re == nil {
		return ""
	}
	m := re.FindSubmatch(snippet)
	if m == nil || len(m) < 2 {
		return ""
	}
	return string(m[1])
}
