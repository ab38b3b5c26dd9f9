// Package tracestore manages the tree of trace output files and the
// core dumps and executable copies stored alongside them. The tree root
// is a configured directory with one subdirectory per executable
// timestamp, holding numbered trace files written by worker processes.
package tracestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	traceDirRE  = regexp.MustCompile(`^trace\.\d+$`)
	traceFileRE = regexp.MustCompile(`^trace\.(\d+)$`)
)

// Store locates and maintains trace files under a root directory.
type Store struct {
	root    string
	copyExe bool
}

// New returns a store rooted at dir, or the current directory when dir
// is empty. The root is resolved to an absolute path because worker
// processes run with their working directory inside the tree.
// copyExecutable enables keeping a copy of the test executable inside
// each campaign's trace directory.
func New(dir string, copyExecutable bool) *Store {
	if dir == "" {
		dir = "."
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return &Store{root: dir, copyExe: copyExecutable}
}

// Dir returns the trace directory for one executable timestamp.
func (s *Store) Dir(stamp int64) string {
	return filepath.Join(s.root, fmt.Sprintf("trace.%d", stamp))
}

// FilePath returns the trace file path for the given index within the
// directory of the given executable timestamp.
func (s *Store) FilePath(stamp int64, idx int) string {
	return filepath.Join(s.Dir(stamp), fmt.Sprintf("trace.%d", idx))
}

// EnsureDir creates the trace directory for an executable timestamp.
func (s *Store) EnsureDir(stamp int64) error {
	if err := os.MkdirAll(s.Dir(stamp), 0o755); err != nil {
		return fmt.Errorf("create trace directory: %w", err)
	}
	return nil
}

// FirstFreeIndex returns the lowest trace file index not yet present in
// the directory of the given executable timestamp.
func (s *Store) FirstFreeIndex(stamp int64) (int, error) {
	entries, err := os.ReadDir(s.Dir(stamp))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scan trace directory: %w", err)
	}
	free := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := traceFileRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if idx >= free {
			free = idx + 1
		}
	}
	return free, nil
}

// Scan returns every trace file found in the directory tree, for bulk
// import at startup.
func (s *Store) Scan() ([]string, error) {
	base, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("scan trace root: %w", err)
	}
	var files []string
	for _, dir := range base {
		if !dir.IsDir() || !traceDirRE.MatchString(dir.Name()) {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(s.root, dir.Name()))
		if err != nil {
			return nil, fmt.Errorf("scan trace directory: %w", err)
		}
		for _, e := range entries {
			if !e.IsDir() && traceFileRE.MatchString(e.Name()) {
				files = append(files, filepath.Join(s.root, dir.Name(), e.Name()))
			}
		}
	}
	return files, nil
}

// CoreFilePath returns the name under which a core dump belonging to
// the given trace file is stored, alongside the trace file itself.
func CoreFilePath(traceFile string, valgrind bool) string {
	dir, base := filepath.Split(traceFile)
	name := "core." + base
	if valgrind {
		name = "vgcore." + base
	}
	return filepath.Join(dir, name)
}

// ExeCopyPath returns the path of the executable copy inside the trace
// directory of the given timestamp. When copying is disabled the
// original path is returned.
func (s *Store) ExeCopyPath(exe string, stamp int64) string {
	if !s.copyExe {
		return exe
	}
	return filepath.Join(s.Dir(stamp), filepath.Base(exe))
}

// LinkExecutable ensures the trace directory holds a copy of the
// executable and returns the path workers should run. A hard link is
// attempted first, then a plain copy. On failure the original path is
// returned along with the error so the caller can fall back.
func (s *Store) LinkExecutable(exe string, stamp int64) (string, error) {
	if !s.copyExe {
		return exe, nil
	}
	link := s.ExeCopyPath(exe, stamp)
	if info, err := os.Stat(link); err == nil && info.Mode().Perm()&0o111 != 0 {
		return link, nil
	}
	if err := os.Link(exe, link); err == nil {
		return link, nil
	}
	if err := copyFile(exe, link); err != nil {
		return exe, fmt.Errorf("copy executable: %w", err)
	}
	return link, nil
}

// ReleaseExeCopy removes the executable copy once no core dumps remain
// in its trace directory, and the directory itself once empty.
func (s *Store) ReleaseExeCopy(exe string, stamp int64) {
	if !s.copyExe || exe == "" || stamp == 0 {
		return
	}
	dir := s.Dir(stamp)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "core.") || strings.HasPrefix(name, "vgcore.") {
			return
		}
	}
	link := s.ExeCopyPath(exe, stamp)
	if err := os.Remove(link); err != nil {
		return
	}
	if len(entries) == 1 {
		os.Remove(dir)
	}
}

// ExeRef identifies one executable version whose copy may be removed.
type ExeRef struct {
	Path  string
	Stamp int64
}

// Remove deletes the given trace or core files plus the executable
// copies of the given versions, then removes directories left empty.
func (s *Store) Remove(files []string, exeRefs []ExeRef) {
	if s.copyExe {
		for _, ref := range exeRefs {
			files = append(files, s.ExeCopyPath(ref.Path, ref.Stamp))
		}
	}
	dirs := make(map[string]bool)
	for _, f := range files {
		if f == "" {
			continue
		}
		os.Remove(f)
		dirs[filepath.Dir(f)] = true
	}
	for dir := range dirs {
		if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
			os.Remove(dir)
		}
	}
}

// Extract reads one snippet out of a trace file.
func Extract(file string, off, length int64) ([]byte, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	buf := make([]byte, length)
	n, err := f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read trace file: %w", err)
	}
	return buf[:n], nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
