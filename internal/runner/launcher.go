package runner

import (
	"fmt"
	"sort"
	"sync"
)

// Launcher shapes how a worker process is invoked. Direct execution runs
// the test executable as-is; checker launchers wrap it in an external
// checker command such as valgrind.
type Launcher interface {
	// Command returns the whitespace-separated checker command prefix,
	// or an empty string for direct execution.
	Command() string

	// CheckerExit returns the exit code reserved for checker-detected
	// errors, or zero when the launcher does not use one.
	CheckerExit() int

	// Valgrind reports whether worker core files follow valgrind naming
	// conventions.
	Valgrind() bool
}

// Direct runs the test executable without a wrapper.
type Direct struct{}

func (Direct) Command() string  { return "" }
func (Direct) CheckerExit() int { return 0 }
func (Direct) Valgrind() bool   { return false }

// Valgrind wraps the test executable in a valgrind command line.
// ErrorExit is appended as --error-exitcode so checker findings are
// distinguishable from ordinary test failures.
type Valgrind struct {
	Cmd       string
	ErrorExit int
}

func (v Valgrind) Command() string  { return v.Cmd }
func (v Valgrind) CheckerExit() int { return v.ErrorExit }
func (Valgrind) Valgrind() bool     { return true }

// LauncherInfo describes one registered launcher.
type LauncherInfo struct {
	Mode     string `json:"mode"`
	Command  string `json:"command,omitempty"`
	Valgrind bool   `json:"valgrind"`
}

// Registry holds the launchers available to campaigns, keyed by run
// mode.
type Registry struct {
	mu        sync.RWMutex
	launchers map[string]Launcher
}

// NewRegistry creates an empty launcher registry.
func NewRegistry() *Registry {
	return &Registry{
		launchers: make(map[string]Launcher),
	}
}

// Register adds a launcher under the given run mode, replacing any
// previous registration for that mode.
func (r *Registry) Register(mode string, l Launcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.launchers[mode] = l
}

// Resolve returns the launcher registered for a run mode.
func (r *Registry) Resolve(mode string) (Launcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.launchers[mode]
	if !ok {
		return nil, fmt.Errorf("run mode %q is not registered", mode)
	}
	return l, nil
}

// List returns information about all registered launchers, sorted by
// run mode for a stable API response.
func (r *Registry) List() []LauncherInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]LauncherInfo, 0, len(r.launchers))
	for mode, l := range r.launchers {
		infos = append(infos, LauncherInfo{
			Mode:     mode,
			Command:  l.Command(),
			Valgrind: l.Valgrind(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Mode < infos[j].Mode
	})
	return infos
}
