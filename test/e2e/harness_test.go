package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	startupTimeout = 10 * time.Second
	doneTimeout    = 30 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// serverProc holds the running server subprocess and its output.
type serverProc struct {
	cmd    *exec.Cmd
	stdout *lockedBuffer
	url    string
}

var (
	builtServer string
	builtSim    string
	buildOnce   sync.Once
	buildErr    error
)

// getBinaries builds the server and the simulated test executable once
// per test run.
func getBinaries(t *testing.T) (server, sim string) {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "gtrunner-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		root := findRepoRoot(t)
		for _, b := range []struct {
			name string
			pkg  string
			out  *string
		}{
			{"gtrunner", "./cmd/gtrunner", &builtServer},
			{"gtestsim", "./cmd/gtestsim", &builtSim},
		} {
			binary := filepath.Join(dir, b.name)
			cmd := exec.Command("go", "build", "-o", binary, b.pkg)
			cmd.Dir = root
			out, err := cmd.CombinedOutput()
			if err != nil {
				buildErr = fmt.Errorf("go build %s failed: %w\n%s", b.pkg, err, out)
				return
			}
			*b.out = binary
		}
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return builtServer, builtSim
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

// startServer boots a server subprocess with its own database and trace
// directory. Extra environment entries steer the simulated executable,
// which inherits the server's environment.
func startServer(t *testing.T, binary string, extraEnv ...string) *serverProc {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	workDir := t.TempDir()

	stdout := &lockedBuffer{}
	cmd := exec.Command(binary)
	cmd.Env = append(os.Environ(),
		"GTRUNNER_LISTEN_ADDR="+addr,
		"GTRUNNER_DB_PATH="+filepath.Join(workDir, "gtrunner.db"),
		"GTRUNNER_TRACE_DIR="+filepath.Join(workDir, "traces"),
		"GTRUNNER_LOG_LEVEL=info",
	)
	cmd.Env = append(cmd.Env, extraEnv...)
	cmd.Stdout = stdout
	cmd.Stderr = stdout

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}

	sp := &serverProc{
		cmd:    cmd,
		stdout: stdout,
		url:    "http://" + addr,
	}

	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(sp.url + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				return sp
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("server did not become ready within %v\nstdout:\n%s", startupTimeout, stdout.String())
	return nil
}

// doJSON sends a request with an optional JSON body and decodes the
// response into out when it is non-nil. It returns the status code.
func doJSON(t *testing.T, method, url string, body string, out any) int {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if out != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("decode %s %s response: %v\nbody: %s", method, url, err, raw)
		}
	}
	return resp.StatusCode
}

// registerSim points the server at the simulated test executable.
func registerSim(t *testing.T, sp *serverProc, sim string) {
	t.Helper()

	var info struct {
		TestCount int `json:"test_count"`
	}
	status := doJSON(t, http.MethodPut, sp.url+"/v1/executable", fmt.Sprintf(`{"path":%q}`, sim), &info)
	if status != 200 {
		t.Fatalf("PUT /v1/executable: status = %d, want 200\nstdout:\n%s", status, sp.stdout.String())
	}
	if info.TestCount == 0 {
		t.Fatal("executable registered with zero tests")
	}
}

// startCampaign posts a campaign and returns its ID.
func startCampaign(t *testing.T, sp *serverProc, body string) string {
	t.Helper()

	var camp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	status := doJSON(t, http.MethodPost, sp.url+"/v1/campaigns", body, &camp)
	if status != 202 {
		t.Fatalf("POST /v1/campaigns: status = %d, want 202\nstdout:\n%s", status, sp.stdout.String())
	}
	if camp.ID == "" {
		t.Fatal("campaign response missing id")
	}
	return camp.ID
}

// waitCampaignDone polls until the campaign reaches a terminal status
// and returns that status.
func waitCampaignDone(t *testing.T, sp *serverProc, id string) string {
	t.Helper()

	deadline := time.Now().Add(doneTimeout)
	for time.Now().Before(deadline) {
		var camp struct {
			Status string `json:"status"`
		}
		if status := doJSON(t, http.MethodGet, sp.url+"/v1/campaigns/"+id, "", &camp); status != 200 {
			t.Fatalf("GET /v1/campaigns/%s: status = %d", id, status)
		}
		if camp.Status == "done" || camp.Status == "failed" {
			return camp.Status
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("campaign %s did not finish within %v\nstdout:\n%s", id, doneTimeout, sp.stdout.String())
	return ""
}

// campaignStats fetches the aggregate counters for a campaign.
func campaignStats(t *testing.T, sp *serverProc, id string) map[string]any {
	t.Helper()

	var stats map[string]any
	if status := doJSON(t, http.MethodGet, sp.url+"/v1/campaigns/"+id+"/stats", "", &stats); status != 200 {
		t.Fatalf("GET stats: status = %d", status)
	}
	return stats
}
