package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/seantiz/gtrunner/internal/engine"
	"github.com/seantiz/gtrunner/internal/model"
	"github.com/seantiz/gtrunner/internal/runner"
	"github.com/seantiz/gtrunner/internal/store"
	"github.com/seantiz/gtrunner/internal/tracestore"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	dir := t.TempDir()
	st, err := store.NewSQLiteStore(filepath.Join(dir, "api_test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	traces := tracestore.New(filepath.Join(dir, "traces"), false)
	reg := runner.NewRegistry()
	reg.Register(model.RunModeDirect, runner.Direct{})
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	eng := engine.NewEngine(st, traces, reg, nil, logger)
	t.Cleanup(eng.Shutdown)

	return NewServer(":0", st, eng, reg, Defaults{Jobs: 2}, logger)
}

// writeExe writes a shell script standing in for a GoogleTest binary.
// It answers --gtest_list_tests with two test cases and otherwise runs
// the given body.
func writeExe(t *testing.T, dir, body string) string {
	t.Helper()
	script := `#!/bin/sh
for a in "$@"; do
  case "$a" in
    --gtest_list_tests) printf 'Calc.\n  Add\n  Sub\n'; exit 0 ;;
  esac
done
` + body
	path := filepath.Join(dir, "calc_test")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("failed to write executable: %v", err)
	}
	return path
}

const passFailBody = `printf '[ RUN      ] Calc.Add\n'
printf '[       OK ] Calc.Add (1 ms)\n'
printf '[ RUN      ] Calc.Sub\n'
printf 'calc_test.cc:7: Failure\n'
printf '[  FAILED  ] Calc.Sub (2 ms)\n'
exit 1
`

// gatedBody emits one result, then waits for a "go" file next to the
// executable before finishing. Sleeps are kept short so no orphaned
// child holds the output pipe open after a kill.
const gatedBody = `d=$(dirname "$0")
printf '[ RUN      ] Calc.Add\n'
printf '[       OK ] Calc.Add (1 ms)\n'
while [ ! -f "$d/go" ]; do sleep 0.05; done
printf '[ RUN      ] Calc.Sub\n'
printf '[       OK ] Calc.Sub (1 ms)\n'
`

// putExecutable configures the engine's executable through the API.
func putExecutable(t *testing.T, ts *httptest.Server, exe string) engine.ExecutableInfo {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"path": exe})
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/v1/executable", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /v1/executable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("PUT /v1/executable status = %d, body %s", resp.StatusCode, msg)
	}

	var info engine.ExecutableInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode executable info: %v", err)
	}
	return info
}

// startCampaign posts a campaign and returns the accepted record.
func startCampaign(t *testing.T, ts *httptest.Server, body string) model.Campaign {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/campaigns", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/campaigns: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("POST /v1/campaigns status = %d, body %s", resp.StatusCode, msg)
	}

	var c model.Campaign
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		t.Fatalf("decode campaign: %v", err)
	}
	return c
}

// waitCampaignStatus polls the campaign endpoint until it reports the
// wanted status.
func waitCampaignStatus(t *testing.T, ts *httptest.Server, id, status string) model.Campaign {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/v1/campaigns/" + id)
		if err != nil {
			t.Fatalf("GET /v1/campaigns/%s: %v", id, err)
		}
		var c model.Campaign
		err = json.NewDecoder(resp.Body).Decode(&c)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode campaign: %v", err)
		}
		if c.Status == status {
			return c
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("campaign %s never reached status %q", id, status)
	return model.Campaign{}
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/healthz", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /healthz: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}
