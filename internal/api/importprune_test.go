package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

const importedTrace = `[ RUN      ] Net.Connect
[       OK ] Net.Connect (3 ms)
[ RUN      ] Net.Timeout
net_test.cc:42: Failure
[  FAILED  ] Net.Timeout (8 ms)
`

func TestImportFilesEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	path := filepath.Join(t.TempDir(), "trace.0")
	if err := os.WriteFile(path, []byte(importedTrace), 0o644); err != nil {
		t.Fatalf("write trace: %v", err)
	}

	body, _ := json.Marshal(importRequest{Files: []string{path}})
	resp, err := http.Post(ts.URL+"/v1/import", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/import: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out importResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode import response: %v", err)
	}
	if out.Imported != 2 || out.Warning != "" {
		t.Errorf("import = %+v, want 2 results and no warning", out)
	}

	list := listResults(t, ts, "?origin=file")
	if list.Total != 2 {
		t.Errorf("imported results = %d, want 2", list.Total)
	}
}

func TestImportValidation(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	post := func(body string) int {
		t.Helper()
		resp, err := http.Post(ts.URL+"/v1/import", "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("POST /v1/import: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := post(`{}`); code != http.StatusBadRequest {
		t.Errorf("empty request: status = %d, want 400", code)
	}
	if code := post(`{"files":["x"],"scan":true}`); code != http.StatusBadRequest {
		t.Errorf("files and scan: status = %d, want 400", code)
	}
	if code := post(`{"files":["/nonexistent/trace.0"]}`); code != http.StatusBadRequest {
		t.Errorf("missing file: status = %d, want 400", code)
	}
}

func TestPruneEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := runCampaign(t, ts)
	failed := listResults(t, ts, "?campaign="+id+"&failed=true")
	if len(failed.Results) != 1 || failed.Results[0].TraceFile == "" {
		t.Fatalf("failed results = %+v, want one with a trace file", failed.Results)
	}

	resp, err := http.Post(ts.URL+"/v1/prune", "application/json", bytes.NewBufferString(`{"keep_failed":false}`))
	if err != nil {
		t.Fatalf("POST /v1/prune: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out pruneResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode prune response: %v", err)
	}
	if out.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", out.Deleted)
	}

	// The deleted trace is no longer reachable through the result.
	trace, err := http.Get(fmt.Sprintf("%s/v1/results/%d/trace", ts.URL, failed.Results[0].ID))
	if err != nil {
		t.Fatalf("GET trace after prune: %v", err)
	}
	trace.Body.Close()
	if trace.StatusCode != http.StatusNotFound {
		t.Errorf("trace after prune: status = %d, want 404", trace.StatusCode)
	}
}
