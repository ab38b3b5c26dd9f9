package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seantiz/gtrunner/internal/model"
)

func getTestStats(t *testing.T, ts *httptest.Server, query string) map[string]*model.TestCaseStats {
	t.Helper()
	resp, err := http.Get(ts.URL + "/v1/teststats" + query)
	if err != nil {
		t.Fatalf("GET /v1/teststats%s: %v", query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /v1/teststats%s status = %d, want 200", query, resp.StatusCode)
	}

	var out testStatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode test stats: %v", err)
	}

	byName := make(map[string]*model.TestCaseStats, len(out.Stats))
	for _, st := range out.Stats {
		byName[st.TestName] = st
	}
	return byName
}

func TestTestCaseStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := runCampaign(t, ts)

	stats := getTestStats(t, ts, "?campaign="+id)
	if len(stats) != 2 {
		t.Fatalf("len(stats) = %d, want 2", len(stats))
	}
	if st := stats["Calc.Add"]; st == nil || st.Pass != 1 || st.Fail != 0 {
		t.Errorf("Calc.Add stats = %+v, want 1 pass", st)
	}
	if st := stats["Calc.Sub"]; st == nil || st.Fail != 1 {
		t.Errorf("Calc.Sub stats = %+v, want 1 fail", st)
	}

	filtered := getTestStats(t, ts, "?pattern=Calc.Add")
	if len(filtered) != 1 || filtered["Calc.Add"] == nil {
		t.Errorf("pattern filter returned %d rows, want Calc.Add only", len(filtered))
	}
}

func TestRepeatRequestEndpoints(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := runCampaign(t, ts)

	do := func(method, path string) repeatResponse {
		t.Helper()
		req, _ := http.NewRequest(method, ts.URL+path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s %s status = %d, want 200", method, path, resp.StatusCode)
		}
		var out repeatResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode repeat response: %v", err)
		}
		return out
	}

	out := do(http.MethodPut, "/v1/teststats/Calc.Sub/repeat")
	if out.TestName != "Calc.Sub" || !out.Requested {
		t.Errorf("mark = %+v, want Calc.Sub requested", out)
	}

	stats := getTestStats(t, ts, "?campaign="+id)
	if st := stats["Calc.Sub"]; st == nil || !st.RepeatRequested {
		t.Errorf("Calc.Sub stats = %+v, want repeat_requested", st)
	}

	out = do(http.MethodDelete, "/v1/teststats/Calc.Sub/repeat")
	if out.Requested {
		t.Errorf("unmark = %+v, want requested false", out)
	}

	stats = getTestStats(t, ts, "?campaign="+id)
	if st := stats["Calc.Sub"]; st == nil || st.RepeatRequested {
		t.Errorf("Calc.Sub stats = %+v, want repeat_requested cleared", st)
	}
}
