package e2e

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

// The simulator's built-in suite has seven tests; six are runnable, one
// is disabled.
const simRunnable = 6

func TestCampaignLifecycle(t *testing.T) {
	server, sim := getBinaries(t)
	sp := startServer(t, server, "GTESTSIM_FAIL=Map.Erase")
	registerSim(t, sp, sim)

	id := startCampaign(t, sp, `{"jobs":2}`)
	if status := waitCampaignDone(t, sp, id); status != "done" {
		t.Fatalf("campaign status = %q, want done", status)
	}

	stats := campaignStats(t, sp, id)
	if got := stats["pass"].(float64); got != simRunnable-1 {
		t.Errorf("pass = %v, want %d", got, simRunnable-1)
	}
	if got := stats["fail"].(float64); got != 1 {
		t.Errorf("fail = %v, want 1", got)
	}
	if got := stats["completed"].(float64); got != simRunnable {
		t.Errorf("completed = %v, want %d", got, simRunnable)
	}

	// The failure is attributed to the right test and carries a trace.
	var page struct {
		Results []struct {
			ID       int64  `json:"id"`
			TestName string `json:"test_name"`
			Verdict  string `json:"verdict"`
		} `json:"results"`
		Total int `json:"total"`
	}
	if status := doJSON(t, http.MethodGet, sp.url+"/v1/results?campaign="+id+"&failed=true", "", &page); status != 200 {
		t.Fatalf("GET /v1/results: status = %d", status)
	}
	if page.Total != 1 || page.Results[0].TestName != "Map.Erase" {
		t.Fatalf("failed results = %+v, want one Map.Erase", page.Results)
	}

	resp, err := http.Get(fmt.Sprintf("%s/v1/results/%d/trace", sp.url, page.Results[0].ID))
	if err != nil {
		t.Fatalf("GET trace: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("trace status = %d, want 200", resp.StatusCode)
	}
	trace, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(trace), "Map.Erase") {
		t.Errorf("trace does not mention the failing test:\n%s", trace)
	}
}

func TestCampaignFilter(t *testing.T) {
	server, sim := getBinaries(t)
	sp := startServer(t, server)
	registerSim(t, sp, sim)

	id := startCampaign(t, sp, `{"filter":"Vector.*","jobs":1}`)
	if status := waitCampaignDone(t, sp, id); status != "done" {
		t.Fatalf("campaign status = %q, want done", status)
	}

	stats := campaignStats(t, sp, id)
	if got := stats["expected"].(float64); got != 2 {
		t.Errorf("expected = %v, want 2 (disabled test excluded)", got)
	}
	if got := stats["pass"].(float64); got != 2 {
		t.Errorf("pass = %v, want 2", got)
	}
}

func TestCampaignRejectsUnmatchedFilter(t *testing.T) {
	server, sim := getBinaries(t)
	sp := startServer(t, server)
	registerSim(t, sp, sim)

	status := doJSON(t, http.MethodPost, sp.url+"/v1/campaigns", `{"filter":"Nope.*"}`, nil)
	if status != 400 {
		t.Errorf("status = %d, want 400 for a filter matching nothing", status)
	}
}

func TestResumeSkipsPassedTests(t *testing.T) {
	server, sim := getBinaries(t)
	sp := startServer(t, server, "GTESTSIM_FAIL=Map.Erase")
	registerSim(t, sp, sim)

	first := startCampaign(t, sp, `{"jobs":2}`)
	waitCampaignDone(t, sp, first)

	// Only the failure is scheduled again.
	second := startCampaign(t, sp, `{"jobs":2,"resume":true}`)
	var camp struct {
		Expected int `json:"expected"`
	}
	if status := doJSON(t, http.MethodGet, sp.url+"/v1/campaigns/"+second, "", &camp); status != 200 {
		t.Fatalf("GET campaign: status = %d", status)
	}
	if camp.Expected != 1 {
		t.Errorf("expected = %d, want 1", camp.Expected)
	}
	waitCampaignDone(t, sp, second)
}

func TestMaxFailStopsCampaign(t *testing.T) {
	server, sim := getBinaries(t)
	sp := startServer(t, server, "GTESTSIM_FAIL=*", "GTESTSIM_SLEEP_MS=50")
	registerSim(t, sp, sim)

	id := startCampaign(t, sp, `{"jobs":1,"max_fail":2}`)
	if status := waitCampaignDone(t, sp, id); status != "done" {
		t.Fatalf("campaign status = %q, want done", status)
	}

	stats := campaignStats(t, sp, id)
	fails := stats["fail"].(float64)
	if fails < 2 || fails >= simRunnable {
		t.Errorf("fail = %v, want at least 2 but fewer than %d", fails, simRunnable)
	}
}

func TestStopKillsWorkers(t *testing.T) {
	server, sim := getBinaries(t)
	sp := startServer(t, server, "GTESTSIM_SLEEP_MS=500")
	registerSim(t, sp, sim)

	id := startCampaign(t, sp, `{"jobs":1}`)

	status := doJSON(t, http.MethodDelete, sp.url+"/v1/campaigns/"+id+"?kill=true", "", nil)
	if status != 202 {
		t.Fatalf("DELETE campaign: status = %d, want 202", status)
	}

	start := time.Now()
	waitCampaignDone(t, sp, id)
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("kill took %v, expected a prompt stop", elapsed)
	}
}

func TestSecondCampaignConflicts(t *testing.T) {
	server, sim := getBinaries(t)
	sp := startServer(t, server, "GTESTSIM_SLEEP_MS=300")
	registerSim(t, sp, sim)

	id := startCampaign(t, sp, `{"jobs":1}`)

	if status := doJSON(t, http.MethodPost, sp.url+"/v1/campaigns", `{}`, nil); status != 409 {
		t.Errorf("second start: status = %d, want 409", status)
	}

	doJSON(t, http.MethodDelete, sp.url+"/v1/campaigns/"+id+"?kill=true", "", nil)
	waitCampaignDone(t, sp, id)
}
