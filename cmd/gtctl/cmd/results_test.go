package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/seantiz/gtrunner/internal/model"
)

func TestResultsCommand_ListsAndFilters(t *testing.T) {
	resetViper()

	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/results" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotQuery = r.URL.Query()
		json.NewEncoder(w).Encode(resultsPage{
			Results: []*model.TestResult{
				{ID: 7, TestName: "Calc.Sub", Verdict: model.VerdictFail, FailFile: "calc_test.cc", FailLine: 7, DurationMS: 5, EndedAt: time.Now()},
			},
			Total: 1,
			Limit: 20,
		})
	}))
	defer server.Close()
	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"results", "--failed", "--test", "Calc.*", "--verdict", "fail,crash"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotQuery.Get("failed") != "true" {
		t.Errorf("expected failed=true, got %q", gotQuery.Get("failed"))
	}
	if gotQuery.Get("test") != "Calc.*" {
		t.Errorf("expected test pattern, got %q", gotQuery.Get("test"))
	}
	if got := gotQuery["verdict"]; len(got) != 2 || got[0] != "fail" || got[1] != "crash" {
		t.Errorf("expected two verdict params, got %v", got)
	}

	output := stdout.String()
	if !strings.Contains(output, "Calc.Sub") {
		t.Errorf("expected test name in output, got: %s", output)
	}
	if !strings.Contains(output, "calc_test.cc:7") {
		t.Errorf("expected failure location in output, got: %s", output)
	}
}

func TestResultsRmCommand_DeletesByID(t *testing.T) {
	resetViper()

	var gotBody struct {
		IDs         []int64 `json:"ids"`
		DeleteFiles bool    `json:"delete_files"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"deleted":2}`))
	}))
	defer server.Close()
	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"results", "rm", "3", "9", "--files"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gotBody.IDs) != 2 || gotBody.IDs[0] != 3 || gotBody.IDs[1] != 9 {
		t.Errorf("expected ids [3 9], got %v", gotBody.IDs)
	}
	if !gotBody.DeleteFiles {
		t.Error("expected delete_files=true")
	}
	if !strings.Contains(stdout.String(), "Deleted 2") {
		t.Errorf("expected deletion count in output, got: %s", stdout.String())
	}
}

func TestResultsRmCommand_RejectsBadID(t *testing.T) {
	resetViper()

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"results", "rm", "notanumber"})

	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for non-numeric id")
	}
}

func TestTraceCommand_PrintsRawOutput(t *testing.T) {
	resetViper()

	const trace = "[ RUN      ] Calc.Sub\ncalc_test.cc:7: Failure\n[  FAILED  ] Calc.Sub (5 ms)\n"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/results/7/trace" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(trace))
	}))
	defer server.Close()
	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"trace", "7"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stdout.String() != trace {
		t.Errorf("expected raw trace output, got: %q", stdout.String())
	}
}
