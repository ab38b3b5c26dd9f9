package sharding

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPlanSingleRepetitionSharding(t *testing.T) {
	got := Plan(10, 1, 4, 0)
	want := []Params{
		{Repeat: 1, ShardCount: 4, ShardIndex: 0},
		{Repeat: 1, ShardCount: 4, ShardIndex: 1},
		{Repeat: 1, ShardCount: 4, ShardIndex: 2},
		{Repeat: 1, ShardCount: 4, ShardIndex: 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Plan(10,1,4,0) mismatch (-want +got):\n%s", diff)
	}
}

// Repeating a single test many times must parallelize by repetition
// instead of sharding.
func TestPlanSingleTestManyRepetitions(t *testing.T) {
	got := Plan(1, 100, 4, 0)
	want := []Params{
		{Repeat: 25, ShardCount: 1, ShardIndex: 0},
		{Repeat: 25, ShardCount: 1, ShardIndex: 0},
		{Repeat: 25, ShardCount: 1, ShardIndex: 0},
		{Repeat: 25, ShardCount: 1, ShardIndex: 0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Plan(1,100,4,0) mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanFullSetJobs(t *testing.T) {
	got := Plan(10, 2, 4, 1)
	want := []Params{
		{Repeat: 2, ShardCount: 3, ShardIndex: 0},
		{Repeat: 2, ShardCount: 3, ShardIndex: 1},
		{Repeat: 2, ShardCount: 3, ShardIndex: 2},
		{Repeat: 2, ShardCount: 1, ShardIndex: 0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Plan(10,2,4,1) mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanDegenerate(t *testing.T) {
	got := Plan(0, 5, 4, 0)
	want := []Params{
		{Repeat: 5, ShardCount: 4, ShardIndex: 0},
		{Repeat: 5, ShardCount: 4, ShardIndex: 1},
		{Repeat: 5, ShardCount: 4, ShardIndex: 2},
		{Repeat: 5, ShardCount: 4, ShardIndex: 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Plan(0,5,4,0) mismatch (-want +got):\n%s", diff)
	}
}

// Every planned campaign must produce exactly tcCount*repCount expected
// results across its non-background workers.
func TestPlanExpectedResultsComplete(t *testing.T) {
	cases := []struct {
		tc, rep, jobs, fullSet int
	}{
		{10, 1, 4, 0},
		{10, 2, 4, 1},
		{1, 100, 4, 0},
		{7, 3, 5, 0},
		{100, 1, 16, 0},
		{3, 50, 8, 2},
		{13, 7, 6, 0},
	}
	for _, c := range cases {
		params := Plan(c.tc, c.rep, c.jobs, c.fullSet)
		if len(params) != c.jobs {
			t.Errorf("Plan(%d,%d,%d,%d) returned %d workers, want %d",
				c.tc, c.rep, c.jobs, c.fullSet, len(params), c.jobs)
			continue
		}
		sum := 0
		for _, p := range params[:c.jobs-c.fullSet] {
			sum += ExpectedResults(c.tc, p.Repeat, p.ShardCount, p.ShardIndex)
		}
		if want := c.tc * c.rep; sum != want {
			t.Errorf("Plan(%d,%d,%d,%d) expects %d results, want %d",
				c.tc, c.rep, c.jobs, c.fullSet, sum, want)
		}
	}
}

func TestExpectedResults(t *testing.T) {
	tests := []struct {
		tc, rep, shards, idx int
		want                 int
	}{
		{10, 2, 3, 0, 8},
		{10, 2, 3, 1, 6},
		{10, 2, 3, 2, 6},
		{10, 1, 1, 0, 10},
		{4, 3, 4, 3, 3},
		{0, 5, 2, 0, 0},
		{5, 1, 0, 0, 0},
	}
	for _, tt := range tests {
		if got := ExpectedResults(tt.tc, tt.rep, tt.shards, tt.idx); got != tt.want {
			t.Errorf("ExpectedResults(%d,%d,%d,%d) = %d, want %d",
				tt.tc, tt.rep, tt.shards, tt.idx, got, tt.want)
		}
	}
}

func TestPartitionsBounded(t *testing.T) {
	for _, part := range partitions(10, 4) {
		sum := 0
		for _, size := range part {
			sum += size
		}
		if sum != 4 {
			t.Errorf("partition %v sums to %d, want 4", part, sum)
		}
	}
}
