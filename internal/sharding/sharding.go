// Package sharding plans how a test campaign is split across worker
// processes. Plain GoogleTest sharding divides the test cases evenly
// into one shard per CPU slot, which degrades when a single test is
// repeated many times or the test count does not divide evenly. The
// planner instead enumerates ways to partition the slots into shard
// groups and distributes repetitions over them so the worst per-slot
// load is minimized. Repeating one test many times then uses no
// sharding at all, only parallel repetition.
package sharding

import "slices"

// Params holds the GoogleTest sharding parameters for one worker
// process: its repetition count and its shard within a shard group.
type Params struct {
	Repeat     int
	ShardCount int
	ShardIndex int
}

// Plan computes per-worker sharding parameters for running tcCount test
// cases repCount times on jobCount worker slots. The last fullSetJobs
// workers run the full test set unsharded with the full repetition
// count; they are intended as background jobs and are not part of the
// optimization. When any of the counts is zero the whole set runs as a
// single shard group.
func Plan(tcCount, repCount, jobCount, fullSetJobs int) []Params {
	var parts, reps []int
	if tcCount > 0 && repCount > 0 && jobCount > 0 && jobCount > fullSetJobs {
		parts, reps = repetitions(partitions(tcCount, jobCount-fullSetJobs), tcCount, repCount)
		for i := 0; i < fullSetJobs; i++ {
			parts = append(parts, 1)
			reps = append(reps, repCount)
		}
	} else {
		parts = []int{jobCount}
		reps = []int{repCount}
	}

	var out []Params
	for g, size := range parts {
		for idx := 0; idx < size; idx++ {
			out = append(out, Params{Repeat: reps[g], ShardCount: size, ShardIndex: idx})
		}
	}
	return out
}

// ExpectedResults returns the number of test case results a worker with
// the given parameters will produce. GoogleTest assigns tcCount divided
// by shardCount tests to each shard, one more for the first tcCount
// modulo shardCount shards.
func ExpectedResults(tcCount, repCount, shardCount, shardIndex int) int {
	if shardCount <= 0 {
		return 0
	}
	div := tcCount / shardCount
	rem := tcCount % shardCount
	if shardIndex < rem {
		div++
	}
	return repCount * div
}

// partitions enumerates the distinct ways to split cpuCount slots into
// shard groups. Candidate group sizes are the ceiling divisions of the
// test count; remainders recurse with the group size as the new bound
// so groups are emitted in non-increasing size order.
func partitions(tcCount, cpuCount int) [][]int {
	return partsSub(nil, cpuCount, tcCount, cpuCount)
}

func partsSub(pre []int, cpuCount, tcCount, maxCPU int) [][]int {
	var parts [][]int
	prev := 0
	for div := 1; ; div++ {
		cval := (tcCount + div - 1) / div
		if cval != prev && cval <= maxCPU {
			if cval > 1 {
				cnt := cpuCount / cval
				part := slices.Clone(pre)
				for i := 0; i < cnt; i++ {
					part = append(part, cval)
				}
				if rem := cpuCount - cval*cnt; rem > 0 {
					parts = append(parts, partsSub(part, rem, tcCount, min(rem, cval))...)
				} else {
					parts = append(parts, part)
				}
			} else {
				part := slices.Clone(pre)
				for i := 0; i < cpuCount; i++ {
					part = append(part, 1)
				}
				parts = append(parts, part)
			}
		}
		prev = cval
		if cval <= 1 {
			break
		}
	}
	if len(parts) == 0 {
		parts = append(parts, append(slices.Clone(pre), cpuCount))
	}
	return parts
}

// repetitions distributes repCount repetitions over the groups of each
// candidate partition and returns the partition minimizing the maximum
// per-slot load (tests per shard times repetitions).
func repetitions(parts [][]int, tcCount, repCount int) ([]int, []int) {
	minLoad := tcCount * repCount
	var bestPart, bestReps []int
	for _, part := range parts {
		tcs := make([]int, len(part))
		for i, size := range part {
			tcs[i] = (tcCount + size - 1) / size
		}

		// Estimate per-group repetitions proportional to the inverse
		// per-shard test count, then hand out the remainder one at a
		// time to the group with the lowest projected load.
		est := make([]float64, len(tcs))
		var sumEst float64
		for i, n := range tcs {
			est[i] = float64(tcs[0]) / float64(n)
			sumEst += est[i]
		}
		reps := make([]int, len(tcs))
		load := make([]int, len(tcs))
		assigned := 0
		for i := range tcs {
			reps[i] = int(float64(repCount) / sumEst * est[i])
			assigned += reps[i]
			load[i] = tcs[i] * reps[i]
		}
		for r := assigned; r < repCount; r++ {
			minIdx := 0
			minVal := load[0] + tcs[0]
			for i := 1; i < len(tcs); i++ {
				if load[i]+tcs[i] < minVal {
					minIdx = i
					minVal = load[i] + tcs[i]
				}
			}
			load[minIdx] = minVal
			reps[minIdx]++
		}

		maxLoad := 0
		for _, v := range load {
			if v > maxLoad {
				maxLoad = v
			}
		}
		if maxLoad < minLoad || bestPart == nil {
			minLoad = maxLoad
			bestPart = slices.Clone(part)
			bestReps = reps
		}
	}
	return bestPart, bestReps
}
