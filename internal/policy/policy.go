// Package policy implements the Contribution Policy (C5): given a
// candidate set of fuzzers and a coverage snapshot, decides which fuzzers
// are worth running this round and what CPU share each gets.
package policy

import (
	"sort"

	"github.com/rcfuzz/rcfuzz/internal/bitmap"
	"github.com/rcfuzz/rcfuzz/internal/probe"
)

// ExploitTimeThreshold is the minimum CPU-time budget (seconds) a fuzzer
// must be allocated to survive the drop-and-renormalize step.
const ExploitTimeThreshold = 20.0

// Allocation is the policy's decision for one round: which fuzzers survive
// and what CPU share each gets, in descending-share order.
type Allocation struct {
	Picked []string
	Shares map[string]float64
}

// Allocate runs the intersection-contribution policy over candidates using
// snapshot info, a total CPU budget of jobs, and the exploit round's
// planned per-fuzzer focus duration (exploitTime seconds, the same value
// used to compute each picked fuzzer's total focus budget downstream).
func Allocate(candidates []string, info probe.FuzzerInfo, jobs float64, exploitTime float64) (Allocation, error) {
	if len(candidates) == 0 {
		return Allocation{Shares: map[string]float64{}}, nil
	}

	intersection := info.PerFuzzer[candidates[0]].Bitmap
	for _, f := range candidates[1:] {
		var err error
		intersection, err = bitmap.Intersect(intersection, info.PerFuzzer[f].Bitmap)
		if err != nil {
			return Allocation{}, err
		}
	}

	contrib := make(map[string]int, len(candidates))
	total := 0
	for _, f := range candidates {
		d, err := bitmap.Diff(info.PerFuzzer[f].Bitmap, intersection)
		if err != nil {
			return Allocation{}, err
		}
		c := d.Popcount()
		contrib[f] = c
		total += c
	}

	if total == 0 {
		shares := make(map[string]float64, len(candidates))
		uniform := jobs / float64(len(candidates))
		for _, f := range candidates {
			shares[f] = uniform
		}
		return Allocation{Picked: append([]string(nil), candidates...), Shares: shares}, nil
	}

	// Tentative proportional assignment.
	tentative := make(map[string]float64, len(candidates))
	for _, f := range candidates {
		tentative[f] = jobs * float64(contrib[f]) / float64(total)
	}

	// Drop any fuzzer whose tentative CPU-time budget would fall below the
	// minimum slice floor.
	var survivors []string
	survivorTotal := 0
	for _, f := range candidates {
		budget := tentative[f] * exploitTime * float64(len(candidates))
		if budget >= ExploitTimeThreshold {
			survivors = append(survivors, f)
			survivorTotal += contrib[f]
		}
	}

	if len(survivors) == 0 || survivorTotal == 0 {
		shares := make(map[string]float64, len(candidates))
		uniform := jobs / float64(len(candidates))
		for _, f := range candidates {
			shares[f] = uniform
		}
		return Allocation{Picked: append([]string(nil), candidates...), Shares: shares}, nil
	}

	shares := make(map[string]float64, len(survivors))
	for _, f := range survivors {
		shares[f] = jobs * float64(contrib[f]) / float64(survivorTotal)
	}

	sort.Slice(survivors, func(i, j int) bool {
		return shares[survivors[i]] > shares[survivors[j]]
	})

	return Allocation{Picked: survivors, Shares: shares}, nil
}
