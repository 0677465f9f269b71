package scheduler

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rcfuzz/rcfuzz/internal/policy"
	"github.com/rcfuzz/rcfuzz/internal/runlog"
)

// ExploitSubSliceDuration is the 60-second granule a focused fuzzer runs
// in during one Exploit round (spec.md §4.7).
const ExploitSubSliceDuration = 60 * time.Second

// FocusSubSliceDuration is the fixed granule used by Mode.IsFocus, which
// bypasses bandit/policy selection entirely (spec.md §4.8/§9).
const FocusSubSliceDuration = 300 * time.Second

// MaxConsecutiveFailures is the early-abort threshold: 5 consecutive
// failed sub-slices (>= 300s without progress) aborts a fuzzer's focus
// block early.
const MaxConsecutiveFailures = 5

// ExploitOnce runs one Exploit round (Thompson-sample -> allocate ->
// focus) and returns its summary. Dispatches to the Focus(fuzzer) variant
// when sc.Mode.IsFocus().
func ExploitOnce(ctx context.Context, sc *Context) (runlog.RoundSummary, error) {
	if sc.Mode.IsFocus() {
		return runFocusRound(ctx, sc)
	}
	return runExploitRound(ctx, sc)
}

func runExploitRound(ctx context.Context, sc *Context) (runlog.RoundSummary, error) {
	started := sc.Elapsed().Seconds()

	if err := sc.Sync.Sync(ctx, sc.Cfg.Target.Name, sc.Fuzzers, sc.Cfg.Scheduler.InputDir); err != nil {
		return runlog.RoundSummary{}, fmt.Errorf("exploit: sync: %w", err)
	}
	before, err := sc.Prober.RequireSnapshot(ctx, sc.Fuzzers)
	if err != nil {
		return runlog.RoundSummary{}, fmt.Errorf("exploit: before snapshot: %w", err)
	}

	selected := thompsonSelect(sc)

	alloc, err := policy.Allocate(selected, before, sc.Cfg.Scheduler.Jobs, sc.Cfg.Scheduler.ExploitTime.Seconds())
	if err != nil {
		return runlog.RoundSummary{}, fmt.Errorf("exploit: allocate: %w", err)
	}

	exploitTime := sc.Cfg.Scheduler.ExploitTime.Seconds()
	// focusTotal intentionally uses the full explore-time candidate set
	// (sc.Fuzzers), not len(alloc.Picked): the source this was distilled
	// from computes this way and over-budgets when picked is a strict
	// subset of the explored cohort. Retained deliberately; see the
	// scheduling design notes.
	focusSetSize := float64(len(sc.Fuzzers))

	for _, f := range alloc.Picked {
		share := alloc.Shares[f]
		focusTotal := exploitTime * focusSetSize * (share / sc.Cfg.Scheduler.Jobs)
		if err := runFocusBlock(ctx, sc, f, share, time.Duration(focusTotal*float64(time.Second))); err != nil {
			return runlog.RoundSummary{}, err
		}
		if sc.IsEnd() || ctx.Err() != nil {
			break
		}
	}

	if err := sc.Sync.Sync(ctx, sc.Cfg.Target.Name, sc.Fuzzers, sc.Cfg.Scheduler.InputDir); err != nil {
		return runlog.RoundSummary{}, fmt.Errorf("exploit: final sync: %w", err)
	}
	after, err := sc.Prober.RequireSnapshot(ctx, sc.Fuzzers)
	if err != nil {
		return runlog.RoundSummary{}, fmt.Errorf("exploit: after snapshot: %w", err)
	}

	return runlog.RoundSummary{
		StartedAt:    started,
		EndedAt:      sc.Elapsed().Seconds(),
		Picked:       alloc.Picked,
		FoundNewEdge: after.Global.Bitmap.Popcount() > before.Global.Bitmap.Popcount(),
	}, nil
}

// thompsonSelect draws beta(S+1,F+1) for every fuzzer and returns the
// fuzzers whose draw ranks in the top ceil(n/2) -- the reference quantile
// rule from spec.md §4.7.
func thompsonSelect(sc *Context) []string {
	type draw struct {
		fuzzer string
		value  float64
	}
	draws := make([]draw, 0, len(sc.Fuzzers))
	for _, f := range sc.Fuzzers {
		draws = append(draws, draw{fuzzer: f, value: sc.Arms[f].Sample()})
	}
	sort.Slice(draws, func(i, j int) bool { return draws[i].value > draws[j].value })

	n := int(math.Ceil(float64(len(draws)) / 2))
	selected := make([]string, 0, n)
	for i := 0; i < n && i < len(draws); i++ {
		selected = append(selected, draws[i].fuzzer)
	}
	return selected
}

// runFocusBlock runs fuzzer f alone at the given share for totalDuration,
// in ExploitSubSliceDuration sub-slices, aborting early after
// MaxConsecutiveFailures consecutive unproductive sub-slices.
func runFocusBlock(ctx context.Context, sc *Context, f string, share float64, totalDuration time.Duration) error {
	for _, other := range sc.Fuzzers {
		s := 0.0
		if other == f {
			s = share
		}
		if err := sc.CPU.SetShare(ctx, other, s); err != nil {
			return fmt.Errorf("exploit: set_share %q: %w", other, err)
		}
	}

	last, err := sc.Prober.RequireSnapshot(ctx, sc.Fuzzers)
	if err != nil {
		return fmt.Errorf("exploit: focus snapshot %q: %w", f, err)
	}

	remaining := totalDuration
	consecFail := 0
	for remaining > 0 && !sc.IsEnd() && ctx.Err() == nil {
		slice := remaining
		if slice > ExploitSubSliceDuration {
			slice = ExploitSubSliceDuration
		}
		SleepUntilOrCancel(ctx, sc, slice)
		remaining -= slice

		cur, err := sc.Prober.RequireSnapshot(ctx, sc.Fuzzers)
		if err != nil {
			return fmt.Errorf("exploit: focus snapshot %q: %w", f, err)
		}

		prevInfo, curInfo := last.PerFuzzer[f], cur.PerFuzzer[f]
		delta := curInfo.Bitmap.Popcount() - prevInfo.Bitmap.Popcount()
		newBugs := curInfo.UniqueBugs.Total > prevInfo.UniqueBugs.Total

		arm := sc.Arms[f]
		success := float64(delta) > arm.Theta || newBugs
		arm.Record(success)
		if success {
			consecFail = 0
		} else {
			consecFail++
		}

		last = cur

		if consecFail >= MaxConsecutiveFailures {
			return nil
		}
	}
	return nil
}

func runFocusRound(ctx context.Context, sc *Context) (runlog.RoundSummary, error) {
	started := sc.Elapsed().Seconds()

	if err := sc.Sync.Sync(ctx, sc.Cfg.Target.Name, sc.Fuzzers, sc.Cfg.Scheduler.InputDir); err != nil {
		return runlog.RoundSummary{}, fmt.Errorf("focus: sync: %w", err)
	}
	before, err := sc.Prober.RequireSnapshot(ctx, sc.Fuzzers)
	if err != nil {
		return runlog.RoundSummary{}, fmt.Errorf("focus: before snapshot: %w", err)
	}

	for _, other := range sc.Fuzzers {
		s := 0.0
		if other == sc.Mode.FocusFuzzer {
			s = sc.Cfg.Scheduler.Jobs
		}
		if err := sc.CPU.SetShare(ctx, other, s); err != nil {
			return runlog.RoundSummary{}, fmt.Errorf("focus: set_share %q: %w", other, err)
		}
	}
	SleepUntilOrCancel(ctx, sc, FocusSubSliceDuration)

	after, err := sc.Prober.RequireSnapshot(ctx, sc.Fuzzers)
	if err != nil {
		return runlog.RoundSummary{}, fmt.Errorf("focus: after snapshot: %w", err)
	}

	return runlog.RoundSummary{
		StartedAt:    started,
		EndedAt:      sc.Elapsed().Seconds(),
		Picked:       []string{sc.Mode.FocusFuzzer},
		FoundNewEdge: after.Global.Bitmap.Popcount() > before.Global.Bitmap.Popcount(),
	}, nil
}
